package dap

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/firi/hlasm-langserver/internal/logger"
	"github.com/firi/hlasm-langserver/internal/router"
)

type capturingSink struct {
	mu  sync.Mutex
	msg []json.RawMessage
}

func (c *capturingSink) Write(msg json.RawMessage) {
	c.mu.Lock()
	c.msg = append(c.msg, append(json.RawMessage(nil), msg...))
	c.mu.Unlock()
}

func (c *capturingSink) find(substr string) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.msg {
		if containsStr(string(m), substr) {
			return m, true
		}
	}
	return nil, false
}

func containsStr(haystack, needle string) bool {
	return len(needle) == 0 || (len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func assertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func waitFor(t *testing.T, sink *capturingSink, substr string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m, ok := sink.find(substr); ok {
			return m
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for message containing %q", substr)
	return nil
}

func TestSessionIDFromMethod(t *testing.T) {
	id, ok := SessionIDFromMethod("hlasm/dap_tunnel/3")
	assertEqual(t, ok, true)
	assertEqual(t, id, int64(3))

	_, ok = SessionIDFromMethod("hlasm/dap_tunnel")
	assertEqual(t, ok, false)

	_, ok = SessionIDFromMethod("textDocument/didOpen")
	assertEqual(t, ok, false)
}

func TestRegistrationSpawnsSessionAndTunnelsInitialize(t *testing.T) {
	sink := &capturingSink{}
	mgr := NewSessionManager(sink, &logger.NullLogger{}, nil)
	r := router.New()
	mgr.RegisterOn(r)

	r.Write([]byte(`{"jsonrpc":"2.0","method":"hlasm/dap_tunnel","params":{"session_id":3}}`))
	assertEqual(t, mgr.Count(), 1)

	r.Write([]byte(`{"jsonrpc":"2.0","method":"hlasm/dap_tunnel/3","params":{"type":"request","seq":1,"command":"initialize","arguments":{"pathFormat":"path","linesStartAt1":true,"columnsStartAt1":true}}}`))

	resp := waitFor(t, sink, `"command":"initialize"`)
	var env struct {
		Method string `json:"method"`
		Params struct {
			Type       string `json:"type"`
			RequestSeq int    `json:"request_seq"`
			Success    bool   `json:"success"`
			Command    string `json:"command"`
		} `json:"params"`
	}
	if err := json.Unmarshal(resp, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	assertEqual(t, env.Method, "hlasm/dap_tunnel/3")
	assertEqual(t, env.Params.Type, "response")
	assertEqual(t, env.Params.RequestSeq, 1)
	assertEqual(t, env.Params.Success, true)

	waitFor(t, sink, `"event":"initialized"`)
}

func TestRegistrationIgnoredWhileSessionStillLive(t *testing.T) {
	sink := &capturingSink{}
	mgr := NewSessionManager(sink, &logger.NullLogger{}, nil)

	mgr.Register(5)
	first := mgr.sessions[5]
	mgr.Register(5)
	assertEqual(t, mgr.sessions[5] == first, true)
}

func TestRegistrationReplacesDeadSession(t *testing.T) {
	sink := &capturingSink{}
	mgr := NewSessionManager(sink, &logger.NullLogger{}, nil)

	mgr.Register(7)
	first := mgr.sessions[7]
	r := router.New()
	mgr.RegisterOn(r)
	r.Write([]byte(`{"jsonrpc":"2.0","method":"hlasm/dap_tunnel/7","params":{"type":"request","seq":1,"command":"disconnect"}}`))
	waitFor(t, sink, `"command":"disconnect"`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && first.Live() {
		time.Sleep(5 * time.Millisecond)
	}
	assertEqual(t, first.Live(), false)

	mgr.Register(7)
	second := mgr.sessions[7]
	assertEqual(t, second == first, false)
}

func TestCloseJoinsAllSessions(t *testing.T) {
	sink := &capturingSink{}
	mgr := NewSessionManager(sink, &logger.NullLogger{}, nil)
	mgr.Register(1)
	mgr.Register(2)
	mgr.Close()
	assertEqual(t, mgr.Count(), 0)
}
