package server

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/firi/hlasm-langserver/internal/logger"
	"github.com/firi/hlasm-langserver/internal/rpc"
)

// capturingSink records every message written to it, in order.
type capturingSink struct {
	mu  sync.Mutex
	msg []json.RawMessage
}

func (c *capturingSink) Write(msg json.RawMessage) {
	c.mu.Lock()
	c.msg = append(c.msg, append(json.RawMessage(nil), msg...))
	c.mu.Unlock()
}

func (c *capturingSink) last() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msg) == 0 {
		return nil
	}
	var v map[string]interface{}
	json.Unmarshal(c.msg[len(c.msg)-1], &v)
	return v
}

func (c *capturingSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msg)
}

func assertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestUnknownMethodRespondsMethodNotFound(t *testing.T) {
	sink := &capturingSink{}
	s := New(DialectLSP, sink, &logger.NullLogger{})

	s.MessageReceived([]byte(`{"jsonrpc":"2.0","id":1,"method":"frobnicate","params":{}}`))

	last := sink.last()
	errField, ok := last["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", last)
	}
	assertEqual(t, errField["code"], float64(CodeMethodNotFound))
}

func TestShutdownThenExitYieldsZero(t *testing.T) {
	sink := &capturingSink{}
	s := New(DialectLSP, sink, &logger.NullLogger{})

	s.MessageReceived([]byte(`{"jsonrpc":"2.0","id":48,"method":"shutdown"}`))
	s.MessageReceived([]byte(`{"jsonrpc":"2.0","method":"exit"}`))

	assertEqual(t, s.ExitCode(), 0)
}

func TestExitBeforeShutdownYieldsOne(t *testing.T) {
	sink := &capturingSink{}
	s := New(DialectLSP, sink, &logger.NullLogger{})

	s.MessageReceived([]byte(`{"jsonrpc":"2.0","method":"exit"}`))

	assertEqual(t, s.ExitCode(), 1)
}

func TestExitTwiceKeepsFirstDecision(t *testing.T) {
	sink := &capturingSink{}
	s := New(DialectLSP, sink, &logger.NullLogger{})

	s.MessageReceived([]byte(`{"jsonrpc":"2.0","method":"exit"}`))
	assertEqual(t, s.ExitCode(), 1)
	s.MessageReceived([]byte(`{"jsonrpc":"2.0","id":1,"method":"shutdown"}`))
	s.MessageReceived([]byte(`{"jsonrpc":"2.0","method":"exit"}`))

	// shutdown arrived only after the first exit, so the first decision
	// (exit code 1) still stands after the second exit.
	assertEqual(t, s.ExitCode(), 1)
}

func TestCancellationOverridesEventualReply(t *testing.T) {
	sink := &capturingSink{}
	s := New(DialectLSP, sink, &logger.NullLogger{})

	invalidated := make(chan struct{}, 1)
	id := rpc.NewID([]byte("7"))
	s.RegisterCancellableRequest(id, func() { invalidated <- struct{}{} })

	s.MessageReceived([]byte(`{"jsonrpc":"2.0","method":"$/cancelRequest","params":{"id":7}}`))

	select {
	case <-invalidated:
	case <-time.After(time.Second):
		t.Fatal("invalidator never ran")
	}

	s.Respond(id, "someMethod", map[string]interface{}{"ok": true})

	last := sink.last()
	errField, ok := last["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected Canceled error envelope, got %v", last)
	}
	assertEqual(t, errField["code"], float64(CodeCancelled))
}

func TestNormalCompletionClearsCancelRegistry(t *testing.T) {
	sink := &capturingSink{}
	s := New(DialectLSP, sink, &logger.NullLogger{})

	id := rpc.NewID([]byte("9"))
	s.RegisterCancellableRequest(id, func() {})
	s.UnregisterCancellableRequest(id)

	s.Respond(id, "someMethod", map[string]interface{}{"ok": true})

	last := sink.last()
	if _, isErr := last["error"]; isErr {
		t.Fatalf("expected success envelope, got %v", last)
	}
}

func TestInitializeRespondsThenNotifiesInitialized(t *testing.T) {
	sink := &capturingSink{}
	s := New(DialectLSP, sink, &logger.NullLogger{})
	s.CapabilitiesFunc = func() interface{} {
		return map[string]interface{}{"hoverProvider": true}
	}

	s.MessageReceived([]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))

	if sink.count() != 2 {
		t.Fatalf("expected 2 outbound messages, got %d", sink.count())
	}
}

func TestOutboundRequestCorrelatesResponse(t *testing.T) {
	sink := &capturingSink{}
	s := New(DialectLSP, sink, &logger.NullLogger{})

	gotReply := make(chan json.RawMessage, 1)
	id, err := s.Request("workspace/configuration", map[string]interface{}{}, func(result json.RawMessage) {
		gotReply <- result
	}, func(code int, message string) {})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	reply := fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":{"x":1}}`, string(id.Raw()))
	s.MessageReceived([]byte(reply))

	select {
	case r := <-gotReply:
		var v map[string]interface{}
		json.Unmarshal(r, &v)
		assertEqual(t, v["x"], float64(1))
	case <-time.After(time.Second):
		t.Fatal("onReply never called")
	}
}

func TestPanicInHandlerBecomesInternalError(t *testing.T) {
	sink := &capturingSink{}
	s := New(DialectLSP, sink, &logger.NullLogger{})
	s.Register("boom", Method{Request: func(s *Server, id rpc.ID, params json.RawMessage) {
		panic("kaboom")
	}})

	s.MessageReceived([]byte(`{"jsonrpc":"2.0","id":3,"method":"boom","params":{}}`))

	last := sink.last()
	errField, ok := last["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", last)
	}
	assertEqual(t, errField["code"], float64(CodeInternalError))
}

func TestDAPDisconnectSetsBothFlags(t *testing.T) {
	sink := &capturingSink{}
	s := New(DialectDAP, sink, &logger.NullLogger{})

	s.MessageReceived([]byte(`{"seq":1,"type":"request","command":"disconnect"}`))

	assertEqual(t, s.ShutdownReceived(), true)
	assertEqual(t, s.ExitReceived(), true)
}
