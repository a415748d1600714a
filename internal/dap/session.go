// Package dap implements the DAP session manager described in spec.md
// §4.6 (C6): one worker goroutine and one inbound queue per tunneled
// debug session, multiplexed over the single LSP channel via envelope
// method names hlasm/dap_tunnel (registration) and
// hlasm/dap_tunnel/<id> (per-session traffic).
//
// Grounded on the teacher's per-workspace daemon goroutine-and-channel
// pairing in internal/daemon/daemon.go, generalized from one daemon per
// project root to one session per numeric id, and on
// original_source's dap/dap_session.h for the wrap/unwrap envelope shape.
package dap

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/firi/hlasm-langserver/internal/logger"
	"github.com/firi/hlasm-langserver/internal/queue"
	"github.com/firi/hlasm-langserver/internal/router"
	"github.com/firi/hlasm-langserver/internal/server"
)

const tunnelPrefix = "hlasm/dap_tunnel"

// Session is one live DAP conversation tunneled through the LSP channel.
// It owns an inbound queue, a worker goroutine, and an embedded C5 server
// configured for the DAP dialect.
type Session struct {
	ID     int64
	inbox  *queue.Blocking[json.RawMessage]
	srv    *server.Server
	done   chan struct{}
	liveMu sync.Mutex
	live   bool
}

// tunnelEnvelope is the wire shape a session's outbound traffic is
// wrapped in, and incoming per-session traffic is unwrapped from.
type tunnelEnvelope struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

func sessionMethod(id int64) string {
	return fmt.Sprintf("%s/%d", tunnelPrefix, id)
}

// sessionSink wraps a session's outbound DAP traffic back into a tunnel
// envelope addressed to that session, and writes it to the shared
// outbound channel (spec.md: "rebuilds the envelope ... writes to the
// shared outbound channel").
type sessionSink struct {
	id  int64
	out router.Sink
}

func (s *sessionSink) Write(msg json.RawMessage) {
	env := tunnelEnvelope{Jsonrpc: "2.0", Method: sessionMethod(s.id), Params: msg}
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	s.out.Write(raw)
}

// newSession builds a session wired to an embedded DAP-dialect server and
// starts its worker goroutine.
func newSession(id int64, out router.Sink, log logger.Logger, registerFeatures func(*server.Server)) *Session {
	sess := &Session{
		ID:    id,
		inbox: queue.New[json.RawMessage](),
		done:  make(chan struct{}),
		live:  true,
	}
	sess.srv = server.New(server.DialectDAP, &sessionSink{id: id, out: out}, log)
	sess.srv.OnShutdown = sess.markExited
	sess.srv.OnExit = sess.markExited
	if registerFeatures != nil {
		registerFeatures(sess.srv)
	}
	go sess.run()
	return sess
}

func (s *Session) markExited() {
	s.liveMu.Lock()
	s.live = false
	s.liveMu.Unlock()
}

// Live reports whether the session's embedded DAP server has not yet
// signaled disconnect/exit. A session manager consults this to decide
// which sessions are "no longer running" on the next registration.
func (s *Session) Live() bool {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	return s.live
}

// Deliver unwraps an already-routed tunnel envelope and feeds the raw DAP
// message to this session's queue (spec.md: "forwarded (write) to that
// session's inbound queue").
func (s *Session) Deliver(raw json.RawMessage) {
	var env tunnelEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	s.inbox.Push(env.Params)
}

func (s *Session) run() {
	defer close(s.done)
	for {
		msg, ok := s.inbox.Pop()
		if !ok {
			return
		}
		s.srv.MessageReceived(msg)
	}
}

// Close terminates the session's queue and waits for its worker to exit.
func (s *Session) Close() {
	s.inbox.Terminate()
	<-s.done
}
