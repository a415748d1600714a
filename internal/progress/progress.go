// Package progress implements the single rotating work-done-progress
// token state machine described in spec.md §4.9 (C9), for LSP clients
// that advertise window.workDoneProgress.
//
// Grounded on the teacher's sequential numbered-request style in
// internal/lsp/jsonrpc.go (allocate id, remember state, react to the
// correlated reply) generalized into the invalid/requested/valid cycle
// original_source drives via workspace_manager's parsing_started
// callback (see parser_library/include/workspace_manager.h).
package progress

import (
	"encoding/json"
	"sync"

	"github.com/firi/hlasm-langserver/internal/server"
)

type state int

const (
	stateInvalid state = iota
	stateRequested
	stateValid
)

const (
	createMethod = "window/workDoneProgress/create"
	notifyMethod = "$/progress"
	defaultTitle = "Parsing"
)

// Tracker owns the single rotating progress token. It is safe for
// concurrent ParsingStarted calls.
type Tracker struct {
	srv *server.Server

	mu         sync.Mutex
	state      state
	token      int64
	nextToken  int64
	pendingURI string
	enabled    bool
}

// New builds a Tracker that issues its requests/notifications through
// srv. Progress is disabled until SetEnabled(true) is called. Nothing in
// this module calls it: the built-in initialize handler does not read the
// client's window.workDoneProgress capability, and wiring leaves the
// tracker disabled.
func New(srv *server.Server) *Tracker {
	return &Tracker{srv: srv, nextToken: 1}
}

// SetEnabled toggles whether ParsingStarted does anything at all.
func (t *Tracker) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

// ParsingStarted drives the state machine for one parsing-lifecycle
// event: uri == "" means "parsing ended"; any other value means
// "parsing (re)started for uri".
func (t *Tracker) ParsingStarted(uri string) {
	t.mu.Lock()
	if !t.enabled {
		t.mu.Unlock()
		return
	}

	switch t.state {
	case stateInvalid:
		if uri == "" {
			t.mu.Unlock() // end without a matching begin is dropped
			return
		}
		token := t.nextToken
		t.nextToken++
		t.token = token
		t.pendingURI = uri
		t.state = stateRequested
		t.mu.Unlock()
		t.requestCreate(token)

	case stateRequested:
		t.mu.Unlock() // duplicate begin while a create is in flight, suppressed

	case stateValid:
		token := t.token
		if uri == "" {
			t.state = stateInvalid
			t.mu.Unlock()
			t.srv.Notify(notifyMethod, progressParams(token, map[string]interface{}{"kind": "end"}))
			return
		}
		t.mu.Unlock()
		t.srv.Notify(notifyMethod, progressParams(token, map[string]interface{}{"kind": "report", "message": uri}))
	}
}

func (t *Tracker) requestCreate(token int64) {
	_, err := t.srv.Request(createMethod, map[string]interface{}{"token": token},
		func(result json.RawMessage) { t.onCreateSuccess(token) },
		func(code int, message string) { t.onCreateFailure(token) },
	)
	if err != nil {
		t.onCreateFailure(token)
	}
}

func (t *Tracker) onCreateSuccess(token int64) {
	t.mu.Lock()
	if t.state != stateRequested || t.token != token {
		t.mu.Unlock() // superseded by a later cycle, ignore
		return
	}
	t.state = stateValid
	uri := t.pendingURI
	t.mu.Unlock()

	t.srv.Notify(notifyMethod, progressParams(token, map[string]interface{}{
		"kind":    "begin",
		"title":   defaultTitle,
		"message": uri,
	}))
}

func (t *Tracker) onCreateFailure(token int64) {
	t.mu.Lock()
	if t.state == stateRequested && t.token == token {
		t.state = stateInvalid
	}
	t.mu.Unlock()
}

func progressParams(token int64, value map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"token": token, "value": value}
}
