// Package server implements the server skeleton described in spec.md §4.5
// (C5): method table, request dispatch, outbound request/response
// correlation, the cancellation registry, and LSP/DAP lifecycle gating.
// Grounded on the teacher's Transport request/notification handling in
// internal/lsp/jsonrpc.go (outbound id allocation, pending-response
// tracking) and on original_source's dispatcher.h/lsp_dispatcher.cpp +
// dap/dap_server.cpp for the two-ResponseProvider split.
package server

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/firi/hlasm-langserver/internal/logger"
	"github.com/firi/hlasm-langserver/internal/router"
	"github.com/firi/hlasm-langserver/internal/rpc"
)

// pendingCall is an outstanding outbound request this server is waiting on
// a response for (spec.md §4.5's request/on_reply/on_error).
type pendingCall struct {
	onReply func(result json.RawMessage)
	onError func(code int, message string)
}

// Server is shared by the LSP flavor (main channel) and the DAP flavor
// (embedded inside each dap.Session). Which envelope shape it speaks is
// fixed at construction via Dialect.
type Server struct {
	dialect  Dialect
	provider ResponseProvider
	log      logger.Logger

	telemetrySink router.Sink // optional extra recipient of telemetry_info, e.g. a metrics collector

	methodsMu sync.RWMutex
	methods   map[string]Method

	pendingMu sync.Mutex
	pending   map[string]pendingCall // keyed by id.String()

	cancelMu    sync.Mutex
	cancellable map[string]func() // keyed by id.String()
	cancelled   map[string]bool   // ids whose invalidator already fired

	shutdownReceived boolFlag
	exitReceived     boolFlag

	// CapabilitiesFunc, if set, is called by the built-in "initialize"
	// handler to produce the capabilities object. Aggregating feature
	// capabilities is explicitly a feature-module concern per spec.md §9's
	// open question; C5 only provides the seam.
	CapabilitiesFunc func() interface{}

	// OnInitialized, if set, runs after the initialize response (and, for
	// LSP, the "initialized" notification) has been sent.
	OnInitialized func()

	// OnShutdown / OnExit let wiring observe lifecycle transitions (e.g.
	// to drive the request manager's FinishServerRequests).
	OnShutdown func()
	OnExit     func()

	// DispatchObserver, if set, is called after every dispatched
	// request/notification with its method name and wall-clock duration,
	// independent of per-method telemetry (spec.md §4.10/C13's dispatch
	// latency histogram).
	DispatchObserver func(method string, seconds float64)
}

// boolFlag is a tiny sticky latch: spec.md requires shutdown_received is
// "set... and never cleared".
type boolFlag struct {
	mu  sync.Mutex
	set bool
}

func (f *boolFlag) Set() {
	f.mu.Lock()
	f.set = true
	f.mu.Unlock()
}
func (f *boolFlag) Get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}

// New builds a Server of the given dialect, writing outbound messages to
// out (the shared rpc.Channel for LSP, or a session's wrapping sink for
// DAP).
func New(dialect Dialect, out router.Sink, log logger.Logger) *Server {
	if log == nil {
		log = &logger.NullLogger{}
	}
	var provider ResponseProvider
	if dialect == DialectDAP {
		provider = newDAPProvider(out)
	} else {
		provider = newLSPProvider(out)
	}
	s := &Server{
		dialect:     dialect,
		provider:    provider,
		log:         log,
		methods:     make(map[string]Method),
		pending:     make(map[string]pendingCall),
		cancellable: make(map[string]func()),
		cancelled:   make(map[string]bool),
	}
	s.registerBuiltins()
	return s
}

// SetTelemetrySink installs an additional recipient for telemetry_info
// notifications (spec.md §4.10: "Registers the telemetry broker as the
// LSP server's telemetry sink").
func (s *Server) SetTelemetrySink(sink router.Sink) { s.telemetrySink = sink }

// Register adds or replaces a method table entry. Intended to be called
// during wiring, before the read loop starts (spec.md §5: the method
// table is "populated before the reader loop starts and treated as
// immutable afterward" -- the mutex here is defense-in-depth, not a
// sanctioned hot-path mutation path).
func (s *Server) Register(name string, m Method) {
	s.methodsMu.Lock()
	s.methods[name] = m
	s.methodsMu.Unlock()
}

func (s *Server) lookup(name string) (Method, bool) {
	s.methodsMu.RLock()
	defer s.methodsMu.RUnlock()
	m, ok := s.methods[name]
	return m, ok
}

// MessageReceived dispatches a single decoded inbound message, per
// spec.md §4.5. It satisfies requestmgr.Executor.
func (s *Server) MessageReceived(raw json.RawMessage) {
	var d decoded
	if s.dialect == DialectDAP {
		d = decodeDAP(raw)
	} else {
		d = decodeLSP(raw)
	}

	switch d.kind {
	case rpc.KindResponse:
		s.handleResponse(d)
	case rpc.KindRequest:
		s.dispatch(d, true)
	case rpc.KindNotification:
		s.dispatch(d, false)
	default:
		s.log.Error("server: unparseable message: %s", string(raw))
	}
}

func (s *Server) handleResponse(d decoded) {
	key := d.id.String()
	s.pendingMu.Lock()
	call, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	s.pendingMu.Unlock()
	if !ok {
		return // unsolicited or already-handled response, ignored
	}
	if d.isErr {
		if call.onError != nil {
			call.onError(d.errCode, d.errMsg)
		}
		return
	}
	if call.onReply != nil {
		call.onReply(d.result)
	}
}

func (s *Server) dispatch(d decoded, isRequest bool) {
	method, ok := s.lookup(d.method)
	if !ok {
		s.handleUnregistered(d, isRequest)
		return
	}

	if isRequest && method.Request == nil {
		// Registered only as a notification handler, but a request came
		// in with an id -- spec.md: "if handler is request-style and id
		// is missing, log+telemetry and drop" is the mirror case; this is
		// its counterpart, treated the same way (log, drop, no reply).
		s.log.Error("server: method %q is notification-style but called as a request", d.method)
		s.telemeter(d.method, "error_type=request_style_mismatch")
		return
	}
	if !isRequest && method.Notification == nil {
		s.log.Error("server: method %q is request-style but called as a notification", d.method)
		s.telemeter(d.method, "error_type=notification_style_mismatch")
		return
	}

	start := time.Now()
	s.invoke(d, method)
	elapsed := time.Since(start)
	if s.DispatchObserver != nil {
		s.DispatchObserver(d.method, elapsed.Seconds())
	}
	if method.Telemetry == TelemetryTimed {
		s.emitTelemetry(d.method, elapsed, nil)
	}
}

func (s *Server) handleUnregistered(d decoded, isRequest bool) {
	optional := rpc.IsOptionalMethod(d.method)
	if isRequest {
		// Both "$/..." and ordinary unknown requests answer MethodNotFound
		// (spec.md §4.5/§8 scenario 1).
		err := NewError(CodeMethodNotFound, "MethodNotFound")
		s.provider.RespondError(d.id, d.method, err.Code, err.Message, err.Data)
		return
	}
	// Notification.
	if optional {
		return // "$/..." notifications MAY be ignored
	}
	s.log.Info("server: unknown notification method %q", d.method)
	s.telemeter(d.method, "error_type=method_not_found")
}

// invoke runs the handler, recovering any panic at the boundary and
// converting it to an internal-error response (requests) or a log entry
// (notifications) -- spec.md §9's "Exceptions across handler boundaries".
func (s *Server) invoke(d decoded, method Method) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("server: handler for %q panicked: %v", d.method, r)
			if method.Request != nil {
				err := NewError(CodeInternalError, fmt.Sprintf("internal error: %v", r))
				s.provider.RespondError(d.id, d.method, err.Code, err.Message, err.Data)
			}
		}
	}()
	if method.Request != nil {
		method.Request(s, d.id, d.params)
	} else {
		method.Notification(s, d.params)
	}
}

func (s *Server) telemeter(method, errorType string) {
	s.emitTelemetry(method, 0, map[string]interface{}{"error_type": errorType})
}

func (s *Server) emitTelemetry(method string, dur time.Duration, metrics map[string]interface{}) {
	payload := map[string]interface{}{
		"method":       method,
		"duration_sec": dur.Seconds(),
	}
	if metrics != nil {
		payload["metrics"] = metrics
	}
	s.provider.Notify("telemetry_info", payload)
	if s.telemetrySink != nil {
		if raw, err := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "method": "telemetry_info", "params": payload}); err == nil {
			s.telemetrySink.Write(raw)
		}
	}
}

// --- Reply surface used by handlers (and by feature modules via the same Server pointer) ---

// Respond sends a successful terminal reply to id, unless id was
// cancelled, in which case the Canceled error is sent instead
// (spec.md §7's cancellation-becomes-a-wire-error rule).
func (s *Server) Respond(id rpc.ID, method string, result interface{}) {
	if s.consumeCancelled(id) {
		err := NewError(CodeCancelled, "Canceled")
		s.provider.RespondError(id, method, err.Code, err.Message, err.Data)
		return
	}
	s.provider.Respond(id, method, result)
}

// RespondError sends a failure reply to id, still overridden by a pending
// cancellation for the same reason as Respond.
func (s *Server) RespondError(id rpc.ID, method string, code int, message string, data interface{}) {
	if s.consumeCancelled(id) {
		err := NewError(CodeCancelled, "Canceled")
		s.provider.RespondError(id, method, err.Code, err.Message, err.Data)
		return
	}
	s.provider.RespondError(id, method, code, message, data)
}

// Notify sends a one-way message (LSP notification / DAP event).
func (s *Server) Notify(method string, params interface{}) {
	s.provider.Notify(method, params)
}

// Request sends an outbound request and remembers the callbacks until a
// correlated response arrives via MessageReceived.
func (s *Server) Request(method string, params interface{}, onReply func(json.RawMessage), onError func(code int, message string)) (rpc.ID, error) {
	id, err := s.provider.Request(method, params)
	if err != nil {
		return id, err
	}
	s.pendingMu.Lock()
	s.pending[id.String()] = pendingCall{onReply: onReply, onError: onError}
	s.pendingMu.Unlock()
	return id, nil
}

// --- Cancellation registry (spec.md §4.5) ---

// RegisterCancellableRequest stores invalidator for id. $/cancelRequest
// with that id invokes it and removes the entry; so does a normal
// completion via Unregister.
func (s *Server) RegisterCancellableRequest(id rpc.ID, invalidator func()) {
	s.cancelMu.Lock()
	s.cancellable[id.String()] = invalidator
	s.cancelMu.Unlock()
}

// UnregisterCancellableRequest removes id's entry on normal completion.
func (s *Server) UnregisterCancellableRequest(id rpc.ID) {
	key := id.String()
	s.cancelMu.Lock()
	delete(s.cancellable, key)
	delete(s.cancelled, key)
	s.cancelMu.Unlock()
}

// cancelRequest is invoked by the built-in $/cancelRequest handler.
func (s *Server) cancelRequest(id rpc.ID) {
	key := id.String()
	s.cancelMu.Lock()
	invalidator, ok := s.cancellable[key]
	if ok {
		delete(s.cancellable, key)
		s.cancelled[key] = true
	}
	s.cancelMu.Unlock()
	if ok && invalidator != nil {
		invalidator()
	}
}

// consumeCancelled reports whether id was cancelled, clearing the mark so
// it is consumed exactly once by the eventual reply.
func (s *Server) consumeCancelled(id rpc.ID) bool {
	key := id.String()
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if s.cancelled[key] {
		delete(s.cancelled, key)
		return true
	}
	return false
}

// --- Lifecycle state exposed to wiring ---

func (s *Server) ShutdownReceived() bool { return s.shutdownReceived.Get() }
func (s *Server) ExitReceived() bool     { return s.exitReceived.Get() }

// ExitCode implements spec.md §3/§8's shutdown-gating rule: 0 iff shutdown
// was received before exit; 1 otherwise. shutdownReceived is sticky and a
// shutdown arriving after exit is not recorded, so the result is stable
// across a repeated exit.
func (s *Server) ExitCode() int {
	if s.shutdownReceived.Get() {
		return 0
	}
	return 1
}
