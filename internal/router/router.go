// Package router implements the predicate-routed inbound fan-out described
// in spec.md §4.3 (C3). Grounded on original_source's message_router.h
// shape (ordered predicate/sink list, first match wins, optional default)
// and generalized from the teacher's exact-method-string
// RegisterNotificationHandler map in internal/lsp/jsonrpc.go into
// arbitrary predicates, since spec.md requires content-based routing (DAP
// tunnel ids, broker response methods) rather than a fixed method table.
package router

import "encoding/json"

// Sink receives a routed message. Implemented by the LSP server, DAP
// session manager, external-file broker, and virtual-file/external-config
// sinks.
type Sink interface {
	Write(msg json.RawMessage)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(msg json.RawMessage)

func (f SinkFunc) Write(msg json.RawMessage) { f(msg) }

// Predicate reports whether msg should be routed to the sink it's paired
// with. Predicates are expected to be cheap -- typically a method-string
// comparison -- since they run on the single main reader goroutine for
// every inbound message (spec.md §5).
type Predicate func(msg json.RawMessage) bool

type entry struct {
	predicate Predicate
	sink      Sink
}

// Router is the sole inbound fan-out point (spec.md §4.3). It is not safe
// for concurrent registration and dispatch: all Register calls are
// expected to happen during C10 wiring, before the read loop starts
// (spec.md §5's "method table... immutable afterward" rule applies here
// too).
type Router struct {
	entries []entry
	def     Sink
}

// New returns an empty router with no default sink.
func New() *Router {
	return &Router{}
}

// Register adds a (predicate, sink) pair. Entries are tried in
// registration order; spec.md §8 requires that when two predicates both
// match, the one registered first always wins.
func (r *Router) Register(predicate Predicate, sink Sink) {
	r.entries = append(r.entries, entry{predicate: predicate, sink: sink})
}

// SetDefault installs the sink used when no registered predicate matches.
func (r *Router) SetDefault(sink Sink) {
	r.def = sink
}

// Write delivers msg to the first matching sink, or the default sink if
// none matches, or drops it silently if there is no default either.
func (r *Router) Write(msg json.RawMessage) {
	for _, e := range r.entries {
		if e.predicate(msg) {
			e.sink.Write(msg)
			return
		}
	}
	if r.def != nil {
		r.def.Write(msg)
	}
}

// MethodEquals builds a Predicate matching an exact method name, the
// common case noted in spec.md §4.3.
func MethodEquals(method string) Predicate {
	return func(msg json.RawMessage) bool {
		return extractMethod(msg) == method
	}
}

// MethodHasPrefix builds a Predicate matching messages whose method starts
// with prefix (e.g. "hlasm/dap_tunnel/"). internal/dap does not use it; its
// per-session predicate parses the session id with SessionIDFromMethod.
func MethodHasPrefix(prefix string) Predicate {
	return func(msg json.RawMessage) bool {
		m := extractMethod(msg)
		return len(m) >= len(prefix) && m[:len(prefix)] == prefix
	}
}

func extractMethod(msg json.RawMessage) string {
	var probe struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(msg, &probe); err != nil {
		return ""
	}
	return probe.Method
}
