package server

import (
	"encoding/json"

	"github.com/firi/hlasm-langserver/internal/rpc"
)

// TelemetryLevel controls whether a method's duration is timed and
// reported, per spec.md §3's "Method registration" data model.
type TelemetryLevel int

const (
	TelemetryNone TelemetryLevel = iota
	TelemetryTimed
)

// RequestHandler answers a request. It must eventually call exactly one of
// Server.Respond / Server.RespondError for id, unless the request was
// cancelled (in which case the server overrides the eventual reply with
// the Canceled error regardless of what the handler does) -- spec.md §3's
// server state invariant.
type RequestHandler func(s *Server, id rpc.ID, params json.RawMessage)

// NotificationHandler handles a notification. It may emit zero or more
// outbound messages via s.Notify/s.Request but never replies to an id,
// since notifications have none.
type NotificationHandler func(s *Server, params json.RawMessage)

// Method is a single entry in the method table (spec.md §3). Exactly one
// of Request/Notification is set, matching the handler style the name is
// registered under.
type Method struct {
	Request      RequestHandler
	Notification NotificationHandler
	Telemetry    TelemetryLevel
}

// Dialect picks the outbound envelope shape a Server's ResponseProvider
// builds -- spec.md §4.5's "two variants of one ResponseProvider
// capability (LSP, DAP)".
type Dialect int

const (
	DialectLSP Dialect = iota
	DialectDAP
)

// ResponseProvider is the dialect-specific envelope builder every Server
// sends replies through, per spec.md §9's redesign note: feature code
// binds to this capability, never to the dialect directly.
type ResponseProvider interface {
	// Respond sends a successful reply to request id. method is ignored
	// by the LSP provider and used as the DAP "command" field by the DAP
	// provider (DAP responses echo the command they answer).
	Respond(id rpc.ID, method string, result interface{}) error

	// RespondError sends a failure reply to request id.
	RespondError(id rpc.ID, method string, code int, message string, data interface{}) error

	// Notify sends a one-way message: an LSP notification, or a DAP
	// event when method is used as the event name.
	Notify(method string, params interface{}) error

	// Request allocates a fresh outbound id, writes a request envelope,
	// and returns the id used, for the caller to correlate the eventual
	// response with.
	Request(method string, params interface{}) (rpc.ID, error)
}
