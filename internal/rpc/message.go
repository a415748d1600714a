// Package rpc implements the framed JSON-RPC transport described in
// spec.md §4.1 (C1): a header-framed byte stream in one direction, a
// stream of parsed JSON messages in the other. It also carries the small
// set of message-shape helpers (spec.md §3's Data Model) that every other
// component needs to classify a decoded message.
//
// Grounded on the teacher's internal/lsp/jsonrpc.go Transport type (header
// loop, Content-Length parsing, io.ReadFull body read, output-mutex
// serialized writes) generalized from a synchronous request/response
// client into the bidirectional, predicate-routable channel spec.md
// requires.
package rpc

import "encoding/json"

// ID is a JSON-RPC request id, kept as raw JSON bytes so a numeric id
// round-trips byte-identical and a string id is never silently reinterpreted
// as a number. spec.md §3 requires id values compare by JSON value equality
// and stay byte-equivalent through the whole response path.
type ID struct {
	raw json.RawMessage
}

// NewID wraps an already-encoded JSON scalar (a number or a string) as an ID.
func NewID(raw json.RawMessage) ID { return ID{raw: append(json.RawMessage(nil), raw...)} }

// IsZero reports whether this ID was never set (e.g. a notification has no id).
func (id ID) IsZero() bool { return len(id.raw) == 0 }

// Raw returns the id's original JSON bytes.
func (id ID) Raw() json.RawMessage { return id.raw }

// Equal compares two ids by JSON value, not by their serialized bytes, so
// "7" and "7" match even if formatted with different whitespace, but 7 and
// "7" (number vs string) never match.
func (id ID) Equal(other ID) bool {
	if id.IsZero() || other.IsZero() {
		return id.IsZero() == other.IsZero()
	}
	var a, b interface{}
	if json.Unmarshal(id.raw, &a) != nil {
		return false
	}
	if json.Unmarshal(other.raw, &b) != nil {
		return false
	}
	return jsonEqual(a, b)
}

func jsonEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		return false
	}
}

// String renders the id for logging.
func (id ID) String() string {
	if id.IsZero() {
		return "<none>"
	}
	return string(id.raw)
}

// MarshalJSON lets ID participate directly in envelope structs.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return id.raw, nil
}

// UnmarshalJSON captures the raw id bytes without reinterpreting them.
func (id *ID) UnmarshalJSON(data []byte) error {
	id.raw = append(json.RawMessage(nil), data...)
	return nil
}

// Envelope is the generic shape every JSON-RPC-ish message on the wire
// conforms to (spec.md §3). Method dialect-specific envelopes (LSP 2.0,
// DAP seq/type) are built on top of this minimal shared view.
type Envelope struct {
	Method string          `json:"method,omitempty"`
	ID     *ID             `json:"id,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// Kind classifies a decoded message per spec.md §3.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindNotification
	KindResponse
)

// Classify inspects a raw decoded message and reports its Kind along with
// a best-effort Envelope view of it.
func Classify(raw json.RawMessage) (Kind, Envelope) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return KindInvalid, Envelope{}
	}
	switch {
	case env.Method != "" && env.ID != nil:
		return KindRequest, env
	case env.Method != "":
		return KindNotification, env
	case env.ID != nil && (env.Result != nil || env.Error != nil):
		return KindResponse, env
	default:
		return KindInvalid, env
	}
}

// IsOptionalMethod reports whether a method name is in the "$/" namespace,
// per spec.md §3: a notification with such a name MAY be ignored, and an
// unrecognized request with such a name MUST still be answered with
// MethodNotFound rather than silently dropped.
func IsOptionalMethod(method string) bool {
	return len(method) >= 2 && method[0] == '$' && method[1] == '/'
}
