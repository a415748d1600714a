package externalfile

import (
	"encoding/json"

	"github.com/firi/hlasm-langserver/internal/router"
	"github.com/firi/hlasm-langserver/internal/server"
)

const (
	requestMethod  = "external_file_request"
	ResponseMethod = "external_file_response"

	opReadFile      = "read_file"
	opListDirectory = "list_directory"
)

// Error is the shape a resolver callback receives on failure: either the
// client's own {code,msg} error, or one of this broker's local codes
// (message_send, invalid_json).
type Error struct {
	Code    int
	Message string
}

// DirectoryListing is the successful result of ListDirectory.
type DirectoryListing struct {
	MemberURLs []string
}

// Broker implements read_file/list_directory as outbound
// request/response pairs, per spec.md §4.7.
type Broker struct {
	out        router.Sink
	correlator *Correlator
}

// NewBroker builds a broker that writes requests to out.
func NewBroker(out router.Sink) *Broker {
	return &Broker{out: out, correlator: NewCorrelator()}
}

// RegisterWorker registers a worker (e.g. a parsing goroutine) that may
// call ReadFile/ListDirectory, returning a handle it must Close when it
// stops doing so.
func (b *Broker) RegisterWorker(wakeup func()) *WorkerHandle {
	return b.correlator.RegisterWorker(wakeup)
}

type outboundRequest struct {
	ID  uint64 `json:"id"`
	Op  string `json:"op"`
	URL string `json:"url"`
}

type rpcEnvelope struct {
	Jsonrpc string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

func (b *Broker) enqueue(worker WorkerID, op, url string, resolve func(isErr bool, payload json.RawMessage)) bool {
	id := b.correlator.NextID()
	if !b.correlator.AddPending(id, worker, resolve) {
		return false
	}
	b.out.Write(mustMarshal(rpcEnvelope{
		Jsonrpc: "2.0",
		Method:  requestMethod,
		Params:  outboundRequest{ID: id, Op: op, URL: url},
	}))
	return true
}

func mustMarshal(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return raw
}

// ReadFile asks the client to read url and reports the content (or an
// error) to resolve. resolve is called at most once; it is not called if
// the worker's handle is closed before the response arrives.
func (b *Broker) ReadFile(worker WorkerID, url string, resolve func(content string, errInfo *Error)) {
	ok := b.enqueue(worker, opReadFile, url, func(isErr bool, payload json.RawMessage) {
		if isErr {
			resolve("", extractClientError(payload))
			return
		}
		var content string
		if err := json.Unmarshal(payload, &content); err != nil {
			resolve("", &Error{Code: server.CodeInvalidJSON, Message: "invalid_json"})
			return
		}
		resolve(content, nil)
	})
	if !ok {
		resolve("", &Error{Code: server.CodeMessageSendFailure, Message: "message_send"})
	}
}

// ListDirectory asks the client to list url's members.
func (b *Broker) ListDirectory(worker WorkerID, url string, resolve func(result DirectoryListing, errInfo *Error)) {
	ok := b.enqueue(worker, opListDirectory, url, func(isErr bool, payload json.RawMessage) {
		if isErr {
			resolve(DirectoryListing{}, extractClientError(payload))
			return
		}
		var body struct {
			MemberURLs []string `json:"member_urls"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			resolve(DirectoryListing{}, &Error{Code: server.CodeInvalidJSON, Message: "invalid_json"})
			return
		}
		resolve(DirectoryListing{MemberURLs: body.MemberURLs}, nil)
	})
	if !ok {
		resolve(DirectoryListing{}, &Error{Code: server.CodeMessageSendFailure, Message: "message_send"})
	}
}

func extractClientError(payload json.RawMessage) *Error {
	var e struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(payload, &e); err != nil || e.Msg == "" {
		return &Error{Code: server.CodeUnknownBrokerError, Message: "Unknown error"}
	}
	return &Error{Code: e.Code, Message: e.Msg}
}

// Write implements router.Sink. It is meant to be registered against the
// router with router.MethodEquals(ResponseMethod) as the predicate.
func (b *Broker) Write(msg json.RawMessage) {
	var env struct {
		Params struct {
			ID    uint64          `json:"id"`
			Data  json.RawMessage `json:"data"`
			Error json.RawMessage `json:"error"`
		} `json:"params"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return
	}
	switch {
	case env.Params.Error != nil:
		b.correlator.Resolve(env.Params.ID, true, env.Params.Error)
	case env.Params.Data != nil:
		b.correlator.Resolve(env.Params.ID, false, env.Params.Data)
	default:
		b.correlator.Resolve(env.Params.ID, true, json.RawMessage("{}"))
	}
}

// PendingCount reports the number of requests awaiting a response, for
// C13's broker pending-count gauge.
func (b *Broker) PendingCount() int { return b.correlator.PendingCount() }

// RegisterOn installs this broker on r, filtering for exact
// external_file_response messages (spec.md's "Filtering predicate").
func (b *Broker) RegisterOn(r *router.Router) {
	r.Register(router.MethodEquals(ResponseMethod), b)
}
