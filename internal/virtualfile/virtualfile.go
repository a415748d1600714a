// Package virtualfile implements the two small sinks described in
// spec.md §4.8 (C8): a synchronous virtual-file content reply, and the
// external-configuration broker (the inverse direction of C7's external
// file requests).
//
// Grounded on original_source's
// language_server/src/virtual_file_provider.cpp (the id/result/error
// shape for get_file_content) and on the JSON-RPC request/response
// exchange observed for external_configuration_request in
// language_server/test/regress_test.cpp -- unlike C7's custom
// params.id scheme, an external-configuration reply is a genuine
// JSON-RPC response (top-level id, no "method"), so it rides the
// existing outbound-request correlation already built into
// internal/server.Server rather than a second Correlator; only the
// externalfile.Error shape is shared between the two brokers.
package virtualfile

import (
	"encoding/json"

	"github.com/firi/hlasm-langserver/internal/externalfile"
	"github.com/firi/hlasm-langserver/internal/router"
	"github.com/firi/hlasm-langserver/internal/server"
)

const getFileContentMethod = "get_file_content"

// ContentProvider answers a virtual-file id with its content, or
// ("", false) if the id is unknown/empty -- the Go stand-in for
// workspace_manager::get_virtual_file_content.
type ContentProvider func(id uint64) (content string, ok bool)

// ContentSink answers get_file_content requests synchronously on the
// same channel they arrived on.
type ContentSink struct {
	out      router.Sink
	provider ContentProvider
}

// NewContentSink builds a sink that writes replies to out, resolving ids
// via provider.
func NewContentSink(out router.Sink, provider ContentProvider) *ContentSink {
	return &ContentSink{out: out, provider: provider}
}

type contentRequest struct {
	ID     json.RawMessage `json:"id"`
	Params struct {
		ID uint64 `json:"id"`
	} `json:"params"`
}

type contentReply struct {
	ID     json.RawMessage `json:"id"`
	Result interface{}     `json:"result,omitempty"`
	Error  interface{}     `json:"error,omitempty"`
}

// Write implements router.Sink, matching original_source's
// virtual_file_provider::write.
func (s *ContentSink) Write(msg json.RawMessage) {
	var req contentRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return
	}
	content, ok := s.provider(req.Params.ID)
	var reply contentReply
	reply.ID = req.ID
	if !ok || content == "" {
		reply.Error = map[string]interface{}{"code": server.CodeFileNotFound, "message": "File not found"}
	} else {
		reply.Result = map[string]interface{}{"content": content}
	}
	raw, err := json.Marshal(reply)
	if err != nil {
		return
	}
	s.out.Write(raw)
}

// RegisterOn installs this sink on r, filtering for exact
// get_file_content messages.
func (s *ContentSink) RegisterOn(r *router.Router) {
	r.Register(router.MethodEquals(getFileContentMethod), s)
}

// ConfigBroker issues external_configuration_request on behalf of the
// parser-library backend and correlates the reply via srv's existing
// outbound-request bookkeeping.
type ConfigBroker struct {
	srv *server.Server
}

// NewConfigBroker wraps srv (the LSP server, whose channel the
// request/response pair travels over).
func NewConfigBroker(srv *server.Server) *ConfigBroker {
	return &ConfigBroker{srv: srv}
}

// RequestConfiguration asks the client for url's configuration. Not-found
// maps to the well-known {0,"Not found"} error (spec.md §4.8); a reply
// that is not a JSON string maps to invalid_json.
func (b *ConfigBroker) RequestConfiguration(url string, onResult func(content string, errInfo *externalfile.Error)) {
	_, err := b.srv.Request("external_configuration_request", map[string]interface{}{"url": url},
		func(result json.RawMessage) {
			var content string
			if err := json.Unmarshal(result, &content); err != nil {
				onResult("", &externalfile.Error{Code: server.CodeInvalidJSON, Message: "invalid_json"})
				return
			}
			onResult(content, nil)
		},
		func(code int, message string) {
			onResult("", &externalfile.Error{Code: code, Message: message})
		},
	)
	if err != nil {
		onResult("", &externalfile.Error{Code: server.CodeMessageSendFailure, Message: "message_send"})
	}
}
