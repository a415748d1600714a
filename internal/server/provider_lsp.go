package server

import (
	"encoding/json"
	"sync/atomic"

	"github.com/firi/hlasm-langserver/internal/router"
	"github.com/firi/hlasm-langserver/internal/rpc"
)

// lspProvider builds JSON-RPC 2.0 envelopes, grounded on the teacher's
// Request/Response/Notification structs in internal/lsp/jsonrpc.go.
type lspProvider struct {
	out    router.Sink
	nextID int64 // atomic, outbound request id counter
}

func newLSPProvider(out router.Sink) *lspProvider {
	return &lspProvider{out: out}
}

type lspEnvelope struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  interface{}     `json:"params,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *lspError       `json:"error,omitempty"`
}

type lspError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (p *lspProvider) write(env lspEnvelope) error {
	env.Jsonrpc = "2.0"
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	p.out.Write(raw)
	return nil
}

func (p *lspProvider) Respond(id rpc.ID, _ string, result interface{}) error {
	if result == nil {
		result = json.RawMessage("null")
	}
	return p.write(lspEnvelope{ID: id.Raw(), Result: result})
}

func (p *lspProvider) RespondError(id rpc.ID, _ string, code int, message string, data interface{}) error {
	return p.write(lspEnvelope{ID: id.Raw(), Error: &lspError{Code: code, Message: message, Data: data}})
}

func (p *lspProvider) Notify(method string, params interface{}) error {
	return p.write(lspEnvelope{Method: method, Params: params})
}

func (p *lspProvider) Request(method string, params interface{}) (rpc.ID, error) {
	n := atomic.AddInt64(&p.nextID, 1)
	idRaw, _ := json.Marshal(n)
	id := rpc.NewID(idRaw)
	err := p.write(lspEnvelope{ID: id.Raw(), Method: method, Params: params})
	return id, err
}
