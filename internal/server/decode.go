package server

import (
	"encoding/json"

	"github.com/firi/hlasm-langserver/internal/rpc"
)

// decoded is the dialect-agnostic view of an inbound message the
// dispatcher works from, regardless of whether the wire bytes were
// JSON-RPC 2.0 or DAP {seq,type,...}.
type decoded struct {
	kind    rpc.Kind
	method  string
	id      rpc.ID
	params  json.RawMessage
	result  json.RawMessage
	isErr   bool
	errCode int
	errMsg  string
}

func decodeLSP(raw json.RawMessage) decoded {
	kind, env := rpc.Classify(raw)
	d := decoded{kind: kind, method: env.Method, params: env.Params, result: env.Result}
	if env.ID != nil {
		d.id = *env.ID
	}
	if env.Error != nil {
		d.isErr = true
		var e struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		json.Unmarshal(env.Error, &e)
		d.errCode = e.Code
		d.errMsg = e.Message
	}
	return d
}

type dapWire struct {
	Seq        int64           `json:"seq"`
	Type       string          `json:"type"`
	Command    string          `json:"command"`
	Arguments  json.RawMessage `json:"arguments"`
	RequestSeq int64           `json:"request_seq"`
	Success    bool            `json:"success"`
	Body       json.RawMessage `json:"body"`
	Message    string          `json:"message"`
}

func decodeDAP(raw json.RawMessage) decoded {
	var w dapWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return decoded{kind: rpc.KindInvalid}
	}
	switch w.Type {
	case "request":
		idRaw, _ := json.Marshal(w.Seq)
		return decoded{kind: rpc.KindRequest, method: w.Command, id: rpc.NewID(idRaw), params: w.Arguments}
	case "response":
		idRaw, _ := json.Marshal(w.RequestSeq)
		d := decoded{kind: rpc.KindResponse, method: w.Command, id: rpc.NewID(idRaw), result: w.Body}
		if !w.Success {
			d.isErr = true
			d.errMsg = w.Message
		}
		return d
	default:
		return decoded{kind: rpc.KindInvalid}
	}
}
