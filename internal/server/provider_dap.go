package server

import (
	"encoding/json"
	"strconv"
	"sync/atomic"

	"github.com/firi/hlasm-langserver/internal/router"
	"github.com/firi/hlasm-langserver/internal/rpc"
)

// dapProvider builds Debug Adapter Protocol envelopes ({seq,type,...}).
// The core tracks and increments seq monotonically per DAP server and
// echoes the incoming seq as request_seq, per spec.md §6.
type dapProvider struct {
	out router.Sink
	seq int64 // atomic
}

func newDAPProvider(out router.Sink) *dapProvider {
	return &dapProvider{out: out}
}

type dapResponseEnvelope struct {
	Seq        int64       `json:"seq"`
	Type       string      `json:"type"`
	RequestSeq int64       `json:"request_seq"`
	Success    bool        `json:"success"`
	Command    string      `json:"command"`
	Message    string      `json:"message,omitempty"`
	Body       interface{} `json:"body,omitempty"`
}

type dapEventEnvelope struct {
	Seq   int64       `json:"seq"`
	Type  string      `json:"type"`
	Event string      `json:"event"`
	Body  interface{} `json:"body,omitempty"`
}

type dapRequestEnvelope struct {
	Seq       int64       `json:"seq"`
	Type      string      `json:"type"`
	Command   string      `json:"command"`
	Arguments interface{} `json:"arguments,omitempty"`
}

func idToSeq(id rpc.ID) (int64, bool) {
	n, err := strconv.ParseInt(string(id.Raw()), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (p *dapProvider) write(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.out.Write(raw)
	return nil
}

func (p *dapProvider) Respond(id rpc.ID, method string, result interface{}) error {
	reqSeq, _ := idToSeq(id)
	return p.write(dapResponseEnvelope{
		Seq:        atomic.AddInt64(&p.seq, 1),
		Type:       "response",
		RequestSeq: reqSeq,
		Success:    true,
		Command:    method,
		Body:       result,
	})
}

func (p *dapProvider) RespondError(id rpc.ID, method string, _ int, message string, _ interface{}) error {
	reqSeq, _ := idToSeq(id)
	return p.write(dapResponseEnvelope{
		Seq:        atomic.AddInt64(&p.seq, 1),
		Type:       "response",
		RequestSeq: reqSeq,
		Success:    false,
		Command:    method,
		Message:    message,
	})
}

func (p *dapProvider) Notify(event string, body interface{}) error {
	return p.write(dapEventEnvelope{
		Seq:   atomic.AddInt64(&p.seq, 1),
		Type:  "event",
		Event: event,
		Body:  body,
	})
}

func (p *dapProvider) Request(command string, args interface{}) (rpc.ID, error) {
	n := atomic.AddInt64(&p.seq, 1)
	idRaw, _ := json.Marshal(n)
	err := p.write(dapRequestEnvelope{Seq: n, Type: "request", Command: command, Arguments: args})
	return rpc.NewID(idRaw), err
}
