package server

import (
	"encoding/json"

	"github.com/firi/hlasm-langserver/internal/rpc"
)

// registerBuiltins wires the handful of methods the core itself owns
// regardless of dialect or feature modules: the LSP/DAP lifecycle pair
// and $/cancelRequest (spec.md §4.5/§4.11).
func (s *Server) registerBuiltins() {
	if s.dialect == DialectDAP {
		s.Register("initialize", Method{Request: handleDAPInitialize})
		s.Register("disconnect", Method{Request: handleDAPDisconnect})
		return
	}

	s.Register("initialize", Method{Request: handleLSPInitialize})
	s.Register("shutdown", Method{Request: handleShutdown})
	s.Register("exit", Method{Notification: handleExit})
	s.Register("$/cancelRequest", Method{Notification: handleCancelRequest})
}

type cancelParams struct {
	ID json.RawMessage `json:"id"`
}

func handleCancelRequest(srv *Server, params json.RawMessage) {
	var p cancelParams
	if err := json.Unmarshal(params, &p); err != nil || p.ID == nil {
		return
	}
	srv.cancelRequest(rpc.NewID(p.ID))
}

func handleLSPInitialize(srv *Server, id rpc.ID, _ json.RawMessage) {
	var caps interface{} = map[string]interface{}{}
	if srv.CapabilitiesFunc != nil {
		caps = srv.CapabilitiesFunc()
	}
	srv.Respond(id, "initialize", map[string]interface{}{"capabilities": caps})
	srv.Notify("initialized", map[string]interface{}{})
	if srv.OnInitialized != nil {
		srv.OnInitialized()
	}
}

func handleShutdown(srv *Server, id rpc.ID, _ json.RawMessage) {
	// A shutdown that arrives after exit is answered but not recorded, so
	// the exit-code decision made at the first exit stays fixed.
	if !srv.exitReceived.Get() {
		srv.shutdownReceived.Set()
	}
	srv.Respond(id, "shutdown", nil)
	if srv.OnShutdown != nil {
		srv.OnShutdown()
	}
}

func handleExit(srv *Server, _ json.RawMessage) {
	srv.exitReceived.Set()
	if srv.OnExit != nil {
		srv.OnExit()
	}
}

func handleDAPInitialize(srv *Server, id rpc.ID, _ json.RawMessage) {
	var caps interface{} = map[string]interface{}{}
	if srv.CapabilitiesFunc != nil {
		caps = srv.CapabilitiesFunc()
	}
	srv.Respond(id, "initialize", caps)
	srv.Notify("initialized", nil)
	if srv.OnInitialized != nil {
		srv.OnInitialized()
	}
}

func handleDAPDisconnect(srv *Server, id rpc.ID, _ json.RawMessage) {
	srv.shutdownReceived.Set()
	srv.exitReceived.Set()
	srv.Respond(id, "disconnect", map[string]interface{}{})
	if srv.OnShutdown != nil {
		srv.OnShutdown()
	}
	if srv.OnExit != nil {
		srv.OnExit()
	}
}
