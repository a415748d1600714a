package router

import (
	"encoding/json"
	"testing"
)

func msg(method string) json.RawMessage {
	return json.RawMessage(`{"jsonrpc":"2.0","method":"` + method + `"}`)
}

// TestRouterDeterminism checks spec.md §8: for two predicates that both
// match, the sink registered first always wins.
func TestRouterDeterminism(t *testing.T) {
	r := New()
	var first, second bool

	r.Register(MethodHasPrefix("a"), SinkFunc(func(json.RawMessage) { first = true }))
	r.Register(func(json.RawMessage) bool { return true }, SinkFunc(func(json.RawMessage) { second = true }))

	r.Write(msg("abc"))

	if !first || second {
		t.Fatalf("expected first-registered matching sink to win, got first=%v second=%v", first, second)
	}
}

func TestRouterFallsBackToDefault(t *testing.T) {
	r := New()
	var hitDefault bool
	r.Register(MethodEquals("nope"), SinkFunc(func(json.RawMessage) { t.Fatal("should not match") }))
	r.SetDefault(SinkFunc(func(json.RawMessage) { hitDefault = true }))

	r.Write(msg("anything"))

	if !hitDefault {
		t.Fatal("expected default sink to receive unmatched message")
	}
}

func TestRouterDropsWithoutDefault(t *testing.T) {
	r := New()
	r.Register(MethodEquals("nope"), SinkFunc(func(json.RawMessage) { t.Fatal("should not match") }))
	r.Write(msg("anything")) // must not panic
}

func TestMethodHasPrefix(t *testing.T) {
	p := MethodHasPrefix("hlasm/dap_tunnel/")
	if !p(msg("hlasm/dap_tunnel/3")) {
		t.Fatal("expected prefix match")
	}
	if p(msg("hlasm/dap_tunnel")) {
		t.Fatal("registration method itself must not match the per-session prefix")
	}
}
