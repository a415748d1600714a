package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	SetQueueDepth(3)
	ObserveDispatch("initialize", 0.002)
	SetLiveDAPSessions(2)
	SetBrokerPending("external_file", 1)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	text := string(body)

	for _, want := range []string{
		"hlasmls_requestmgr_queue_depth",
		"hlasmls_server_dispatch_latency_seconds",
		"hlasmls_dap_live_sessions",
		"hlasmls_externalfile_pending_requests",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected metrics output to contain %q", want)
		}
	}
}

func TestConnectionIDsAreUnique(t *testing.T) {
	a := ConnectionID()
	b := ConnectionID()
	if a == b {
		t.Fatalf("expected distinct connection ids, got %q twice", a)
	}
}
