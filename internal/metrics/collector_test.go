package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterAndGauge(t *testing.T) {
	r := NewRegistry()
	r.Inc("airbot_chat_requests_total")
	r.Inc("airbot_chat_requests_total")
	r.Add("airbot_chat_requests_total", 3)
	r.SetGauge("airbot_sse_clients", 2)

	if got := r.Value("airbot_chat_requests_total"); got != 5 {
		t.Errorf("counter: got %d, want 5", got)
	}
	if got := r.Value("airbot_never_touched"); got != 0 {
		t.Errorf("untouched counter: got %d", got)
	}
}

func TestExpositionFormat(t *testing.T) {
	r := NewRegistry()
	r.Inc("airbot_chat_failures_total")
	r.SetGauge("airbot_sse_clients", 1)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE airbot_chat_failures_total counter",
		"airbot_chat_failures_total 1",
		"# TYPE airbot_sse_clients gauge",
		"airbot_sse_clients 1",
		"airbot_uptime_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q:\n%s", want, body)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type: got %q", ct)
	}
}
