package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerRendersCountersAndSnapshots(t *testing.T) {
	ObserveHTTPRequest("chat", "POST", 200, 120*time.Millisecond)
	ObserveHTTPRequest("chat", "POST", 500, 40*time.Millisecond)
	RegisterSnapshot("jobs", func() map[string]float64 {
		return map[string]float64{"pending": 2, "succeeded": 5}
	})

	recorder := httptest.NewRecorder()
	Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	body := recorder.Body.String()
	for _, want := range []string{
		`healthcost_http_requests_total{handler="chat",method="POST",code="200"} 1`,
		`healthcost_http_request_errors_total{handler="chat",method="POST"} 1`,
		"healthcost_jobs_pending 2",
		"healthcost_jobs_succeeded 5",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing metric line %q in output:\n%s", want, body)
		}
	}
}
