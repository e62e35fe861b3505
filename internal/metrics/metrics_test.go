package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOutcomeCounterIncrements(t *testing.T) {
	counter := OutcomesTotal.WithLabelValues("EURUSD", "skipped", "no_signal")
	before := testutil.ToFloat64(counter)
	counter.Inc()
	if got := testutil.ToFloat64(counter); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}
}

func TestHandlerExposesSeries(t *testing.T) {
	Probability.WithLabelValues("USDJPY", "buy").Set(72)

	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `fxbot_probability{side="buy",symbol="USDJPY"} 72`) {
		t.Fatalf("expected probability series in output")
	}
}
