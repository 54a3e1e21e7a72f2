package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConnectionGauge(t *testing.T) {
	before := testutil.ToFloat64(connectionsActive)

	ConnectionOpened()
	ConnectionOpened()
	ConnectionClosed()

	if got := testutil.ToFloat64(connectionsActive) - before; got != 1 {
		t.Errorf("Expected active connections to grow by 1, got %v", got)
	}
}

func TestRequestServed(t *testing.T) {
	counter := requestsTotal.WithLabelValues("GET", "200")
	before := testutil.ToFloat64(counter)

	RequestServed("GET", 200, 2)
	ObserveHandler("GET", time.Millisecond)

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("Expected one request recorded, got %v", got)
	}
}

func TestConnectionError(t *testing.T) {
	for _, reason := range []string{ReasonParse, ReasonHandler, ReasonFatal, ReasonWrite, ReasonInternal} {
		t.Run(reason, func(t *testing.T) {
			counter := connectionErrors.WithLabelValues(reason)
			before := testutil.ToFloat64(counter)
			ConnectionError(reason)
			if got := testutil.ToFloat64(counter) - before; got != 1 {
				t.Errorf("Expected counter for %s to grow by 1, got %v", reason, got)
			}
		})
	}
}

func TestHandler(t *testing.T) {
	ConnectionOpened()
	defer ConnectionClosed()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "scriptserve_connections_total") {
		t.Error("Expected scriptserve_connections_total in exposition")
	}
}
