package collector

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/miradorstack/mirador-healing/internal/models"
)

func TestEndpointMonitorClassifiesResults(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		switch req.URL.Path {
		case "/api/products":
			return statusResponse(http.StatusOK), nil
		case "/api/checkout":
			if req.Method != http.MethodPost {
				t.Fatalf("expected POST, got %s", req.Method)
			}
			return statusResponse(http.StatusCreated), nil
		case "/api/search":
			time.Sleep(15 * time.Millisecond)
			return statusResponse(http.StatusOK), nil
		case "/api/cart":
			return statusResponse(http.StatusInternalServerError), nil
		}
		return nil, errors.New("connection reset")
	})

	monitor := NewEndpointMonitor("http://shop.local/", []EndpointConfig{
		{Path: "/api/products"},
		{Path: "/api/checkout", Method: "post", ExpectedStatus: http.StatusCreated},
		{Path: "/api/search", SlowAfter: 5 * time.Millisecond},
		{Path: "/api/cart"},
		{Path: "/api/gone"},
	}, client, nil)

	results := monitor.Check(context.Background())
	want := []models.EndpointState{
		models.EndpointHealthy,
		models.EndpointHealthy,
		models.EndpointSlow,
		models.EndpointError,
		models.EndpointError,
	}
	if len(results) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(results))
	}
	for i, w := range want {
		if results[i].Status != w {
			t.Fatalf("%s: expected %s, got %s (%s)", results[i].Path, w, results[i].Status, results[i].ErrorMessage)
		}
	}
	if results[3].StatusCode != http.StatusInternalServerError || results[3].ExpectedStatus != http.StatusOK {
		t.Fatalf("unexpected status codes: %+v", results[3])
	}
	if results[4].ResponseTimeMs != SentinelLatencyMs {
		t.Fatalf("expected sentinel latency on transport error, got %.1f", results[4].ResponseTimeMs)
	}
	if got := monitor.ErrorRate(); got != 40 {
		t.Fatalf("expected 40%% error rate, got %.1f", got)
	}
	if len(monitor.Last()) != len(want) {
		t.Fatalf("latest results not retained")
	}
}

func TestEndpointMonitorErrorRateWithoutChecks(t *testing.T) {
	monitor := NewEndpointMonitor("http://shop.local", nil, nil, nil)
	if got := monitor.ErrorRate(); got != 0 {
		t.Fatalf("expected zero error rate, got %.1f", got)
	}
	if got := monitor.Check(context.Background()); len(got) != 0 {
		t.Fatalf("expected no results, got %+v", got)
	}
}
