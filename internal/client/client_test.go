package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjstillabower/weather-lookup-service/internal/observability"
)

const testAPIKey = "test-access-key-12345"

func TestWeatherstackClient_Lookup_Success(t *testing.T) {
	payload := `{"request":{"query":"Paris, France"},"current":{"temperature":10,"weather_descriptions":["Sunny"]}}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if got := r.URL.Query().Get("query"); got != "Paris" {
			t.Errorf("query = %q, want Paris", got)
		}
		if got := r.URL.Query().Get("access_key"); got != testAPIKey {
			t.Errorf("access_key = %q, want %q", got, testAPIKey)
		}
		if got := r.Header.Get("X-Correlation-ID"); got != "corr-1" {
			t.Errorf("X-Correlation-ID = %q, want corr-1", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
	defer server.Close()

	client, err := NewWeatherstackClient(testAPIKey, server.URL, 2*time.Second)
	if err != nil {
		t.Fatalf("NewWeatherstackClient() error = %v", err)
	}

	ctx := observability.WithCorrelationID(context.Background(), "corr-1")
	got, err := client.Lookup(ctx, "Paris")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if string(got) != payload {
		t.Errorf("Lookup() = %s, want payload passed through verbatim", got)
	}
}

func TestWeatherstackClient_Lookup_PreservesExistingQueryParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("units"); got != "m" {
			t.Errorf("units = %q, want m", got)
		}
		if got := r.URL.Query().Get("query"); got != "New York, US" {
			t.Errorf("query = %q, want encoded location round-trip", got)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, _ := NewWeatherstackClient(testAPIKey, server.URL+"?units=m", 0)
	if _, err := client.Lookup(context.Background(), "New York, US"); err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
}

// TestWeatherstackClient_Lookup_MissingAPIKey verifies that no request leaves the
// process when the credential is absent.
func TestWeatherstackClient_Lookup_MissingAPIKey(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	client, err := NewWeatherstackClient("", server.URL, time.Second)
	if err != nil {
		t.Fatalf("NewWeatherstackClient() error = %v", err)
	}
	if client.HasAPIKey() {
		t.Error("HasAPIKey() = true, want false")
	}

	_, err = client.Lookup(context.Background(), "Paris")
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("Lookup() error = %v, want ErrMissingAPIKey", err)
	}
	if hits.Load() != 0 {
		t.Errorf("upstream hits = %d, want 0", hits.Load())
	}
}

func TestWeatherstackClient_Lookup_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"unauthorized", http.StatusUnauthorized},
		{"not found", http.StatusNotFound},
		{"rate limited", http.StatusTooManyRequests},
		{"internal error", http.StatusInternalServerError},
		{"bad gateway", http.StatusBadGateway},
		{"service unavailable", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client, _ := NewWeatherstackClient(testAPIKey, server.URL, time.Second)
			_, err := client.Lookup(context.Background(), "Paris")
			if !errors.Is(err, ErrUpstreamFailure) {
				t.Fatalf("Lookup() error = %v, want ErrUpstreamFailure", err)
			}
			var statusErr *StatusError
			if !errors.As(err, &statusErr) || statusErr.StatusCode != tt.status {
				t.Errorf("Lookup() error = %v, want StatusError %d", err, tt.status)
			}
			if hits.Load() != 1 {
				t.Errorf("upstream hits = %d, want exactly 1 (no retry)", hits.Load())
			}
		})
	}
}

func TestWeatherstackClient_Lookup_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer server.Close()

	client, _ := NewWeatherstackClient(testAPIKey, server.URL, time.Second)
	_, err := client.Lookup(context.Background(), "Paris")
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Fatalf("Lookup() error = %v, want ErrUpstreamFailure", err)
	}
	if CategorizeError(err) != ErrorCategoryParsing {
		t.Errorf("CategorizeError() = %v, want parsing", CategorizeError(err))
	}
}

// TestWeatherstackClient_Lookup_RejectsUnencodableNesting verifies that a body nested
// past encoding/json's depth limit is refused, since it could never be served back.
func TestWeatherstackClient_Lookup_RejectsUnencodableNesting(t *testing.T) {
	const depth = 10001
	body := strings.Repeat("[", depth) + strings.Repeat("]", depth)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	client, _ := NewWeatherstackClient(testAPIKey, server.URL, time.Second)
	payload, err := client.Lookup(context.Background(), "Paris")
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Fatalf("Lookup() = %d bytes, error = %v, want ErrUpstreamFailure", len(payload), err)
	}
	if CategorizeError(err) != ErrorCategoryParsing {
		t.Errorf("CategorizeError() = %v, want parsing", CategorizeError(err))
	}
}

// TestWeatherstackClient_Lookup_NetworkErrorHidesKey verifies that transport errors
// do not echo the request URL, which carries the access key.
func TestWeatherstackClient_Lookup_NetworkErrorHidesKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverURL := server.URL
	server.Close()

	client, _ := NewWeatherstackClient(testAPIKey, serverURL, time.Second)
	_, err := client.Lookup(context.Background(), "Paris")
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Fatalf("Lookup() error = %v, want ErrUpstreamFailure", err)
	}
	if strings.Contains(err.Error(), testAPIKey) {
		t.Errorf("Lookup() error leaks access key: %v", err)
	}
	if CategorizeError(err) != ErrorCategoryNetwork {
		t.Errorf("CategorizeError() = %v, want network", CategorizeError(err))
	}
}

func TestWeatherstackClient_Lookup_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client, _ := NewWeatherstackClient(testAPIKey, server.URL, 50*time.Millisecond)
	_, err := client.Lookup(context.Background(), "Paris")
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Fatalf("Lookup() error = %v, want ErrUpstreamFailure", err)
	}
	if CategorizeError(err) != ErrorCategoryTimeout {
		t.Errorf("CategorizeError() = %v, want timeout", CategorizeError(err))
	}
}

func TestWeatherstackClient_CircuitBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, _ := NewWeatherstackClient(testAPIKey, server.URL, time.Second)
	client.SetCircuitBreaker(gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "weather_api",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	}))

	for i := 0; i < 2; i++ {
		if _, err := client.Lookup(context.Background(), "Paris"); !errors.Is(err, ErrUpstreamFailure) {
			t.Fatalf("Lookup() #%d error = %v, want ErrUpstreamFailure", i, err)
		}
	}

	_, err := client.Lookup(context.Background(), "Paris")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("Lookup() error = %v, want open circuit", err)
	}
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Errorf("open circuit error should still match ErrUpstreamFailure: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("upstream hits = %d, want 2 (open circuit fails fast)", hits.Load())
	}
}

func TestWeatherstackClient_CircuitBreakerIgnoresMissingKey(t *testing.T) {
	client, _ := NewWeatherstackClient("", "http://127.0.0.1:0", time.Second)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		ReadyToTrip: func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 1 },
	})
	client.SetCircuitBreaker(cb)

	for i := 0; i < 3; i++ {
		if _, err := client.Lookup(context.Background(), "Paris"); !errors.Is(err, ErrMissingAPIKey) {
			t.Fatalf("Lookup() error = %v, want ErrMissingAPIKey", err)
		}
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("breaker state = %v, want closed", cb.State())
	}
}

func TestNewWeatherstackClient_InvalidURL(t *testing.T) {
	if _, err := NewWeatherstackClient(testAPIKey, "://bad", time.Second); err == nil {
		t.Error("NewWeatherstackClient() expected error for malformed URL")
	}
}

func TestStatusError(t *testing.T) {
	err := &StatusError{StatusCode: http.StatusBadGateway}
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Error("StatusError should match ErrUpstreamFailure")
	}
	if !strings.Contains(err.Error(), "HTTP 502") {
		t.Errorf("Error() = %q, want status code", err.Error())
	}
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "success"},
		{204, "success"},
		{301, "error"},
		{404, "client_error"},
		{429, "rate_limited"},
		{503, "server_error"},
	}
	for _, tt := range tests {
		if got := statusLabel(tt.code); got != tt.want {
			t.Errorf("statusLabel(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
