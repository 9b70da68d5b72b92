package oai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIErrorFromService(t *testing.T) {
	t.Parallel()

	var gotAuth string
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	c := NewClient(Endpoint{BaseURL: srv.URL, APIKey: "k"}, srv.Client())
	_, err := c.Models.List(context.Background())

	apiErr, ok := APIError(fmt.Errorf("wrapped: %w", err))
	if !ok {
		t.Fatalf("expected service error, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected status %d", apiErr.StatusCode)
	}
	if calls != 1 {
		t.Fatalf("requests must not be retried, got %d calls", calls)
	}
	if gotAuth != "Bearer k" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
}

func TestAPIErrorOtherErrors(t *testing.T) {
	t.Parallel()

	if _, ok := APIError(errors.New("dial tcp: refused")); ok {
		t.Fatalf("transport errors are not service errors")
	}
}
