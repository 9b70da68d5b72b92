package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSerperSearchKeepsTopThree(t *testing.T) {
	t.Parallel()

	var got serperRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"organic":[
			{"title":"A","snippet":"a"},
			{"title":"B","snippet":"b"},
			{"title":"C","snippet":"c"},
			{"title":"D","snippet":"d"}
		]}`))
	}))
	defer srv.Close()

	s := NewSerper(SerperConfig{URL: srv.URL, APIKey: "secret", Country: "cn"}, srv.Client())

	results, err := s.Search(context.Background(), "北京天气")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 3 || results[0].Title != "A" || results[2].Title != "C" {
		t.Fatalf("unexpected results: %+v", results)
	}
	if got.Q != "北京天气" || got.GL != "cn" {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestSerperSearchStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewSerper(SerperConfig{URL: srv.URL, APIKey: "secret"}, srv.Client())

	_, err := s.Search(context.Background(), "q")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestSerperSearchTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	s := NewSerper(SerperConfig{URL: srv.URL, APIKey: "secret"}, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := s.Search(ctx, "q"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestSerperRequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := NewSerper(SerperConfig{}, nil).Search(context.Background(), "q"); err == nil {
		t.Fatalf("expected error without api key")
	}
}
