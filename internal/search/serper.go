// Package search queries a web search API for live context.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const DefaultSerperURL = "https://google.serper.dev/search"

// Result is one organic hit, in server rank order.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
}

// StatusError is a non-2xx answer from the search API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search: unexpected status %d: %s", e.Code, e.Body)
}

type SerperConfig struct {
	URL     string
	APIKey  string
	Country string // "gl" parameter, e.g. "cn"
	Limit   int    // results kept, <=0 means 3
}

// Serper talks to google.serper.dev.
type Serper struct {
	cfg    SerperConfig
	client *http.Client
}

func NewSerper(cfg SerperConfig, client *http.Client) *Serper {
	if cfg.URL == "" {
		cfg.URL = DefaultSerperURL
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 3
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Serper{cfg: cfg, client: client}
}

type serperRequest struct {
	Q  string `json:"q"`
	GL string `json:"gl,omitempty"`
}

type serperResponse struct {
	Organic []Result `json:"organic"`
}

func (s *Serper) Search(ctx context.Context, query string) ([]Result, error) {
	if s.cfg.APIKey == "" {
		return nil, errors.New("search: no api key configured")
	}

	payload, err := json.Marshal(serperRequest{Q: query, GL: s.cfg.Country})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-KEY", s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(out.Organic) > s.cfg.Limit {
		out.Organic = out.Organic[:s.cfg.Limit]
	}

	return out.Organic, nil
}
