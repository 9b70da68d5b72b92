// Package oai builds the OpenAI-compatible client shared by chat,
// transcription and speech.
package oai

import (
	"errors"
	"net/http"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

type Endpoint struct {
	BaseURL string
	APIKey  string
}

// NewClient returns a client for ep that goes through httpClient (the
// proxy-aware client) when it is non-nil. Requests are tried once: a slow
// retry is worse for a spoken turn than a spoken error.
func NewClient(ep Endpoint, httpClient *http.Client) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(ep.APIKey),
		option.WithMaxRetries(0),
	}
	if ep.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(ep.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return openai.NewClient(opts...)
}

// APIError returns the service error in err's chain, if any.
func APIError(err error) (*openai.Error, bool) {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
