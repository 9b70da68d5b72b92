// Package chat gets answers from an OpenAI-compatible chat completion API.
package chat

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"

	"xiaoma/internal/domain"
	"xiaoma/internal/oai"
	"xiaoma/internal/prompt"
)

const (
	DefaultBaseURL = "https://api.siliconflow.cn/v1"
	DefaultModel   = "deepseek-ai/DeepSeek-V3"
)

var ErrEmptyReply = errors.New("empty message content")

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int64
	Temperature float64
	Timeout     time.Duration
}

type Client struct {
	api openai.Client
	cfg Config
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{api: oai.NewClient(oai.Endpoint{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey}, httpClient), cfg: cfg}
}

// Complete sends msgs and returns the first choice's text. Every failure is
// returned as a *domain.Error of kind KindModelRequest.
func (c *Client) Complete(ctx context.Context, msgs prompt.Messages) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Messages:  toParams(msgs),
		Model:     openai.ChatModel(c.cfg.Model),
		MaxTokens: openai.Int(c.cfg.MaxTokens),
	}
	if c.cfg.Temperature > 0 {
		params.Temperature = openai.Float(c.cfg.Temperature)
	}

	started := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", domain.NewError(domain.KindModelRequest, describe(err))
	}

	if len(resp.Choices) == 0 {
		return "", domain.NewError(domain.KindModelRequest, errors.New("no choices in response"))
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", domain.NewError(domain.KindModelRequest, ErrEmptyReply)
	}

	log.Debug("Chat completion", "model", c.cfg.Model, "took", time.Since(started), "tokens", resp.Usage.TotalTokens)

	return content, nil
}

func toParams(msgs prompt.Messages) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case prompt.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case prompt.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// describe shortens API errors to something worth reading aloud.
func describe(err error) error {
	if apiErr, ok := oai.APIError(err); ok {
		return fmt.Errorf("HTTP %d", apiErr.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.New("timeout")
	}
	return err
}
