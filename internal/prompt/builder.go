// Package prompt assembles the message list sent to the language model.
package prompt

import (
	"context"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	"xiaoma/internal/domain"
	"xiaoma/internal/search"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

type Message struct {
	Role    Role
	Content string
}

// Messages is the ordered context of one model request:
// system prompt, optional search context, then the question.
type Messages []Message

const (
	DefaultSystemPrompt = "你是一名能够结合实时信息进行回答的智能虚拟陪伴助手，语气活泼，回复内容请以人正常说话的方式，\n" +
		"当提到孤独时，回复不超过2句话，并以开放性问题结尾。当前日期是{date}。"

	searchHeader  = "【网络信息监测】"
	searchTrailer = "请结合以上信息进行回答："

	maxResults = 3
	dateLayout = "2006-01-02"
)

// DefaultTriggers are the terms that imply the answer needs live information.
var DefaultTriggers = []string{"最新", "今年", "新闻", "天气", "实时", "现在"}

// Searcher is the web-search collaborator.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Result, error)
}

type Config struct {
	SystemPrompt  string // {date} is replaced with the current date
	Triggers      []string
	SearchTimeout time.Duration
}

type Builder struct {
	searcher Searcher
	cfg      Config
}

// NewBuilder returns a Builder; searcher may be nil to disable augmentation.
func NewBuilder(searcher Searcher, cfg Config) *Builder {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Triggers == nil {
		cfg.Triggers = DefaultTriggers
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 15 * time.Second
	}
	return &Builder{searcher: searcher, cfg: cfg}
}

// NeedsSearch reports whether question contains a trigger keyword.
// Matching is a plain case-sensitive substring test.
func (b *Builder) NeedsSearch(question string) bool {
	for _, kw := range b.cfg.Triggers {
		if kw != "" && strings.Contains(question, kw) {
			return true
		}
	}
	return false
}

// Build returns a fresh message list for question at time now.
// A failed or empty search never fails the build; the context entry is just left out.
func (b *Builder) Build(ctx context.Context, question string, now time.Time) Messages {
	msgs := Messages{{
		Role:    RoleSystem,
		Content: strings.ReplaceAll(b.cfg.SystemPrompt, "{date}", now.Format(dateLayout)),
	}}

	if b.searcher != nil && b.NeedsSearch(question) {
		if block := b.searchBlock(ctx, question); block != "" {
			msgs = append(msgs, Message{
				Role:    RoleAssistant,
				Content: fmt.Sprintf("%s\n%s\n%s", searchHeader, block, searchTrailer),
			})
		}
	}

	return append(msgs, Message{Role: RoleUser, Content: question})
}

func (b *Builder) searchBlock(ctx context.Context, question string) string {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.SearchTimeout)
	defer cancel()

	results, err := b.searcher.Search(ctx, question)
	if err != nil {
		log.Warn("Search failed, answering without context", "err", domain.NewError(domain.KindSearch, err))
		return ""
	}

	block := FormatResults(results)
	log.Debug("Search context", "results", len(results), "block", block)

	return block
}

// FormatResults renders up to three results as "• title：snippet" lines,
// skipping results without a snippet.
func FormatResults(results []search.Result) string {
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	lines := make([]string, 0, len(results))
	for _, r := range results {
		if strings.TrimSpace(r.Snippet) == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("• %s：%s", r.Title, r.Snippet))
	}

	return strings.Join(lines, "\n")
}

// Triggers returns the default triggers plus the year of now, e.g. "2026".
func Triggers(now time.Time, extra ...string) []string {
	out := append([]string(nil), DefaultTriggers...)
	out = append(out, now.Format("2006"))
	return append(out, extra...)
}
