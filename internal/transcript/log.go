// Package transcript keeps the append-only conversation log.
package transcript

import (
	"bufio"
	"fmt"
	"io"
	log "log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"xiaoma/internal/domain"
)

const timeLayout = "2006-01-02 15:04:05"

var labels = map[domain.Role]string{
	domain.RoleUser:      "用户提问",
	domain.RoleAssistant: "AI回复",
}

var headerRe = regexp.MustCompile(`^\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})\] (.+)：$`)

// Log appends one human-readable block per turn:
//
//	[2026-10-19 09:30:00] 用户提问：
//	现在北京天气怎么样
//
// Each entry is synced to disk before Append returns.
type Log struct {
	mu   sync.Mutex
	f    *os.File
	echo bool
}

func Open(path string, echo bool) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	return &Log{f: f, echo: echo}, nil
}

func (l *Log) Append(turn domain.Turn) error {
	entry := Format(turn)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := io.WriteString(l.f, entry); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync transcript: %w", err)
	}

	if l.echo {
		log.Info(labels[turn.Role], "text", turn.Content)
	}

	return nil
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// Format renders a turn the way it is stored. Content lines that look like
// an entry header, or start with a backslash, get a leading backslash.
func Format(turn domain.Turn) string {
	label, ok := labels[turn.Role]
	if !ok {
		label = string(turn.Role)
	}
	return fmt.Sprintf("\n[%s] %s：\n%s\n", turn.Timestamp.Format(timeLayout), label, escape(turn.Content))
}

func escape(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, `\`) || headerRe.MatchString(line) {
			lines[i] = `\` + line
		}
	}
	return strings.Join(lines, "\n")
}

// Parse reads back a log written by Log. Timestamps are in loc with
// second precision.
func Parse(r io.Reader, loc *time.Location) ([]domain.Turn, error) {
	roles := make(map[string]domain.Role, len(labels))
	for role, label := range labels {
		roles[label] = role
	}

	var (
		turns []domain.Turn
		cur   *domain.Turn
		body  []string
	)

	// The blank line before a header belongs to the separator, not to
	// the previous entry, so it is dropped only when another entry follows.
	flush := func(separated bool) {
		if cur == nil {
			return
		}
		if n := len(body); separated && n > 0 && body[n-1] == "" {
			body = body[:n-1]
		}
		cur.Content = strings.Join(body, "\n")
		turns = append(turns, *cur)
		cur, body = nil, nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if m := headerRe.FindStringSubmatch(line); m != nil {
			flush(true)
			ts, err := time.ParseInLocation(timeLayout, m[1], loc)
			if err != nil {
				return nil, fmt.Errorf("bad timestamp %q: %w", m[1], err)
			}
			role, ok := roles[m[2]]
			if !ok {
				role = domain.Role(m[2])
			}
			cur = &domain.Turn{Timestamp: ts, Role: role}
			continue
		}
		if cur != nil {
			body = append(body, strings.TrimPrefix(line, `\`))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush(false)

	return turns, nil
}
