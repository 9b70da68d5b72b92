// Package bus publishes assistant activity to a websocket hub.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"xiaoma/internal/domain"
)

const (
	KindQuestion = "question"
	KindAnswer   = "answer"
	KindState    = "state"
	KindWake     = "wake" // inbound: hub asks the assistant to start a turn
)

const (
	queueSize   = 64
	dialTimeout = 5 * time.Second
	retryDelay  = time.Second
)

var ErrQueueFull = errors.New("bus queue full")

type Message struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// Bus is a hub connection that survives hub restarts. Publishing never
// blocks: messages are queued for a single writer and dropped when the
// queue is full. Only Listen reads.
type Bus struct {
	url  string
	name string

	out    chan Message
	ctx    context.Context
	cancel context.CancelFunc

	dialMu sync.Mutex // one redial at a time
	mu     sync.Mutex
	conn   *websocket.Conn
}

func Dial(ctx context.Context, url, name string) (*Bus, error) {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	log.Info("Connected to bus", "url", url)

	b := &Bus{
		url:  url,
		name: name,
		out:  make(chan Message, queueSize),
		conn: conn,
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	go b.writeLoop()

	return b, nil
}

// Append publishes a transcript entry.
func (b *Bus) Append(turn domain.Turn) error {
	kind := KindQuestion
	if turn.Role == domain.RoleAssistant {
		kind = KindAnswer
	}
	return b.Publish(Message{Kind: kind, Content: turn.Content, Timestamp: turn.Timestamp})
}

func (b *Bus) PublishState(s domain.State) {
	if err := b.Publish(Message{Kind: KindState, Content: string(s), Timestamp: time.Now()}); err != nil {
		log.Debug("Failed to publish state", "err", err)
	}
}

// Publish queues m for every hub client.
func (b *Bus) Publish(m Message) error {
	m.From = b.name
	if m.To == "" {
		m.To = "ALL"
	}

	select {
	case b.out <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

func (b *Bus) writeLoop() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case m := <-b.out:
			if err := b.write(m); err != nil {
				log.Warn("Dropped bus message", "kind", m.Kind, "err", err)
			}
		}
	}
}

// write sends m, redialling once if the connection dropped.
func (b *Bus) write(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	conn := b.current()
	if err := conn.WriteMessage(websocket.TextMessage, data); err == nil {
		return nil
	}

	conn, err = b.reconnect(conn)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (b *Bus) current() *websocket.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn
}

// reconnect replaces stale with a fresh connection. If another goroutine
// already did, its connection is returned instead of dialling again.
func (b *Bus) reconnect(stale *websocket.Conn) (*websocket.Conn, error) {
	b.dialMu.Lock()
	defer b.dialMu.Unlock()

	if conn := b.current(); conn != stale {
		return conn, nil
	}

	log.Warn("Trying to reconnect on", "url", b.url)

	ctx, cancel := context.WithTimeout(b.ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return nil, fmt.Errorf("reconnect: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	stale.Close()

	log.Info("Succefully reconnected", "url", b.url)
	return conn, nil
}

// Listen forwards inbound wake requests addressed to this assistant (or to
// everyone) until ctx is done or the bus is closed. A dropped hub is
// redialled and reading resumes on the new connection.
func (b *Bus) Listen(ctx context.Context, wake chan<- struct{}) {
	var dead *websocket.Conn // gorilla panics on repeated reads after a failure

	for ctx.Err() == nil && b.ctx.Err() == nil {
		conn := b.current()
		if conn == dead {
			if _, err := b.reconnect(conn); err != nil {
				log.Warn("Bus unavailable", "err", err)
				sleep(ctx, retryDelay)
			}
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || b.ctx.Err() != nil {
				return
			}
			if !isClosed(err) {
				log.Warn("Failed to read bus", "err", err)
			}
			dead = conn
			continue
		}

		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			log.Debug("Bad bus message", "err", err)
			continue
		}
		if m.Kind != KindWake || (m.To != b.name && m.To != "ALL") {
			continue
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

func (b *Bus) Close() error {
	b.cancel()

	conn := b.current()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}

func isClosed(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
