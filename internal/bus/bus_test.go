package bus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"xiaoma/internal/domain"
)

// hub echoes nothing back; it records what it receives and can push messages.
func hub(t *testing.T, received chan<- Message, push []Message) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, m := range push {
			data, _ := json.Marshal(m)
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m Message
			if err := json.Unmarshal(data, &m); err == nil {
				received <- m
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestAppendPublishesTurns(t *testing.T) {
	t.Parallel()

	received := make(chan Message, 4)
	srv := hub(t, received, nil)

	b, err := Dial(context.Background(), wsURL(srv), "xiaoma")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer b.Close()

	at := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	if err := b.Append(domain.NewTurn(domain.RoleUser, "你好", at)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := b.Append(domain.NewTurn(domain.RoleAssistant, "你好呀", at.Add(time.Second))); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	for _, want := range []Message{
		{From: "xiaoma", To: "ALL", Kind: KindQuestion, Content: "你好", Timestamp: at},
		{From: "xiaoma", To: "ALL", Kind: KindAnswer, Content: "你好呀", Timestamp: at.Add(time.Second)},
	} {
		select {
		case got := <-received:
			if got.From != want.From || got.To != want.To || got.Kind != want.Kind ||
				got.Content != want.Content || !got.Timestamp.Equal(want.Timestamp) {
				t.Fatalf("got %+v, want %+v", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("hub did not receive %s", want.Kind)
		}
	}
}

func TestListenForwardsWake(t *testing.T) {
	t.Parallel()

	srv := hub(t, make(chan Message, 1), []Message{
		{To: "other", Kind: KindWake},
		{To: "xiaoma", Kind: KindState, Content: "ignored"},
		{To: "xiaoma", Kind: KindWake},
	})

	b, err := Dial(context.Background(), wsURL(srv), "xiaoma")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wake := make(chan struct{}, 4)
	go b.Listen(ctx, wake)

	select {
	case <-wake:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected a wake request")
	}

	select {
	case <-wake:
		t.Fatalf("only the addressed wake should be forwarded")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestListenRedialsAfterHubDrops(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	var connections atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if connections.Add(1) == 1 {
			// drop the first client without a close frame
			conn.UnderlyingConn().Close()
			return
		}
		data, _ := json.Marshal(Message{To: "ALL", Kind: KindWake})
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	b, err := Dial(context.Background(), wsURL(srv), "xiaoma")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wake := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		b.Listen(ctx, wake)
		close(done)
	}()

	select {
	case <-wake:
	case <-done:
		t.Fatalf("listen returned after the hub dropped")
	case <-time.After(5 * time.Second):
		t.Fatalf("wake from the new connection was never forwarded")
	}
	if n := connections.Load(); n != 2 {
		t.Fatalf("expected one redial, got %d connections", n)
	}

	cancel()
	b.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("listen did not stop after cancel")
	}
}

func TestPublishDoesNotBlockWhenHubIsUnreachable(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	release := make(chan struct{})
	var connections atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if connections.Add(1) > 1 {
			// hub is wedged: never finish the handshake
			<-release
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.UnderlyingConn().Close()
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	b, err := Dial(context.Background(), wsURL(srv), "xiaoma")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer b.Close()

	at := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	started := time.Now()
	for i := 0; i < 4*queueSize; i++ {
		b.PublishState(domain.StateThinking)
		err := b.Append(domain.NewTurn(domain.RoleUser, "你好", at))
		if err != nil && err != ErrQueueFull {
			t.Fatalf("unexpected append error: %v", err)
		}
	}
	if took := time.Since(started); took > 500*time.Millisecond {
		t.Fatalf("publishing blocked on the hub for %s", took)
	}
}
