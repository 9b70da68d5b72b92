package proxy

import (
	"net/http"
	"testing"
	"time"
)

func TestNewClientDirect(t *testing.T) {
	t.Parallel()

	c, err := NewClient("", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Transport != nil {
		t.Fatalf("direct client should use the default transport")
	}
	if c.Timeout != 120*time.Second {
		t.Fatalf("unexpected timeout %s", c.Timeout)
	}
}

func TestNewClientSocks(t *testing.T) {
	t.Parallel()

	c, err := NewClient("127.0.0.1:1080", 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok || tr.DialContext == nil {
		t.Fatalf("expected a socks transport, got %T", c.Transport)
	}
	if c.Timeout != 5*time.Second {
		t.Fatalf("unexpected timeout %s", c.Timeout)
	}
}
