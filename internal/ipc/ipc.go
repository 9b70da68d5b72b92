// Package ipc is the local control socket: one JSON command per connection,
// answered with one JSON reply.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"time"
)

const (
	CmdWake   = "wake"
	CmdStatus = "status"
	CmdQuit   = "quit"
)

type ControlMessage struct {
	Cmd string `json:"cmd"`
}

type Reply struct {
	OK    bool   `json:"ok"`
	State string `json:"state,omitempty"`
	Last  string `json:"last,omitempty"` // failure of the previous turn
	Error string `json:"error,omitempty"`
}

type Handler func(ControlMessage) Reply

type Server struct {
	ln   net.Listener
	path string
}

// StartServer listens on the unix socket at path, replacing a stale one,
// and serves commands in the background until Close.
func StartServer(path string, handler Handler) (*Server, error) {
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	s := &Server{ln: ln, path: path}
	go s.serve(handler)

	return s, nil
}

func (s *Server) serve(handler Handler) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn("Failed to accept control connection", "err", err)
			continue
		}
		go handleConn(conn, handler)
	}
}

func (s *Server) Close() error {
	err := s.ln.Close()
	os.Remove(s.path)
	return err
}

func handleConn(conn net.Conn, handler Handler) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Debug("Bad control message", "err", err)
		return
	}

	log.Debug("Control command", "cmd", msg.Cmd)

	if err := json.NewEncoder(conn).Encode(handler(msg)); err != nil {
		log.Debug("Failed to reply", "err", err)
	}
}

// SendCommand sends cmd to the daemon listening on path and waits for its reply.
func SendCommand(path, cmd string) (Reply, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if err := json.NewEncoder(conn).Encode(ControlMessage{Cmd: cmd}); err != nil {
		return Reply{}, fmt.Errorf("send: %w", err)
	}

	var reply Reply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return Reply{}, fmt.Errorf("reply: %w", err)
	}
	return reply, nil
}
