package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Handler is what the server asks of the daemon.
type Handler interface {
	Status() StatusMessage
	// Stop shuts the daemon down. It may call Server.Close.
	Stop()
}

type Server struct {
	path    string
	handler Handler
	log     *zap.Logger
	ln      net.Listener

	mu     sync.Mutex
	closed bool
	conns  map[net.Conn]struct{}
}

// Listen binds the unix socket at path, replacing a stale socket file.
func Listen(path string, h Handler, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := removeStale(path); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	return &Server{
		path:    path,
		handler: h,
		log:     log,
		ln:      ln,
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

func removeStale(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if c, err := net.Dial("unix", path); err == nil {
		c.Close()
		return fmt.Errorf("control socket %s is in use", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}

func (s *Server) Addr() string { return s.path }

// Serve accepts connections until Close. It returns nil after Close.
func (s *Server) Serve() error {
	s.log.Info("control_listen", zap.String("socket", s.path))
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go s.handle(conn)
	}
}

// Close stops accepting, drops open connections and removes the socket.
// It does not wait for handlers, so a handler may call it.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	err := s.ln.Close()
	for c := range conns {
		c.Close()
	}
	_ = os.Remove(s.path)
	s.log.Info("control_closed", zap.String("socket", s.path))
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) handle(conn net.Conn) {
	defer func() {
		s.untrack(conn)
		conn.Close()
	}()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) || s.isClosed() {
				return
			}
			var syn *json.SyntaxError
			var typ *json.UnmarshalTypeError
			if errors.As(err, &syn) || errors.As(err, &typ) {
				s.log.Warn("control_malformed_request", zap.Error(err))
				_ = enc.Encode(Reply{Error: "malformed request"})
			}
			return
		}

		s.log.Debug("control_request", zap.String("id", req.ID), zap.String("type", string(req.Type)))
		reply, stop := s.dispatch(req)
		if err := enc.Encode(reply); err != nil {
			s.log.Warn("control_reply_error", zap.String("id", req.ID), zap.Error(err))
			return
		}
		if stop {
			s.handler.Stop()
			_ = s.Close()
			return
		}
	}
}

func (s *Server) dispatch(req Request) (Reply, bool) {
	reply := Reply{ID: req.ID, Type: req.Type}
	var msg any
	switch req.Type {
	case MsgPing:
		msg = pong
	case MsgStatus:
		msg = s.handler.Status()
	case MsgStop:
		msg = stopping
	default:
		reply.Error = fmt.Sprintf("unknown message type %q", req.Type)
		return reply, false
	}
	b, err := json.Marshal(msg)
	if err != nil {
		reply.Error = err.Error()
		return reply, false
	}
	reply.Message = b
	return reply, req.Type == MsgStop
}
