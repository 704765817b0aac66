// Package stub runs a stand-in assistant process for development and tests.
//
// It speaks the same wire protocol as the real assistant: one JSON request
// per connection, a raw text reply, then close. `quill stub` serves it so
// the panel can be exercised without an API key or a word processor.
package stub

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/quill-assist/quill/internal/channel"
)

const maxRequestBytes = 8192

// Responder produces the reply for one command.
type Responder func(command string) string

// EchoResponder mimics the assistant's acknowledgment format.
func EchoResponder(command string) string {
	return fmt.Sprintf("AI: received %q", command)
}

// Option configures Server construction.
type Option func(*Server)

// WithResponder overrides the canned response behavior.
func WithResponder(responder Responder) Option {
	return func(s *Server) {
		if responder != nil {
			s.responder = responder
		}
	}
}

// WithLogger configures the structured logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Server is the stub assistant listener.
type Server struct {
	responder Responder
	logger    *log.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New builds a stub server.
func New(options ...Option) *Server {
	s := &Server{
		responder: EchoResponder,
		logger:    log.Default(),
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(s)
	}
	return s
}

// Listen binds the endpoint. Port zero picks an ephemeral port; the bound
// endpoint is returned for the channel to dial.
func (s *Server) Listen(endpoint channel.Endpoint) (channel.Endpoint, error) {
	addr := fmt.Sprintf("%s:%d", endpoint.Host, endpoint.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return channel.Endpoint{}, fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	bound, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		_ = listener.Close()
		return channel.Endpoint{}, fmt.Errorf("unexpected listener address %T", listener.Addr())
	}
	return channel.Endpoint{Host: endpoint.Host, Port: bound.Port}, nil
}

// Serve accepts connections until Close is called. Each connection carries
// exactly one command exchange.
func (s *Server) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("server is not listening; call Listen first")
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.With("error", err).Warn("stub accept failed")
			continue
		}
		s.wg.Add(1)
		go func(conn net.Conn) {
			defer s.wg.Done()
			s.handle(conn)
		}(conn)
	}

	s.wg.Wait()
	return nil
}

// Close stops accepting and waits for in-flight exchanges via Serve's return.
func (s *Server) Close() error {
	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()
	if listener == nil {
		return nil
	}
	return listener.Close()
}

func (s *Server) handle(conn net.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil {
		s.logger.With("error", err).Warn("stub read failed")
		return
	}

	var req struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.logger.With("error", err).Warn("stub received malformed request")
		_, _ = conn.Write([]byte("AI: could not parse request"))
		return
	}

	command := strings.TrimSpace(req.Command)
	s.logger.With("command", command).Info("stub handling command")
	_, _ = conn.Write([]byte(s.responder(command)))
}
