// Package channel performs one synchronous request/response exchange with the
// assistant process per command.
//
// Each Send opens a fresh TCP connection to the injected loopback Endpoint,
// writes a single JSON request, reads the response until the peer closes or
// the byte cap is reached, and closes the connection on every exit path.
// One connection per command keeps the protocol free of sessions,
// multiplexing, and correlation IDs.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultMaxResponseBytes caps how much of one response is read.
	DefaultMaxResponseBytes = 4096

	defaultDialTimeout  = 5 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultReadTimeout  = 2 * time.Minute
)

// Sentinel errors for the channel failure taxonomy. Callers use errors.Is.
var (
	// ErrConnectFailed indicates the assistant is not listening (not started
	// yet, exited, or a wrong port).
	ErrConnectFailed = errors.New("connect to assistant failed")
	// ErrSendFailed indicates an I/O failure while writing the request.
	ErrSendFailed = errors.New("send to assistant failed")
	// ErrReceiveFailed indicates an I/O failure while reading the response.
	ErrReceiveFailed = errors.New("receive from assistant failed")
	// ErrConnectionClosed indicates the peer closed without sending data.
	ErrConnectionClosed = errors.New("assistant closed the connection without responding")
)

// Response is the raw payload received from one exchange. The bridge treats
// it as opaque UTF-8 text; interpretation is the caller's responsibility.
type Response struct {
	body []byte
}

// NewResponse wraps a raw payload. Mostly useful for fakes standing in for
// a live channel.
func NewResponse(body []byte) Response {
	return Response{body: body}
}

// Bytes returns the raw response payload.
func (r Response) Bytes() []byte {
	return r.body
}

// Text returns the response decoded as UTF-8 text.
func (r Response) Text() string {
	return string(r.body)
}

type request struct {
	Command string `json:"command"`
}

// Dialer opens the per-command connection. Tests substitute in-memory pipes.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Option configures Channel construction.
type Option func(*Channel)

// WithDialer overrides the TCP dialer.
func WithDialer(dialer Dialer) Option {
	return func(c *Channel) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// WithMaxResponseBytes overrides the response byte cap.
func WithMaxResponseBytes(limit int) Option {
	return func(c *Channel) {
		if limit > 0 {
			c.maxResponseBytes = limit
		}
	}
}

// WithTimeouts overrides dial, write, and read deadlines. Zero values keep
// the current setting.
func WithTimeouts(dial, write, read time.Duration) Option {
	return func(c *Channel) {
		if dial > 0 {
			c.dialTimeout = dial
		}
		if write > 0 {
			c.writeTimeout = write
		}
		if read > 0 {
			c.readTimeout = read
		}
	}
}

// WithTracer overrides the tracer used for exchange spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Channel) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// Channel sends commands to the assistant process, one connection per command.
type Channel struct {
	endpoint         Endpoint
	dialer           Dialer
	maxResponseBytes int
	dialTimeout      time.Duration
	writeTimeout     time.Duration
	readTimeout      time.Duration
	tracer           trace.Tracer
}

// New builds a Channel for the given endpoint.
func New(endpoint Endpoint, options ...Option) (*Channel, error) {
	if err := endpoint.validate(); err != nil {
		return nil, err
	}

	c := &Channel{
		endpoint:         endpoint,
		maxResponseBytes: DefaultMaxResponseBytes,
		dialTimeout:      defaultDialTimeout,
		writeTimeout:     defaultWriteTimeout,
		readTimeout:      defaultReadTimeout,
		tracer:           otel.Tracer("quill/channel"),
	}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(c)
	}
	if c.dialer == nil {
		c.dialer = &net.Dialer{Timeout: c.dialTimeout}
	}
	return c, nil
}

// Endpoint returns the fixed dial target.
func (c *Channel) Endpoint() Endpoint {
	return c.endpoint
}

// Send performs one request/response exchange for a single command.
//
// The command is serialized as {"command": <text>} so embedded quotes and
// control characters stay valid JSON. The response is read until the peer
// closes or the byte cap is reached; a clean close with zero bytes returns
// ErrConnectionClosed. Cancelling ctx aborts a stalled exchange.
func (c *Channel) Send(ctx context.Context, command string) (Response, error) {
	if c == nil {
		return Response{}, errors.New("channel is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	started := time.Now()
	ctx, span := c.tracer.Start(ctx, "channel.send", trace.WithAttributes(
		attribute.String("endpoint", c.endpoint.Addr()),
		attribute.Int("command_bytes", len(command)),
	))
	defer func() {
		span.SetAttributes(attribute.Int64("duration_ms", time.Since(started).Milliseconds()))
		span.End()
	}()

	response, err := c.exchange(ctx, command)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, err
	}

	span.SetAttributes(attribute.Int("response_bytes", len(response.body)))
	return response, nil
}

func (c *Channel) exchange(ctx context.Context, command string) (Response, error) {
	payload, err := json.Marshal(request{Command: command})
	if err != nil {
		return Response{}, fmt.Errorf("encode command: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	conn, err := c.dialer.DialContext(dialCtx, "tcp", c.endpoint.Addr())
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	defer func() {
		_ = conn.Close()
	}()

	// Cancellation forces an immediate deadline so a stalled peer cannot
	// block the exchange past the caller's context.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	if _, err := conn.Write(payload); err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrReceiveFailed, err)
	}

	body, err := c.readCapped(conn)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, fmt.Errorf("%w: %w", ErrReceiveFailed, ctxErr)
		}
		return Response{}, err
	}
	return Response{body: body}, nil
}

// readCapped assembles the response from as many reads as the peer needs,
// stopping at EOF (the assistant closes after writing) or at the byte cap.
func (c *Channel) readCapped(conn net.Conn) ([]byte, error) {
	buf := make([]byte, c.maxResponseBytes)
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: %w", ErrReceiveFailed, err)
		}
	}
	if total == 0 {
		return nil, ErrConnectionClosed
	}
	return buf[:total], nil
}
