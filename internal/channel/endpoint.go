package channel

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is the port the assistant process listens on unless configured
// otherwise. Both the supervisor (as a launch argument) and the channel (as
// the dial target) receive the same Endpoint value, so the two ends can never
// disagree.
const DefaultPort = 8765

// Endpoint is the loopback address the assistant process listens on.
//
// It is injected configuration, fixed for the bridge's lifetime and never
// renegotiated.
type Endpoint struct {
	Host string
	Port int
}

// NewEndpoint validates and builds an Endpoint.
func NewEndpoint(host string, port int) (Endpoint, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		host = "127.0.0.1"
	}
	if port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("endpoint port %d out of range", port)
	}
	return Endpoint{Host: host, Port: port}, nil
}

// Addr returns the host:port dial target.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) validate() error {
	if strings.TrimSpace(e.Host) == "" {
		return errors.New("endpoint host must not be empty")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("endpoint port %d out of range", e.Port)
	}
	return nil
}
