package bridge

import (
	"errors"

	"github.com/quill-assist/quill/internal/channel"
)

// ErrNotReady is returned by SendCommand while the bridge is not Ready.
// No socket I/O happens in that case.
var ErrNotReady = errors.New("assistant is not ready")

// CommandError wraps a channel failure with a short message suitable for
// direct display in the panel's status line.
type CommandError struct {
	Message string
	Err     error
}

func (e *CommandError) Error() string {
	return e.Message
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func newCommandError(err error) *CommandError {
	return &CommandError{Message: displayMessage(err), Err: err}
}

func displayMessage(err error) string {
	switch {
	case errors.Is(err, channel.ErrConnectFailed):
		return "assistant is not reachable; it may still be starting"
	case errors.Is(err, channel.ErrConnectionClosed):
		return "assistant closed the connection without responding"
	case errors.Is(err, channel.ErrSendFailed):
		return "could not send the command to the assistant"
	case errors.Is(err, channel.ErrReceiveFailed):
		return "could not read the assistant's response"
	default:
		return "command failed"
	}
}
