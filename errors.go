package ddpbot

import (
	"errors"
	"fmt"
)

// Registration errors. Any of them prevents the bot from starting.
var (
	ErrDuplicateCommand = errors.New("command already registered")
	ErrReservedCommand  = errors.New("command name is reserved")
	ErrInvalidCommand   = errors.New("invalid command name")
	ErrNilHandler       = errors.New("handler is nil")
	ErrInvalidPattern   = errors.New("invalid match pattern")
)

// TransportError is a socket or handshake failure. It is fatal to the session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport error op=%s", e.Op)
	}
	return fmt.Sprintf("transport error op=%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPError is a non-success answer on the REST channel.
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error op=%s status=%d", e.Op, e.StatusCode)
}

// MethodError is the error object of a DDP result frame.
type MethodError struct {
	Code    any    `json:"error"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Type    string `json:"errorType"`
}

func (e *MethodError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("method error: %s", e.Message)
	}
	return fmt.Sprintf("method error code=%v reason=%s", e.Code, e.Reason)
}

// ArgumentError is a bad or missing command argument. It is reported back to the user.
type ArgumentError struct {
	Message string
}

func (e *ArgumentError) Error() string { return e.Message }
