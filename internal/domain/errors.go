package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotConnected is returned by Send when the adapter has no live transport.
var ErrNotConnected = errors.New("not connected")

// TransportError reports a network or protocol failure inside an adapter.
type TransportError struct {
	Channel string
	Op      string // "send" | "listen" | "health"
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Channel, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err unless it is nil or already a TransportError.
func NewTransportError(channel, op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Channel: channel, Op: op, Err: err}
}

// TimeoutError reports a health check that did not finish in time.
type TimeoutError struct {
	Channel string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s health check timed out after %s", e.Channel, e.After)
}
