package rpc

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by calls on a link that has ended
	ErrClosed = errors.New("link closed")

	// ErrUnknownMethod is reported back when a peer calls a method that
	// was never exposed
	ErrUnknownMethod = errors.New("unknown method")
)

// RemoteError is an error produced by the handler on the other side
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Method, e.Message)
}
