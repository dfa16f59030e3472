package socklib

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyConnected = errors.New("conn is already connected or connecting")
	ErrDisconnected     = errors.New("conn has disconnected; create a new one to reconnect")
	ErrAlreadyStarted   = errors.New("conn has already been started")
	ErrNotConnected     = errors.New("conn is not connected")
	ErrAlreadyListening = errors.New("server is already listening")
	ErrServerClosed     = errors.New("server closed")
	ErrInvalidPort      = errors.New("port must be within 0 and 65535")
)

// OpError is returned by Connect and Listen when setting up a socket fails.
type OpError struct {
	Op   string // resolve, dial or listen
	Addr string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s '%s': %s", e.Op, e.Addr, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
