package conn

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by SendLines when there is no live connection.
var ErrNotConnected = errors.New("not connected")

// ConnectionError reports a failure to establish the connection.
type ConnectionError struct {
	Addr  string
	Cause error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connect %s: %v", e.Addr, e.Cause)
	}
	return fmt.Sprintf("connect %s failed", e.Addr)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// Disconnect reasons reported to the disconnect listener.
const (
	ReasonEOF      = "end of stream"
	ReasonShutdown = "shutdown"
)

// Cause labels used for the disconnect metric.
const (
	causeEOF    = "eof"
	causeIO     = "io"
	causePanic  = "panic"
	causeWrite  = "write"
	causeCaller = "caller"
)

func ioReason(err error) string    { return "I/O error: " + err.Error() }
func writeReason(err error) string { return "write error: " + err.Error() }
func panicReason(r any) string     { return fmt.Sprintf("unexpected failure: %v", r) }
