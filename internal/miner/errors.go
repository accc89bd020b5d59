package miner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// IdentifyErrorKind categorizes identification failures
type IdentifyErrorKind int

const (
	// IdentifyTimeout indicates the miner did not answer within the attempt timeout
	IdentifyTimeout IdentifyErrorKind = iota
	// IdentifyConnectionRefused indicates the control port actively refused the connection
	IdentifyConnectionRefused
	// IdentifyProtocolMismatch indicates something answered but did not speak the
	// miner API (malformed reply, missing sections). Never retried.
	IdentifyProtocolMismatch
	// IdentifyNetwork indicates some other network-level failure (host/net unreachable)
	IdentifyNetwork
)

// String returns a human-readable name for the error kind
func (k IdentifyErrorKind) String() string {
	switch k {
	case IdentifyTimeout:
		return "timeout"
	case IdentifyConnectionRefused:
		return "connection refused"
	case IdentifyProtocolMismatch:
		return "protocol mismatch"
	case IdentifyNetwork:
		return "network error"
	default:
		return fmt.Sprintf("IdentifyErrorKind(%d)", int(k))
	}
}

// IdentifyError is returned when an identification attempt fails
type IdentifyError struct {
	Kind IdentifyErrorKind
	Addr string
	Err  error
}

// Error implements the error interface
func (e *IdentifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("identify %s: %s: %v", e.Addr, e.Kind, e.Err)
	}
	return fmt.Sprintf("identify %s: %s", e.Addr, e.Kind)
}

// Unwrap returns the underlying error for error chain inspection
func (e *IdentifyError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying. Timeouts and
// refused connections are transient; a protocol mismatch is definitive.
func (e *IdentifyError) Transient() bool {
	switch e.Kind {
	case IdentifyTimeout, IdentifyConnectionRefused, IdentifyNetwork:
		return true
	default:
		return false
	}
}

// IsTransient reports whether err is a transient identification failure.
// Unknown error types are treated as definitive.
func IsTransient(err error) bool {
	var idErr *IdentifyError
	if errors.As(err, &idErr) {
		return idErr.Transient()
	}
	return false
}

// classifyNetErr turns a raw dial/read error into a typed IdentifyError
func classifyNetErr(err error, addr string) *IdentifyError {
	if err == nil {
		return nil
	}

	if os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return &IdentifyError{Kind: IdentifyTimeout, Addr: addr, Err: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED):
			return &IdentifyError{Kind: IdentifyConnectionRefused, Addr: addr, Err: err}
		case errors.Is(opErr.Err, syscall.ECONNRESET):
			return &IdentifyError{Kind: IdentifyNetwork, Addr: addr, Err: err}
		case errors.Is(opErr.Err, syscall.EHOSTUNREACH), errors.Is(opErr.Err, syscall.ENETUNREACH):
			return &IdentifyError{Kind: IdentifyNetwork, Addr: addr, Err: err}
		}
	}

	return &IdentifyError{Kind: IdentifyNetwork, Addr: addr, Err: err}
}

// newProtocolError builds a definitive protocol-mismatch error
func newProtocolError(addr string, err error) *IdentifyError {
	return &IdentifyError{Kind: IdentifyProtocolMismatch, Addr: addr, Err: err}
}

// CommandErrorKind categorizes control command failures
type CommandErrorKind int

const (
	// CommandUnreachable indicates the miner could not be contacted
	CommandUnreachable CommandErrorKind = iota
	// CommandUnsupported indicates the firmware does not implement the command
	CommandUnsupported
	// CommandRejected indicates the miner answered but refused the command
	CommandRejected
)

// String returns a human-readable name for the error kind
func (k CommandErrorKind) String() string {
	switch k {
	case CommandUnreachable:
		return "unreachable"
	case CommandUnsupported:
		return "unsupported"
	case CommandRejected:
		return "rejected"
	default:
		return fmt.Sprintf("CommandErrorKind(%d)", int(k))
	}
}

// CommandError is returned when a control command fails. Control commands
// are state-changing, so callers must decide whether to reissue them;
// nothing in this package retries them automatically.
type CommandError struct {
	Kind    CommandErrorKind
	Addr    string
	Command Command
	Msg     string
	Err     error
}

// Error implements the error interface
func (e *CommandError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("command %s on %s: %s: %s", e.Command, e.Addr, e.Kind, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("command %s on %s: %s: %v", e.Command, e.Addr, e.Kind, e.Err)
	}
	return fmt.Sprintf("command %s on %s: %s", e.Command, e.Addr, e.Kind)
}

// Unwrap returns the underlying error for error chain inspection
func (e *CommandError) Unwrap() error {
	return e.Err
}
