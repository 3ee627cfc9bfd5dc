package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"golang.org/x/crypto/ssh"
)

var (
	// ErrAuthFailed indicates the server rejected the credentials.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrBadAuthType indicates the server offers no method we can use.
	ErrBadAuthType = errors.New("bad authentication type")

	// ErrPermissionDenied indicates a jump host refused to open a tunnel.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrTimeout indicates the connection or handshake timed out.
	ErrTimeout = errors.New("connection timed out")

	// ErrShellClosed is returned when writing to a closed shell.
	ErrShellClosed = errors.New("shell closed")

	// ErrUnsupportedParent is returned when a parent channel cannot tunnel.
	ErrUnsupportedParent = errors.New("parent channel does not support tunneling")
)

// Failure is a classified connection error.
type Failure struct {
	// Message is the human-readable description recorded on the task.
	Message string

	// StopRetries means retrying with the same credentials is pointless.
	StopRetries bool

	Err error
}

func (f *Failure) Error() string { return f.Message }

func (f *Failure) Unwrap() error { return f.Err }

// Classify maps a low-level connection error to a Failure.
func Classify(err error, host string) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	msg := err.Error()

	var openErr *ssh.OpenChannelError
	if errors.As(err, &openErr) {
		if openErr.Reason == ssh.ConnectionFailed || openErr.Reason == ssh.Prohibited {
			return &Failure{Message: "Permission denied", StopRetries: true, Err: err}
		}
		return &Failure{Message: trimMessage(openErr.Message), Err: err}
	}

	switch {
	case errors.Is(err, ErrPermissionDenied):
		return &Failure{Message: "Permission denied", StopRetries: true, Err: err}
	case errors.Is(err, ErrBadAuthType) || strings.Contains(msg, "attempted methods [none]"):
		return &Failure{Message: "Bad authentication type", StopRetries: true, Err: err}
	case errors.Is(err, ErrAuthFailed) || strings.Contains(msg, "unable to authenticate"):
		return &Failure{Message: "Authentication failed", StopRetries: true, Err: err}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
		return &Failure{Message: fmt.Sprintf("Unable to resolve '%s'", host), Err: err}
	}

	var netErr net.Error
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return &Failure{Message: "Connection timed out", Err: err}
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return &Failure{Message: "Connection refused", Err: err}
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return &Failure{Message: "Connection reset", Err: err}
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return &Failure{Message: "No route to host", Err: err}
	}

	return &Failure{Message: trimMessage(msg), Err: err}
}

func trimMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	msg = strings.TrimPrefix(msg, "ssh: ")
	msg = strings.TrimSuffix(msg, ".")
	if msg == "" {
		return "Unknown error"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}
