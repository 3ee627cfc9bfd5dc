package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tOgg1/jumpshell/internal/transport"
)

var (
	// ErrNotConnected is returned by Send when the session is not connected.
	ErrNotConnected = errors.New("session is not connected")

	// ErrAlreadyUsed is returned when Connect is called on a session that has
	// already been connected or disconnected.
	ErrAlreadyUsed = errors.New("session already used")

	// ErrNoAuth is returned by Connect when no authentication profiles are configured.
	ErrNoAuth = errors.New("no authentication profiles")
)

// ErrorKind groups connection failures for reporting.
type ErrorKind string

const (
	KindTransport      ErrorKind = "transport"
	KindAuth           ErrorKind = "auth"
	KindPermission     ErrorKind = "permission"
	KindDNS            ErrorKind = "dns"
	KindTimeout        ErrorKind = "timeout"
	KindPrompt         ErrorKind = "prompt"
	KindConnectionLost ErrorKind = "connection_lost"
	KindDevice         ErrorKind = "device"
	KindCancelled      ErrorKind = "cancelled"
)

// Messages recorded on sessions for failures detected by the session itself.
const (
	MsgConnectionLost = "Connection lost"
	MsgUnknownPrompt  = "Timed out, unknown prompt"
	MsgNoPrompt       = "Timed out, no prompt detected"
	MsgCancelled      = "Cancelled"
)

// ConnectError is the terminal error of a session.
type ConnectError struct {
	Kind    ErrorKind
	Message string

	// StopRetries means further attempts with the same profile were skipped.
	StopRetries bool

	Err error
}

func (e *ConnectError) Error() string { return e.Message }

func (e *ConnectError) Unwrap() error { return e.Err }

// IsKind reports whether err is a ConnectError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *ConnectError
	return errors.As(err, &ce) && ce.Kind == kind
}

func classify(err error, host string) *ConnectError {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce
	}
	f := transport.Classify(err, host)
	kind := KindTransport
	switch {
	case errors.Is(err, transport.ErrAuthFailed), errors.Is(err, transport.ErrBadAuthType),
		f.Message == "Authentication failed", f.Message == "Bad authentication type":
		kind = KindAuth
	case f.Message == "Permission denied":
		kind = KindPermission
	case strings.HasPrefix(f.Message, "Unable to resolve"):
		kind = KindDNS
	case f.Message == "Connection timed out":
		kind = KindTimeout
	}
	return &ConnectError{Kind: kind, Message: f.Message, StopRetries: f.StopRetries, Err: err}
}

func jumpNotConnected(host string) *ConnectError {
	return &ConnectError{
		Kind:    KindTransport,
		Message: fmt.Sprintf("Jump host '%s' is not connected", host),
	}
}
