package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
		stop    bool
	}{
		{
			name:    "auth sentinel",
			err:     fmt.Errorf("%w: ssh: handshake failed", ErrAuthFailed),
			message: "Authentication failed",
			stop:    true,
		},
		{
			name:    "auth from handshake text",
			err:     errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password], no supported methods remain"),
			message: "Authentication failed",
			stop:    true,
		},
		{
			name:    "bad auth type",
			err:     errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none], no supported methods remain"),
			message: "Bad authentication type",
			stop:    true,
		},
		{
			name:    "channel refused",
			err:     &ssh.OpenChannelError{Reason: ssh.ConnectionFailed, Message: "Connect failed"},
			message: "Permission denied",
			stop:    true,
		},
		{
			name:    "dns",
			err:     &net.OpError{Op: "dial", Err: &net.DNSError{Err: "no such host", Name: "nope.invalid"}},
			message: "Unable to resolve 'nope.invalid'",
		},
		{
			name:    "deadline",
			err:     context.DeadlineExceeded,
			message: "Connection timed out",
		},
		{
			name:    "timeout sentinel",
			err:     ErrTimeout,
			message: "Connection timed out",
		},
		{
			name:    "refused",
			err:     &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED},
			message: "Connection refused",
		},
		{
			name:    "eof",
			err:     io.EOF,
			message: "Connection reset",
		},
		{
			name:    "other",
			err:     errors.New("ssh: something odd happened."),
			message: "Something odd happened",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Classify(tt.err, "nope.invalid")
			require.NotNil(t, f)
			require.Equal(t, tt.message, f.Message)
			require.Equal(t, tt.stop, f.StopRetries)
			require.ErrorIs(t, f, tt.err)
		})
	}

	require.Nil(t, Classify(nil, "h"))
}

func TestClassifyPassesThroughFailure(t *testing.T) {
	orig := &Failure{Message: "Device OS issue: No space left on device", StopRetries: true}
	wrapped := fmt.Errorf("attempt 1: %w", orig)
	require.Same(t, orig, Classify(wrapped, "h"))
}
