// Package transport opens authenticated byte-stream channels to devices and
// exposes interactive shells with non-blocking reads.
package transport

import (
	"context"
	"net"
	"strconv"
	"time"
)

// Target is a host to connect to.
type Target struct {
	Host string
	Port int
}

// Address returns host:port, defaulting the port to 22.
func (t Target) Address() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// Credentials authenticate a single connection attempt.
type Credentials struct {
	Username string
	Password string
}

// Dialer opens channels to targets.
type Dialer interface {
	// Open connects directly to target.
	Open(ctx context.Context, target Target, creds Credentials, timeout time.Duration) (Channel, error)

	// OpenVia tunnels a new channel to target through an open parent channel.
	OpenVia(ctx context.Context, parent Channel, target Target, creds Credentials, timeout time.Duration) (Channel, error)
}

// Channel is an authenticated connection to one host.
type Channel interface {
	// ServerVersion is the protocol identification string sent by the server.
	ServerVersion() string

	// Banner is the pre-authentication banner, if any.
	Banner() string

	// InvokeShell starts an interactive shell on a pseudo-terminal.
	InvokeShell(ctx context.Context) (Shell, error)

	// Keepalive sends a keepalive request on the connection.
	Keepalive() error

	Close() error
}

// Shell is an interactive shell with non-blocking reads.
type Shell interface {
	// RecvReady reports whether buffered output is available.
	RecvReady() bool

	// Recv returns up to max buffered bytes without blocking.
	Recv(max int) ([]byte, error)

	// Send writes p to the shell's input.
	Send(p []byte) error

	// Closed reports whether the remote end has closed and all output has been read.
	Closed() bool

	Close() error
}

// LocalHost is the target host name served by the local pseudo-terminal dialer.
const LocalHost = "local"

// Router sends targets named LocalHost to a local dialer and everything else
// to the remote dialer.
type Router struct {
	Remote Dialer
	Local  Dialer
}

// Open implements Dialer.
func (r *Router) Open(ctx context.Context, target Target, creds Credentials, timeout time.Duration) (Channel, error) {
	if target.Host == LocalHost && r.Local != nil {
		return r.Local.Open(ctx, target, creds, timeout)
	}
	return r.Remote.Open(ctx, target, creds, timeout)
}

// OpenVia implements Dialer. Tunnels are always remote.
func (r *Router) OpenVia(ctx context.Context, parent Channel, target Target, creds Credentials, timeout time.Duration) (Channel, error) {
	return r.Remote.OpenVia(ctx, parent, target, creds, timeout)
}
