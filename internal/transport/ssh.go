package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/net/proxy"
)

// PTY describes the pseudo-terminal requested for interactive shells.
type PTY struct {
	Term   string
	Width  int
	Height int
}

// DefaultPTY is wide enough that most devices do not wrap long lines.
var DefaultPTY = PTY{Term: "vt100", Width: 511, Height: 24}

// SSHDialer opens channels over SSH.
type SSHDialer struct {
	// HostKeyCallback verifies servers. Defaults to accepting any key.
	HostKeyCallback ssh.HostKeyCallback

	// SocksProxy, when set, routes direct connections through a SOCKS5 proxy.
	SocksProxy string

	// Aliases rewrites host names and ports from an ssh_config file.
	Aliases *SSHConfig

	PTY PTY

	// KeepaliveRequest is the global request type used by Keepalive.
	KeepaliveRequest string
}

// SSHOption configures an SSHDialer.
type SSHOption func(*SSHDialer)

// WithHostKeyCallback sets the host key verification callback.
func WithHostKeyCallback(cb ssh.HostKeyCallback) SSHOption {
	return func(d *SSHDialer) { d.HostKeyCallback = cb }
}

// WithSocksProxy routes direct connections through a SOCKS5 proxy.
func WithSocksProxy(addr string) SSHOption {
	return func(d *SSHDialer) { d.SocksProxy = addr }
}

// WithAliases applies ssh_config HostName and Port entries.
func WithAliases(cfg *SSHConfig) SSHOption {
	return func(d *SSHDialer) { d.Aliases = cfg }
}

// WithPTY sets the pseudo-terminal geometry.
func WithPTY(p PTY) SSHOption {
	return func(d *SSHDialer) { d.PTY = p }
}

// NewSSHDialer creates an SSH dialer.
func NewSSHDialer(opts ...SSHOption) *SSHDialer {
	d := &SSHDialer{
		HostKeyCallback:  ssh.InsecureIgnoreHostKey(),
		PTY:              DefaultPTY,
		KeepaliveRequest: "keepalive@openssh.com",
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open implements Dialer.
func (d *SSHDialer) Open(ctx context.Context, target Target, creds Credentials, timeout time.Duration) (Channel, error) {
	target = d.resolve(target)
	addr := target.Address()

	dialCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := d.dial(dialCtx, addr)
	if err != nil {
		return nil, err
	}
	return d.handshake(dialCtx, conn, addr, creds, timeout)
}

// OpenVia implements Dialer. The parent must be a channel returned by an
// SSHDialer. Aliases are applied locally, so the jump host is asked to
// forward to the resolved address.
func (d *SSHDialer) OpenVia(ctx context.Context, parent Channel, target Target, creds Credentials, timeout time.Duration) (Channel, error) {
	p, ok := parent.(*sshChannel)
	if !ok {
		return nil, ErrUnsupportedParent
	}
	target = d.resolve(target)
	addr := target.Address()

	dialCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := p.client.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return d.handshake(dialCtx, conn, addr, creds, timeout)
}

func (d *SSHDialer) resolve(target Target) Target {
	if d.Aliases == nil {
		return target
	}
	host, port := d.Aliases.Resolve(target.Host)
	if host != "" {
		target.Host = host
	}
	if target.Port == 0 && port != 0 {
		target.Port = port
	}
	return target
}

func (d *SSHDialer) dial(ctx context.Context, addr string) (net.Conn, error) {
	if d.SocksProxy != "" {
		socks, err := proxy.SOCKS5("tcp", d.SocksProxy, nil, &net.Dialer{})
		if err != nil {
			return nil, fmt.Errorf("socks proxy %s: %w", d.SocksProxy, err)
		}
		if cd, ok := socks.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, "tcp", addr)
		}
		return socks.Dial("tcp", addr)
	}
	var nd net.Dialer
	return nd.DialContext(ctx, "tcp", addr)
}

// handshake runs the SSH handshake on conn, bounded by ctx. Tunneled conns do
// not support deadlines so the handshake runs in a goroutine and the conn is
// closed to abort it.
func (d *SSHDialer) handshake(ctx context.Context, conn net.Conn, addr string, creds Credentials, timeout time.Duration) (Channel, error) {
	ch := &sshChannel{pty: d.PTY, keepaliveRequest: d.KeepaliveRequest}

	config := &ssh.ClientConfig{
		User: creds.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(creds.Password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = creds.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: d.HostKeyCallback,
		BannerCallback: func(message string) error {
			ch.mu.Lock()
			ch.banner += message
			ch.mu.Unlock()
			return nil
		},
		Timeout: timeout,
	}

	done := make(chan handshakeResult, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
		done <- handshakeResult{c, chans, reqs, err}
	}()

	r, err := awaitHandshake(ctx, conn, done)
	if err != nil {
		return nil, err
	}
	if r.err != nil {
		conn.Close()
		if strings.Contains(r.err.Error(), "unable to authenticate") {
			if strings.Contains(r.err.Error(), "attempted methods [none]") {
				return nil, fmt.Errorf("%w: %v", ErrBadAuthType, r.err)
			}
			return nil, fmt.Errorf("%w: %v", ErrAuthFailed, r.err)
		}
		return nil, r.err
	}
	ch.client = ssh.NewClient(r.conn, r.chans, r.reqs)
	ch.version = string(r.conn.ServerVersion())
	return ch, nil
}

type handshakeResult struct {
	conn  ssh.Conn
	chans <-chan ssh.NewChannel
	reqs  <-chan *ssh.Request
	err   error
}

// awaitHandshake waits for the handshake goroutine or ctx. When ctx wins,
// conn is closed to unblock the handshake and a client that still came up
// is closed once it arrives.
func awaitHandshake(ctx context.Context, conn net.Conn, done <-chan handshakeResult) (handshakeResult, error) {
	select {
	case r := <-done:
		return r, nil
	case <-ctx.Done():
		conn.Close()
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		if ctx.Err() == context.DeadlineExceeded {
			return handshakeResult{}, ErrTimeout
		}
		return handshakeResult{}, ctx.Err()
	}
}

type sshChannel struct {
	mu               sync.Mutex
	client           *ssh.Client
	version          string
	banner           string
	pty              PTY
	keepaliveRequest string
}

func (c *sshChannel) ServerVersion() string { return c.version }

func (c *sshChannel) Banner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.banner
}

func (c *sshChannel) InvokeShell(ctx context.Context) (Shell, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(c.pty.Term, c.pty.Height, c.pty.Width, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stdout: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stderr: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	return newStreamShell(stdin, session.Close, stdout, stderr), nil
}

func (c *sshChannel) Keepalive() error {
	_, _, err := c.client.SendRequest(c.keepaliveRequest, true, nil)
	return err
}

func (c *sshChannel) Close() error {
	return c.client.Close()
}
