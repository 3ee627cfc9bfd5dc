package transport

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/creack/pty"
)

// LocalDialer runs a shell on the local machine under a pseudo-terminal. It
// lets batches include the control host itself and drives tests without a
// network.
type LocalDialer struct {
	// Shell is the program to run. Defaults to $SHELL, then /bin/sh.
	Shell string
	Args  []string
	Env   []string
	PTY   PTY
}

// NewLocalDialer creates a local dialer.
func NewLocalDialer() *LocalDialer {
	return &LocalDialer{PTY: DefaultPTY}
}

// Open implements Dialer. Credentials are ignored.
func (d *LocalDialer) Open(ctx context.Context, target Target, creds Credentials, timeout time.Duration) (Channel, error) {
	shell := d.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	return &localChannel{shell: shell, args: d.Args, env: d.Env, pty: d.PTY}, nil
}

// OpenVia implements Dialer. Local shells cannot tunnel.
func (d *LocalDialer) OpenVia(ctx context.Context, parent Channel, target Target, creds Credentials, timeout time.Duration) (Channel, error) {
	return nil, ErrUnsupportedParent
}

type localChannel struct {
	shell string
	args  []string
	env   []string
	pty   PTY
}

func (c *localChannel) ServerVersion() string { return "" }

func (c *localChannel) Banner() string { return "" }

func (c *localChannel) InvokeShell(ctx context.Context) (Shell, error) {
	cmd := exec.Command(c.shell, c.args...)
	cmd.Env = append(os.Environ(), "TERM="+c.pty.Term)
	cmd.Env = append(cmd.Env, c.env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(c.pty.Height),
		Cols: uint16(c.pty.Width),
	})
	if err != nil {
		return nil, err
	}

	closer := func() error {
		err := ptmx.Close()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
		return err
	}
	return newStreamShell(ptmx, closer, &ptyReader{f: ptmx}), nil
}

func (c *localChannel) Keepalive() error { return nil }

func (c *localChannel) Close() error { return nil }

// ptyReader maps the EIO returned by a pty master after the child exits to EOF.
type ptyReader struct {
	f *os.File
}

func (r *ptyReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return n, io.EOF
		}
	}
	return n, err
}
