package transport

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalDialer(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("pty not supported on windows")
	}

	d := NewLocalDialer()
	d.Shell = "/bin/sh"
	d.Env = []string{"PS1=local$ "}

	ch, err := d.Open(context.Background(), Target{Host: LocalHost}, Credentials{}, time.Second)
	require.NoError(t, err)
	require.Equal(t, "", ch.ServerVersion())
	require.NoError(t, ch.Keepalive())

	sh, err := ch.InvokeShell(context.Background())
	require.NoError(t, err)
	defer sh.Close()

	require.NoError(t, sh.Send([]byte("echo jumpshell-$((40+2))\n")))
	readUntil(t, sh, "jumpshell-42", 5*time.Second)

	require.NoError(t, sh.Send([]byte("exit\n")))
	require.Eventually(t, sh.Closed, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, ch.Close())
}

func TestLocalDialerCannotTunnel(t *testing.T) {
	_, err := NewLocalDialer().OpenVia(context.Background(), nil, Target{}, Credentials{}, time.Second)
	require.ErrorIs(t, err, ErrUnsupportedParent)
}

type recordingDialer struct {
	opened []string
}

func (r *recordingDialer) Open(ctx context.Context, target Target, creds Credentials, timeout time.Duration) (Channel, error) {
	r.opened = append(r.opened, "open:"+target.Host)
	return nil, nil
}

func (r *recordingDialer) OpenVia(ctx context.Context, parent Channel, target Target, creds Credentials, timeout time.Duration) (Channel, error) {
	r.opened = append(r.opened, "via:"+target.Host)
	return nil, nil
}

func TestRouter(t *testing.T) {
	remote := &recordingDialer{}
	local := &recordingDialer{}
	r := &Router{Remote: remote, Local: local}

	_, _ = r.Open(context.Background(), Target{Host: LocalHost}, Credentials{}, time.Second)
	_, _ = r.Open(context.Background(), Target{Host: "10.0.0.1"}, Credentials{}, time.Second)
	_, _ = r.OpenVia(context.Background(), nil, Target{Host: "10.0.0.2"}, Credentials{}, time.Second)

	require.Equal(t, []string{"open:local"}, local.opened)
	require.Equal(t, []string{"open:10.0.0.1", "via:10.0.0.2"}, remote.opened)
}

func TestTargetAddress(t *testing.T) {
	require.Equal(t, "10.0.0.1:22", Target{Host: "10.0.0.1"}.Address())
	require.Equal(t, "[::1]:2222", Target{Host: "::1", Port: 2222}.Address())
}
