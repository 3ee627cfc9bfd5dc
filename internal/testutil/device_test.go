package testutil

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/jumpshell/internal/transport"
)

func drain(t *testing.T, sh transport.Shell) string {
	t.Helper()
	var b strings.Builder
	for sh.RecvReady() {
		p, err := sh.Recv(1024)
		require.NoError(t, err)
		b.Write(p)
	}
	return b.String()
}

func TestFakeDialerScriptedShell(t *testing.T) {
	d := NewFakeDialer().Add("r1", &Device{
		Users:     map[string]string{"admin": "pw"},
		Greeting:  "Welcome\r\n",
		Prompt:    "r1#",
		Responses: map[string]string{"show clock": "12:00:00 UTC"},
	})
	ctx := context.Background()

	_, err := d.Open(ctx, transport.Target{Host: "r1"}, transport.Credentials{Username: "admin", Password: "nope"}, time.Second)
	require.ErrorIs(t, err, transport.ErrAuthFailed)

	ch, err := d.Open(ctx, transport.Target{Host: "r1"}, transport.Credentials{Username: "admin", Password: "pw"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, d.Active("r1"))

	sh, err := ch.InvokeShell(ctx)
	require.NoError(t, err)
	require.Equal(t, "Welcome\r\nr1#", drain(t, sh))

	require.NoError(t, sh.Send([]byte("show clock\n")))
	require.Equal(t, "show clock\r\n12:00:00 UTC\r\nr1#", drain(t, sh))

	require.NoError(t, sh.Send([]byte("bogus\n")))
	require.Contains(t, drain(t, sh), "bogus: command not found")

	require.NoError(t, sh.Send([]byte("exit\n")))
	drain(t, sh)
	require.True(t, sh.Closed())
	require.ErrorIs(t, sh.Send([]byte("x\n")), transport.ErrShellClosed)

	require.NoError(t, ch.Close())
	require.Equal(t, 0, d.Active("r1"))
	require.Equal(t, 1, d.Peak("r1"))

	attempts := d.AttemptsFor("r1")
	require.Len(t, attempts, 2)
	require.False(t, attempts[0].OK)
	require.True(t, attempts[1].OK)
}

func TestFakeShellPagerAndEscalation(t *testing.T) {
	d := NewFakeDialer().Add("sw", &Device{
		Prompt:   "sw>",
		Pages:    map[string][]string{"show run": {"line1", "line2", "line3"}},
		Escalate: map[string]Escalation{"enable": {Password: "secret", Prompt: "sw#"}},
	})
	ctx := context.Background()
	ch, err := d.Open(ctx, transport.Target{Host: "sw"}, transport.Credentials{}, time.Second)
	require.NoError(t, err)
	sh, err := ch.InvokeShell(ctx)
	require.NoError(t, err)
	drain(t, sh)

	require.NoError(t, sh.Send([]byte("show run\n")))
	out := drain(t, sh)
	require.True(t, strings.HasSuffix(out, DefaultPager))

	require.NoError(t, sh.Send([]byte(" ")))
	require.Contains(t, drain(t, sh), "line2")
	require.NoError(t, sh.Send([]byte(" ")))
	out = drain(t, sh)
	require.Contains(t, out, "line3")
	require.True(t, strings.HasSuffix(out, "sw>"))

	require.NoError(t, sh.Send([]byte("enable\n")))
	require.True(t, strings.HasSuffix(drain(t, sh), "Password: "))
	require.NoError(t, sh.Send([]byte("wrong\n")))
	require.Contains(t, drain(t, sh), "% Access denied")

	require.NoError(t, sh.Send([]byte("enable\n")))
	drain(t, sh)
	require.NoError(t, sh.Send([]byte("secret\n")))
	require.True(t, strings.HasSuffix(drain(t, sh), "sw#"))
}

func TestFakeDialerTunnels(t *testing.T) {
	d := NewFakeDialer().
		Add("jump", &Device{Prompt: "$ "}).
		Add("locked", &Device{Prompt: "$ ", RefuseTunnels: true}).
		Add("dev", &Device{Prompt: "dev#"})
	ctx := context.Background()

	jump, err := d.Open(ctx, transport.Target{Host: "jump"}, transport.Credentials{}, time.Second)
	require.NoError(t, err)

	ch, err := d.OpenVia(ctx, jump, transport.Target{Host: "dev"}, transport.Credentials{}, time.Second)
	require.NoError(t, err)
	require.Equal(t, "jump", ch.(*FakeChannel).Parent().Host())

	sh, err := ch.InvokeShell(ctx)
	require.NoError(t, err)

	locked, err := d.Open(ctx, transport.Target{Host: "locked"}, transport.Credentials{}, time.Second)
	require.NoError(t, err)
	_, err = d.OpenVia(ctx, locked, transport.Target{Host: "dev"}, transport.Credentials{}, time.Second)
	require.ErrorIs(t, err, transport.ErrPermissionDenied)

	require.NoError(t, jump.Close())
	_, err = d.OpenVia(ctx, jump, transport.Target{Host: "dev"}, transport.Credentials{}, time.Second)
	require.Error(t, err)

	require.NoError(t, ch.Close())
	drain(t, sh)
	require.True(t, sh.Closed())
}

func TestFakeDialerOpenErrors(t *testing.T) {
	d := NewFakeDialer().Add("flaky", &Device{
		Prompt:     "#",
		OpenErrors: []error{transport.ErrTimeout},
	})
	ctx := context.Background()

	_, err := d.Open(ctx, transport.Target{Host: "flaky"}, transport.Credentials{}, time.Second)
	require.ErrorIs(t, err, transport.ErrTimeout)

	_, err = d.Open(ctx, transport.Target{Host: "flaky"}, transport.Credentials{}, time.Second)
	require.NoError(t, err)

	_, err = d.Open(ctx, transport.Target{Host: "missing"}, transport.Credentials{}, time.Second)
	require.Error(t, err)
}
