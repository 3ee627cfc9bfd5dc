package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// skipIfNoNetwork skips tests that listen on loopback sockets, which some
// sandboxes do not allow.
func skipIfNoNetwork(t *testing.T) {
	t.Helper()
	if os.Getenv("JUMPSHELL_TEST_SKIP_NETWORK") != "" {
		t.Skip("skipping network test: JUMPSHELL_TEST_SKIP_NETWORK is set")
	}
}

type testServer struct {
	addr    string
	prompt  string
	banner  string
	user    string
	pass    string
	refused map[string]bool

	mu        sync.Mutex
	keepalive int
}

// startTestServer starts an in-process SSH server that accepts user/pass,
// prints prompt on shell start and answers "echo X" with X. It forwards
// direct-tcpip channels to real addresses unless the address is refused.
func startTestServer(t *testing.T, user, pass, prompt string) *testServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	srv := &testServer{prompt: prompt, user: user, pass: pass, refused: map[string]bool{}}
	config := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if conn.User() == srv.user && string(password) == srv.pass {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("password rejected for %q", conn.User())
		},
		BannerCallback: func(conn ssh.ConnMetadata) string {
			srv.mu.Lock()
			defer srv.mu.Unlock()
			return srv.banner
		},
		ServerVersion: "SSH-2.0-Cisco-1.25",
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv.addr = listener.Addr().String()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go srv.handleConn(conn, config)
		}
	}()
	t.Cleanup(func() {
		listener.Close()
		<-done
	})
	return srv
}

func (s *testServer) target() Target {
	host, port, _ := net.SplitHostPort(s.addr)
	var p int
	fmt.Sscanf(port, "%d", &p)
	return Target{Host: host, Port: p}
}

func (s *testServer) keepalives() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keepalive
}

func (s *testServer) handleConn(netConn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()

	go func() {
		for req := range reqs {
			if req.Type == "keepalive@openssh.com" {
				s.mu.Lock()
				s.keepalive++
				s.mu.Unlock()
			}
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}()

	for newChan := range chans {
		switch newChan.ChannelType() {
		case "session":
			ch, requests, err := newChan.Accept()
			if err != nil {
				continue
			}
			go s.handleSession(ch, requests)
		case "direct-tcpip":
			go s.handleForward(newChan)
		default:
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
		}
	}
}

func (s *testServer) handleForward(newChan ssh.NewChannel) {
	var payload struct {
		DestAddr string
		DestPort uint32
		OrigAddr string
		OrigPort uint32
	}
	if err := ssh.Unmarshal(newChan.ExtraData(), &payload); err != nil {
		newChan.Reject(ssh.ConnectionFailed, "bad payload")
		return
	}
	addr := net.JoinHostPort(payload.DestAddr, fmt.Sprint(payload.DestPort))
	s.mu.Lock()
	refused := s.refused[addr]
	s.mu.Unlock()
	if refused {
		newChan.Reject(ssh.ConnectionFailed, "Connect failed")
		return
	}
	upstream, err := net.Dial("tcp", addr)
	if err != nil {
		newChan.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	ch, reqs, err := newChan.Accept()
	if err != nil {
		upstream.Close()
		return
	}
	go ssh.DiscardRequests(reqs)
	go func() {
		io.Copy(ch, upstream)
		ch.CloseWrite()
	}()
	io.Copy(upstream, ch)
	upstream.Close()
	ch.Close()
}

func (s *testServer) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		switch req.Type {
		case "pty-req":
			req.Reply(true, nil)
		case "shell":
			req.Reply(true, nil)
			go s.runShell(ch)
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *testServer) runShell(ch ssh.Channel) {
	ch.Write([]byte("Welcome\r\n" + s.prompt))
	var line strings.Builder
	buf := make([]byte, 256)
	for {
		n, err := ch.Read(buf)
		for _, b := range buf[:n] {
			if b != '\n' {
				line.WriteByte(b)
				continue
			}
			cmd := line.String()
			line.Reset()
			ch.Write([]byte(cmd + "\r\n"))
			if cmd == "exit" {
				ch.Close()
				return
			}
			if strings.HasPrefix(cmd, "echo ") {
				ch.Write([]byte(strings.TrimPrefix(cmd, "echo ") + "\r\n"))
			}
			ch.Write([]byte(s.prompt))
		}
		if err != nil {
			return
		}
	}
}

func readUntil(t *testing.T, sh Shell, target string, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var acc strings.Builder
	for time.Now().Before(deadline) {
		data, err := sh.Recv(4096)
		acc.Write(data)
		if strings.Contains(acc.String(), target) {
			return acc.String()
		}
		if err != nil {
			t.Fatalf("read error waiting for %q: %v, got %q", target, err, acc.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %q, got %q", target, acc.String())
	return ""
}

func TestSSHDialerOpen(t *testing.T) {
	skipIfNoNetwork(t)
	srv := startTestServer(t, "u", "p", "router1#")
	srv.mu.Lock()
	srv.banner = "Authorized access only\n"
	srv.mu.Unlock()

	d := NewSSHDialer()
	ctx := context.Background()

	ch, err := d.Open(ctx, srv.target(), Credentials{Username: "u", Password: "p"}, 5*time.Second)
	require.NoError(t, err)
	defer ch.Close()

	require.Equal(t, "SSH-2.0-Cisco-1.25", ch.ServerVersion())
	require.Equal(t, "Authorized access only\n", ch.Banner())

	sh, err := ch.InvokeShell(ctx)
	require.NoError(t, err)
	defer sh.Close()

	readUntil(t, sh, "router1#", 5*time.Second)
	require.NoError(t, sh.Send([]byte("echo hi\n")))
	out := readUntil(t, sh, "hi\r\nrouter1#", 5*time.Second)
	require.Contains(t, out, "echo hi")

	require.NoError(t, ch.Keepalive())
	require.Eventually(t, func() bool { return srv.keepalives() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, sh.Send([]byte("exit\n")))
	require.Eventually(t, sh.Closed, 5*time.Second, 5*time.Millisecond)
}

func TestSSHDialerAuthFailure(t *testing.T) {
	skipIfNoNetwork(t)
	srv := startTestServer(t, "u", "p", "router1#")

	_, err := NewSSHDialer().Open(context.Background(), srv.target(), Credentials{Username: "u", Password: "wrong"}, 5*time.Second)
	require.ErrorIs(t, err, ErrAuthFailed)

	f := Classify(err, "127.0.0.1")
	require.Equal(t, "Authentication failed", f.Message)
	require.True(t, f.StopRetries)
}

func TestSSHDialerConnectionRefused(t *testing.T) {
	skipIfNoNetwork(t)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().(*net.TCPAddr)
	listener.Close()

	_, err = NewSSHDialer().Open(context.Background(), Target{Host: "127.0.0.1", Port: addr.Port}, Credentials{Username: "u"}, 2*time.Second)
	require.Error(t, err)
	require.Equal(t, "Connection refused", Classify(err, "127.0.0.1").Message)
}

func TestSSHDialerHandshakeTimeout(t *testing.T) {
	skipIfNoNetwork(t)
	// accepts TCP but never speaks SSH
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()
	addr := listener.Addr().(*net.TCPAddr)

	start := time.Now()
	_, err = NewSSHDialer().Open(context.Background(), Target{Host: "127.0.0.1", Port: addr.Port}, Credentials{Username: "u"}, 200*time.Millisecond)
	require.Error(t, err)
	require.Less(t, time.Since(start), 3*time.Second)
	require.Equal(t, "Connection timed out", Classify(err, "127.0.0.1").Message)
}

func TestSSHDialerOpenVia(t *testing.T) {
	skipIfNoNetwork(t)
	target := startTestServer(t, "dev", "devpass", "u@host:~$ ")
	jump := startTestServer(t, "jump", "jumppass", "jump$ ")

	d := NewSSHDialer()
	ctx := context.Background()

	parent, err := d.Open(ctx, jump.target(), Credentials{Username: "jump", Password: "jumppass"}, 5*time.Second)
	require.NoError(t, err)
	defer parent.Close()

	child, err := d.OpenVia(ctx, parent, target.target(), Credentials{Username: "dev", Password: "devpass"}, 5*time.Second)
	require.NoError(t, err)
	defer child.Close()

	sh, err := child.InvokeShell(ctx)
	require.NoError(t, err)
	defer sh.Close()
	readUntil(t, sh, "u@host:~$ ", 5*time.Second)

	// refused tunnels surface as permission denied
	jump.mu.Lock()
	jump.refused[target.addr] = true
	jump.mu.Unlock()
	_, err = d.OpenVia(ctx, parent, target.target(), Credentials{Username: "dev", Password: "devpass"}, 5*time.Second)
	require.Error(t, err)
	f := Classify(err, target.target().Host)
	require.Equal(t, "Permission denied", f.Message)
	require.True(t, f.StopRetries)
}

func TestSSHDialerOpenViaResolvesAliases(t *testing.T) {
	skipIfNoNetwork(t)
	target := startTestServer(t, "dev", "devpass", "sw1#")
	jump := startTestServer(t, "jump", "jumppass", "jump$ ")

	cfg, err := ParseSSHConfig([]byte(fmt.Sprintf("Host core-sw1\n  HostName %s\n  Port %d\n",
		target.target().Host, target.target().Port)))
	require.NoError(t, err)
	d := NewSSHDialer(WithAliases(cfg))
	ctx := context.Background()

	parent, err := d.Open(ctx, jump.target(), Credentials{Username: "jump", Password: "jumppass"}, 5*time.Second)
	require.NoError(t, err)
	defer parent.Close()

	// the jump host only knows the real address
	child, err := d.OpenVia(ctx, parent, Target{Host: "core-sw1"}, Credentials{Username: "dev", Password: "devpass"}, 5*time.Second)
	require.NoError(t, err)
	defer child.Close()

	sh, err := child.InvokeShell(ctx)
	require.NoError(t, err)
	defer sh.Close()
	readUntil(t, sh, "sw1#", 5*time.Second)
}

type closeCountingConn struct {
	ssh.Conn
	closed chan struct{}
}

func (c *closeCountingConn) Close() error {
	close(c.closed)
	return nil
}

func TestAwaitHandshakeClosesLateClient(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan handshakeResult, 1)

	_, err := awaitHandshake(ctx, local, done)
	require.ErrorIs(t, err, context.Canceled)

	// the handshake finishes after the caller gave up
	late := &closeCountingConn{closed: make(chan struct{})}
	done <- handshakeResult{conn: late}

	select {
	case <-late.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("client from a late handshake was not closed")
	}
	_, err = remote.Write([]byte("x"))
	require.Error(t, err, "underlying conn closed")
}

func TestAwaitHandshakeTimeout(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	done := make(chan handshakeResult, 1)

	_, err := awaitHandshake(ctx, local, done)
	require.ErrorIs(t, err, ErrTimeout)
	done <- handshakeResult{err: io.EOF}
}

func TestOpenViaRejectsForeignParent(t *testing.T) {
	_, err := NewSSHDialer().OpenVia(context.Background(), &localChannel{}, Target{Host: "x"}, Credentials{}, time.Second)
	require.ErrorIs(t, err, ErrUnsupportedParent)
}
