// Package session drives one interactive shell connection to a device: login,
// prompt discovery and prompt-delimited command execution.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/jumpshell/internal/identify"
	"github.com/tOgg1/jumpshell/internal/logging"
	"github.com/tOgg1/jumpshell/internal/models"
	"github.com/tOgg1/jumpshell/internal/sanitize"
	"github.com/tOgg1/jumpshell/internal/transport"
)

// Defaults applied to zero-valued options.
const (
	DefaultConnectionTimeout = 10 * time.Second
	DefaultSessionTimeout    = 180 * time.Second
	DefaultKeepalive         = 120 * time.Second
	DefaultRetries           = 2
	DefaultRetryInterval     = 15 * time.Second
	DefaultPollInterval      = 10 * time.Millisecond
)

const recvSize = 65536

// DefaultTimeouts returns the built-in connection timing.
func DefaultTimeouts() models.Timeouts {
	return models.Timeouts{
		Connection:    DefaultConnectionTimeout,
		Session:       DefaultSessionTimeout,
		Keepalive:     DefaultKeepalive,
		Retries:       DefaultRetries,
		RetryInterval: DefaultRetryInterval,
	}
}

// State is the lifecycle state of a session.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
	StateDisconnected State = "disconnected"
)

// Options configure a session.
type Options struct {
	// ID identifies the session in logs and as a jump-host pool occupant.
	ID string

	Host        string
	Port        int
	Description string

	// Auth profiles are tried in order.
	Auth []models.AuthProfile

	Timeouts models.Timeouts

	// Vendor is an assumed vendor that overrides detection.
	Vendor string

	// Via is a connected jump-host session to tunnel through.
	Via *Session

	Dialer transport.Dialer
	Rules  *identify.Ruleset

	// PollInterval is the sleep between reads while waiting for output.
	PollInterval time.Duration

	// Now and Sleep are replaced in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Session is one connection lifetime to one host.
type Session struct {
	opts     Options
	timeouts models.Timeouts
	rules    *identify.Ruleset
	log      zerolog.Logger

	mu          sync.Mutex
	state       State
	err         *ConnectError
	commandErr  string
	channel     transport.Channel
	shell       transport.Shell
	stream      sanitize.Stream
	raw         []byte
	history     strings.Builder
	prompt      identify.Match
	hasPrompt   bool
	versionHint string
	authUser    string
	banner      string
	version     string
	connectedAt time.Time
	activity    time.Time
	keepalive   time.Time
}

// New creates a session. No I/O happens until Connect.
func New(opts Options) *Session {
	if opts.Port == 0 {
		opts.Port = models.DefaultSSHPort
	}
	if opts.Rules == nil {
		opts.Rules = identify.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	timeouts := opts.Timeouts.Merge(DefaultTimeouts())
	if timeouts.Retries < 1 {
		timeouts.Retries = 1
	}

	log := logging.WithHost("session", opts.Host, opts.Port)
	if opts.ID != "" {
		log = log.With().Str("session_id", opts.ID).Logger()
	}

	return &Session{
		opts:     opts,
		timeouts: timeouts,
		rules:    opts.Rules,
		log:      log,
		state:    StateIdle,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.opts.ID }

// Host returns the target host.
func (s *Session) Host() string { return s.opts.Host }

// Port returns the target port.
func (s *Session) Port() int { return s.opts.Port }

// Label returns the description, or host:port when there is none.
func (s *Session) Label() string {
	if s.opts.Description != "" {
		return s.opts.Description
	}
	return transport.Target{Host: s.opts.Host, Port: s.opts.Port}.Address()
}

// Timeouts returns the effective timing after defaults.
func (s *Session) Timeouts() models.Timeouts { return s.timeouts }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the connection-level error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		return nil
	}
	return s.err
}

// CommandErr returns the device error reported by the last command, if any.
func (s *Session) CommandErr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commandErr
}

// Prompt returns the last identified prompt.
func (s *Session) Prompt() (identify.Match, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt, s.hasPrompt
}

// Vendor returns the assumed vendor, else the vendor of the matched prompt
// rule, else the guess from the server version. When the prompt rule names
// several vendors, the version guess picks among them.
func (s *Session) Vendor() string {
	if s.opts.Vendor != "" {
		return s.opts.Vendor
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasPrompt || s.prompt.Rule == nil || s.prompt.Rule.Vendor == "" {
		return s.versionHint
	}
	vendor := s.prompt.Rule.Vendor
	if !strings.Contains(vendor, "|") {
		return vendor
	}
	for _, v := range strings.Split(vendor, "|") {
		if v == s.versionHint {
			return v
		}
	}
	return vendor
}

// History returns all sanitized output seen on the session.
func (s *Session) History() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.String()
}

// Raw returns all bytes received on the session.
func (s *Session) Raw() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.raw))
	copy(out, s.raw)
	return out
}

// AuthenticatedAs returns the username of the profile that logged in.
func (s *Session) AuthenticatedAs() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authUser
}

// Banner returns the pre-login banner.
func (s *Session) Banner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banner
}

// ServerVersion returns the server's protocol version string.
func (s *Session) ServerVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// WasConnected reports whether the session ever reached the connected state.
func (s *Session) WasConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.connectedAt.IsZero()
}

// channelForTunnel returns the open channel when the session is connected.
func (s *Session) channelForTunnel() transport.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return nil
	}
	return s.channel
}

func (s *Session) setError(ce *ConnectError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = ce
	if s.state != StateDisconnected {
		s.state = StateError
	}
}

func (s *Session) appendOutput(raw []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = append(s.raw, raw...)
	text := s.stream.Feed(raw)
	s.history.WriteString(text)
	s.activity = s.opts.Now()
	return text
}

// drain reads everything currently buffered on sh.
func (s *Session) drain(sh transport.Shell) (string, error) {
	var out strings.Builder
	for sh.RecvReady() {
		p, err := sh.Recv(recvSize)
		if len(p) > 0 {
			out.WriteString(s.appendOutput(p))
		}
		if err != nil {
			return out.String(), err
		}
		if len(p) == 0 {
			break
		}
	}
	return out.String(), nil
}

// Disconnect closes the shell and channel. It is safe to call more than once.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	prev := s.state
	sh, ch := s.shell, s.channel
	s.shell, s.channel = nil, nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if sh != nil {
		_ = sh.Close()
	}
	if ch != nil {
		_ = ch.Close()
	}
	if prev == StateConnected {
		s.log.Debug().Msg("session closed")
	}
}

// KeepaliveDue reports whether the connection has been idle for longer than
// the keepalive interval.
func (s *Session) KeepaliveDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return false
	}
	last := s.activity
	if s.keepalive.After(last) {
		last = s.keepalive
	}
	return s.opts.Now().Sub(last) >= s.timeouts.Keepalive
}

// Keepalive checks the connection is still alive. A failed check marks the connection lost.
func (s *Session) Keepalive() error {
	s.mu.Lock()
	ch := s.channel
	connected := s.state == StateConnected
	s.mu.Unlock()
	if !connected || ch == nil {
		return ErrNotConnected
	}

	if err := ch.Keepalive(); err != nil {
		s.log.Warn().Err(err).Msg("keepalive failed")
		ce := &ConnectError{Kind: KindConnectionLost, Message: MsgConnectionLost, Err: err}
		s.setError(ce)
		return ce
	}

	s.mu.Lock()
	s.keepalive = s.opts.Now()
	s.mu.Unlock()
	s.log.Debug().Msg("keepalive sent")
	return nil
}
