package session

import (
	"context"
	"errors"
	"io"
	"regexp"
	"time"

	"github.com/tOgg1/jumpshell/internal/identify"
	"github.com/tOgg1/jumpshell/internal/models"
	"github.com/tOgg1/jumpshell/internal/sanitize"
	"github.com/tOgg1/jumpshell/internal/transport"
)

var escalationPrompt = regexp.MustCompile(`(?i)password:\s*$`)

// Connect logs in, trying each profile up to the configured number of
// attempts, and waits for a recognisable prompt. On failure the session is
// left in the error state and the returned error is a *ConnectError.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyUsed
	}
	s.state = StateConnecting
	s.mu.Unlock()

	if len(s.opts.Auth) == 0 {
		ce := &ConnectError{Kind: KindAuth, Message: "No authentication profiles", Err: ErrNoAuth}
		s.setError(ce)
		return ce
	}
	if via := s.opts.Via; via != nil && via.State() != StateConnected {
		ce := jumpNotConnected(via.Host())
		s.setError(ce)
		return ce
	}

	var last *ConnectError
	for _, profile := range s.opts.Auth {
		for attempt := 1; attempt <= s.timeouts.Retries; attempt++ {
			if ctx.Err() != nil {
				return s.cancelled(ctx.Err())
			}

			log := s.log.With().Str("user", profile.Username).Int("attempt", attempt).Logger()
			if via := s.opts.Via; via != nil {
				log.Debug().Str("via", via.Label()).Msg("connecting via jump host")
			} else {
				log.Debug().Msg("connecting")
			}

			start := s.opts.Now()
			ce := s.attempt(ctx, profile)
			if ce == nil {
				log.Debug().Dur("elapsed", s.opts.Now().Sub(start)).Msg("connected")
				s.escalate(ctx, profile)
				return s.Err()
			}
			if ce.Kind == KindCancelled {
				s.setError(ce)
				return ce
			}

			last = ce
			log.Debug().Str("error", ce.Message).Bool("stop_retries", ce.StopRetries).Msg("connection attempt failed")
			if ce.StopRetries {
				break
			}
			if attempt < s.timeouts.Retries && s.timeouts.RetryInterval > 0 {
				if err := s.opts.Sleep(ctx, s.timeouts.RetryInterval); err != nil {
					return s.cancelled(err)
				}
			}
		}
	}

	s.log.Warn().Str("error", last.Message).Msg("connection failed")
	s.setError(last)
	return last
}

func (s *Session) cancelled(err error) error {
	ce := &ConnectError{Kind: KindCancelled, Message: MsgCancelled, Err: err}
	s.setError(ce)
	return ce
}

// attempt makes one login attempt with profile.
func (s *Session) attempt(ctx context.Context, profile models.AuthProfile) *ConnectError {
	target := transport.Target{Host: s.opts.Host, Port: s.opts.Port}
	creds := transport.Credentials{Username: profile.Username, Password: profile.Password}

	var ch transport.Channel
	var err error
	if via := s.opts.Via; via != nil {
		parent := via.channelForTunnel()
		if parent == nil {
			return jumpNotConnected(via.Host())
		}
		ch, err = s.opts.Dialer.OpenVia(ctx, parent, target, creds, s.timeouts.Connection)
	} else {
		ch, err = s.opts.Dialer.Open(ctx, target, creds, s.timeouts.Connection)
	}
	if err != nil {
		if ctx.Err() != nil {
			return &ConnectError{Kind: KindCancelled, Message: MsgCancelled, Err: ctx.Err()}
		}
		return classify(err, s.opts.Host)
	}

	version := ch.ServerVersion()
	banner := ch.Banner()
	hint, _ := s.rules.SSHVersion(version)
	if hint != "" {
		s.log.Debug().Str("vendor", identify.VendorLabel(hint)).Msg("vendor guessed from server version")
	}

	s.mu.Lock()
	s.version = version
	s.versionHint = hint
	if banner != "" {
		s.banner = banner
		s.history.WriteString(sanitize.Strip(banner))
	}
	s.mu.Unlock()

	sh, err := ch.InvokeShell(ctx)
	if err != nil {
		_ = ch.Close()
		return classify(err, s.opts.Host)
	}

	match, ce := s.acquirePrompt(ctx, sh)
	if ce != nil {
		_ = sh.Close()
		_ = ch.Close()
		return ce
	}

	now := s.opts.Now()
	s.mu.Lock()
	s.channel = ch
	s.shell = sh
	s.prompt = match
	s.hasPrompt = true
	s.authUser = profile.Username
	s.state = StateConnected
	s.err = nil
	s.connectedAt = now
	s.activity = now
	s.mu.Unlock()

	vendor := s.Vendor()
	s.log.Debug().
		Str("prompt", match.Prompt()).
		Str("rule", match.Rule.Name).
		Str("vendor", identify.VendorLabel(vendor)).
		Msg("found prompt")
	return nil
}

// acquirePrompt polls sh until the last line of output is a known prompt.
func (s *Session) acquirePrompt(ctx context.Context, sh transport.Shell) (identify.Match, *ConnectError) {
	start := s.opts.Now()
	var window string
	candidate := ""

	for {
		text, rerr := s.drain(sh)
		if text != "" {
			window += text
			candidate = sanitize.LastLine(window)

			if msg, stop, ok := s.rules.LoginFailure(window); ok {
				return identify.Match{}, &ConnectError{Kind: loginFailureKind(msg), Message: msg, StopRetries: stop}
			}
		}

		if candidate != "" {
			if m, ok := s.rules.Prompt(candidate); ok {
				return m, nil
			}
		}

		if sh.Closed() || (rerr != nil && !errors.Is(rerr, io.EOF)) {
			return identify.Match{}, &ConnectError{Kind: KindConnectionLost, Message: MsgConnectionLost, Err: rerr}
		}

		if s.opts.Now().Sub(start) > s.timeouts.Connection {
			s.log.Debug().Str("candidate", candidate).Msg("no prompt recognised")
			return identify.Match{}, &ConnectError{Kind: KindPrompt, Message: MsgUnknownPrompt}
		}

		if err := s.opts.Sleep(ctx, s.opts.PollInterval); err != nil {
			return identify.Match{}, &ConnectError{Kind: KindCancelled, Message: MsgCancelled, Err: err}
		}
	}
}

func loginFailureKind(msg string) ErrorKind {
	if msg == "Authentication failed" {
		return KindAuth
	}
	return KindDevice
}

// escalate runs the profile's privilege command, answering its password prompt.
func (s *Session) escalate(ctx context.Context, profile models.AuthProfile) {
	if profile.PrivilegeCommand == "" {
		return
	}
	rules := s.rules.WithAutoResponses(identify.AutoResponse{
		Name:  "privilege-password",
		Find:  escalationPrompt,
		Reply: profile.EscalationPassword() + "\n",
	})

	res, err := s.exec(ctx, profile.PrivilegeCommand, rules)
	switch {
	case err != nil:
		s.log.Warn().Err(err).Msg("privilege escalation failed")
	case res.Error != "":
		s.log.Warn().Str("error", res.Error).Msg("privilege escalation rejected")
	default:
		s.log.Debug().Str("prompt", res.Prompt).Msg("privileges raised")
	}
}

// Age returns how long the session has been connected.
func (s *Session) Age() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectedAt.IsZero() {
		return 0
	}
	return s.opts.Now().Sub(s.connectedAt)
}
