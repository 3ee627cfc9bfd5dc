package session

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/tOgg1/jumpshell/internal/identify"
	"github.com/tOgg1/jumpshell/internal/logging"
	"github.com/tOgg1/jumpshell/internal/models"
	"github.com/tOgg1/jumpshell/internal/sanitize"
)

// Send runs command and waits for the prompt to reappear.
//
// A device-reported error matched by the prompt rule's known-error patterns is
// recorded on the result and on CommandErr; it does not end the session. The
// returned error is set only for connection-level failures, which also set
// Err. A closed channel after exit, quit or logout is a clean disconnect.
func (s *Session) Send(ctx context.Context, command string) (models.CommandResult, error) {
	res, err := s.exec(ctx, command, s.rules)

	s.mu.Lock()
	s.commandErr = res.Error
	s.mu.Unlock()
	return res, err
}

// SendAll sends commands in order, stopping on a connection-level error, or
// on the first device-reported error when failFast is set.
func (s *Session) SendAll(ctx context.Context, commands []string, failFast bool) ([]models.CommandResult, error) {
	results := make([]models.CommandResult, 0, len(commands))
	for _, cmd := range commands {
		res, err := s.Send(ctx, cmd)
		results = append(results, res)
		if err != nil {
			return results, err
		}
		if res.Closed || (failFast && res.Error != "") {
			break
		}
	}
	return results, nil
}

func isExitCommand(command string) bool {
	switch strings.ToLower(strings.TrimSpace(command)) {
	case "exit", "quit", "logout":
		return true
	}
	return false
}

// exec implements the command protocol with the given ruleset.
func (s *Session) exec(ctx context.Context, command string, rules *identify.Ruleset) (models.CommandResult, error) {
	res := models.CommandResult{Command: command}

	s.mu.Lock()
	if s.state != StateConnected || s.shell == nil {
		s.mu.Unlock()
		return res, ErrNotConnected
	}
	sh := s.shell
	s.mu.Unlock()

	log := s.log.With().Str("command", logging.Redact(command)).Logger()
	log.Debug().Msg("sending command")

	res.SentAt = s.opts.Now()
	if err := sh.Send([]byte(command + "\n")); err != nil {
		return res, s.lost(&res, err)
	}

	var window strings.Builder
	var cleaners []*regexp.Regexp
	deadline := res.SentAt.Add(s.timeouts.Session)

	for {
		text, rerr := s.drain(sh)
		if text != "" {
			window.WriteString(text)
			deadline = s.opts.Now().Add(s.timeouts.Session)

			if line := sanitize.LastLine(window.String()); line != "" {
				if ar, ok := rules.AutoResponse(line); ok {
					log.Debug().Str("found", ar.Name).Str("reply", logging.Redact(ar.Reply)).Msg("auto-response")
					if ar.Clean != nil {
						cleaners = append(cleaners, ar.Clean)
					}
					if err := sh.Send([]byte(ar.Reply)); err != nil {
						return res, s.lost(&res, err)
					}
				} else if m, ok := rules.Prompt(line); ok {
					s.complete(&res, m, window.String(), cleaners)
					if res.Error != "" {
						log.Warn().Str("error", res.Error).Dur("elapsed", res.CompletedAt.Sub(res.SentAt)).Msg("command failed")
					} else {
						log.Debug().Dur("elapsed", res.CompletedAt.Sub(res.SentAt)).Msg("command completed")
					}
					return res, nil
				}
			}
		}

		if sh.Closed() || (rerr != nil && !errors.Is(rerr, io.EOF)) {
			if isExitCommand(command) && (rerr == nil || errors.Is(rerr, io.EOF)) {
				res.Closed = true
				res.CompletedAt = s.opts.Now()
				res.Output = cleanOutput(window.String(), command, "", cleaners)
				log.Debug().Dur("elapsed", res.CompletedAt.Sub(res.SentAt)).Msg("session closed by command")
				s.Disconnect()
				return res, nil
			}
			return res, s.lost(&res, rerr)
		}

		if s.opts.Now().After(deadline) {
			res.CompletedAt = s.opts.Now()
			res.Output = cleanOutput(window.String(), command, "", cleaners)
			ce := &ConnectError{Kind: KindTimeout, Message: MsgNoPrompt}
			log.Warn().Str("error", ce.Message).Msg("command timed out")
			s.setError(ce)
			return res, ce
		}

		if err := s.opts.Sleep(ctx, s.opts.PollInterval); err != nil {
			res.CompletedAt = s.opts.Now()
			ce := &ConnectError{Kind: KindCancelled, Message: MsgCancelled, Err: err}
			s.setError(ce)
			return res, ce
		}
	}
}

func (s *Session) lost(res *models.CommandResult, err error) error {
	res.CompletedAt = s.opts.Now()
	ce := &ConnectError{Kind: KindConnectionLost, Message: MsgConnectionLost, Err: err}
	s.log.Debug().Str("command", logging.Redact(res.Command)).Msg("connection lost")
	s.setError(ce)
	return ce
}

// complete finalises a command whose output window ended with prompt m.
func (s *Session) complete(res *models.CommandResult, m identify.Match, window string, cleaners []*regexp.Regexp) {
	res.CompletedAt = s.opts.Now()
	res.Prompt = m.Line

	body := strings.TrimSuffix(window, m.Line)
	if msg, ok := m.KnownError(body); ok {
		res.Error = msg
	}
	res.Output = cleanOutput(window, res.Command, m.Line, cleaners)

	s.mu.Lock()
	s.prompt = m
	s.hasPrompt = true
	s.mu.Unlock()
}

// cleanOutput strips the trailing prompt, pager residue and the echoed
// command line, and normalises line endings.
func cleanOutput(window, command, prompt string, cleaners []*regexp.Regexp) string {
	out := window
	if prompt != "" {
		out = strings.TrimSuffix(out, prompt)
	}
	for _, re := range cleaners {
		out = re.ReplaceAllString(out, "")
	}
	out = strings.TrimSuffix(out, "\n")
	out = strings.TrimSuffix(out, "\r")

	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = sanitize.Redraw(line)
	}
	if len(lines) > 0 && strings.TrimSpace(lines[0]) == strings.TrimSpace(command) {
		lines = lines[1:]
	}
	return strings.Join(lines, "\n")
}
