package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tOgg1/jumpshell/internal/transport"
)

// DefaultPager is the pager prompt written between pages of paged output.
const DefaultPager = " --More-- "

// Escalation scripts a privilege command that asks for a password.
type Escalation struct {
	Password string
	Prompt   string
}

// Device scripts the behaviour of one fake host.
type Device struct {
	// Users maps usernames to passwords. Nil accepts any credentials.
	Users map[string]string

	Version string
	Banner  string

	// Greeting is written when the shell starts, before the first prompt.
	Greeting string
	Prompt   string

	// NoPrompt suppresses every prompt the device would write.
	NoPrompt bool

	// CloseAfterGreeting closes the shell once the greeting has been written.
	CloseAfterGreeting bool

	// Responses maps commands to their output.
	Responses map[string]string

	// Pages maps commands to output split across pager prompts.
	Pages map[string][]string
	Pager string

	// Escalate maps privilege commands to the password they ask for.
	Escalate map[string]Escalation

	// Handler runs before the scripted responses, for every complete line and
	// for single keystrokes sent without a newline. Returning true marks the
	// input as handled.
	Handler func(sh *FakeShell, line string) bool

	// OpenErrors are returned by successive connection attempts before the
	// device starts accepting connections.
	OpenErrors []error

	// RefuseTunnels makes tunnels through this device fail.
	RefuseTunnels bool

	// Delay is applied to each connection attempt.
	Delay time.Duration
}

// Attempt records one connection attempt.
type Attempt struct {
	Host     string
	Username string
	Via      string
	OK       bool
}

// FakeDialer implements transport.Dialer over scripted devices.
type FakeDialer struct {
	mu       sync.Mutex
	devices  map[string]*Device
	attempts []Attempt
	failures map[string]int
	active   map[string]int
	peak     map[string]int
	shells   []*FakeShell
}

// NewFakeDialer creates a dialer with no devices.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{
		devices:  make(map[string]*Device),
		failures: make(map[string]int),
		active:   make(map[string]int),
		peak:     make(map[string]int),
	}
}

// Add registers a device under host.
func (d *FakeDialer) Add(host string, dev *Device) *FakeDialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices[host] = dev
	return d
}

// Open implements transport.Dialer.
func (d *FakeDialer) Open(ctx context.Context, target transport.Target, creds transport.Credentials, timeout time.Duration) (transport.Channel, error) {
	return d.open(ctx, nil, target, creds)
}

// OpenVia implements transport.Dialer.
func (d *FakeDialer) OpenVia(ctx context.Context, parent transport.Channel, target transport.Target, creds transport.Credentials, timeout time.Duration) (transport.Channel, error) {
	p, ok := parent.(*FakeChannel)
	if !ok {
		return nil, transport.ErrUnsupportedParent
	}
	if p.IsClosed() {
		return nil, fmt.Errorf("tunnel through %s: %w", p.host, transport.ErrShellClosed)
	}
	if p.dev.RefuseTunnels {
		d.record(Attempt{Host: target.Host, Username: creds.Username, Via: p.host})
		return nil, fmt.Errorf("tunnel to %s: %w", target.Host, transport.ErrPermissionDenied)
	}
	return d.open(ctx, p, target, creds)
}

func (d *FakeDialer) open(ctx context.Context, parent *FakeChannel, target transport.Target, creds transport.Credentials) (transport.Channel, error) {
	via := ""
	if parent != nil {
		via = parent.host
	}
	attempt := Attempt{Host: target.Host, Username: creds.Username, Via: via}

	d.mu.Lock()
	dev, ok := d.devices[target.Host]
	d.mu.Unlock()
	if !ok {
		d.record(attempt)
		return nil, fmt.Errorf("lookup %s: no such host", target.Host)
	}

	if dev.Delay > 0 {
		select {
		case <-ctx.Done():
			d.record(attempt)
			return nil, ctx.Err()
		case <-time.After(dev.Delay):
		}
	}

	d.mu.Lock()
	n := d.failures[target.Host]
	if n < len(dev.OpenErrors) {
		d.failures[target.Host] = n + 1
		d.attempts = append(d.attempts, attempt)
		d.mu.Unlock()
		return nil, dev.OpenErrors[n]
	}
	d.mu.Unlock()

	if dev.Users != nil {
		if pass, ok := dev.Users[creds.Username]; !ok || pass != creds.Password {
			d.record(attempt)
			return nil, fmt.Errorf("%w: password rejected for %q", transport.ErrAuthFailed, creds.Username)
		}
	}

	attempt.OK = true
	d.mu.Lock()
	d.attempts = append(d.attempts, attempt)
	d.active[target.Host]++
	if d.active[target.Host] > d.peak[target.Host] {
		d.peak[target.Host] = d.active[target.Host]
	}
	d.mu.Unlock()

	return &FakeChannel{dialer: d, dev: dev, host: target.Host, parent: parent}, nil
}

func (d *FakeDialer) record(a Attempt) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts = append(d.attempts, a)
}

func (d *FakeDialer) released(host string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active[host]--
}

// Attempts returns every connection attempt in order.
func (d *FakeDialer) Attempts() []Attempt {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Attempt, len(d.attempts))
	copy(out, d.attempts)
	return out
}

// AttemptsFor returns the attempts made against host.
func (d *FakeDialer) AttemptsFor(host string) []Attempt {
	var out []Attempt
	for _, a := range d.Attempts() {
		if a.Host == host {
			out = append(out, a)
		}
	}
	return out
}

// Active returns the number of open channels to host.
func (d *FakeDialer) Active(host string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active[host]
}

// Peak returns the highest number of simultaneously open channels to host.
func (d *FakeDialer) Peak(host string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peak[host]
}

// Shells returns every shell started so far.
func (d *FakeDialer) Shells() []*FakeShell {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*FakeShell, len(d.shells))
	copy(out, d.shells)
	return out
}

// FakeChannel is an open connection to a fake device.
type FakeChannel struct {
	dialer *FakeDialer
	dev    *Device
	host   string
	parent *FakeChannel

	mu         sync.Mutex
	closed     bool
	keepalives int
	children   []*FakeShell
}

// Host returns the device host name.
func (c *FakeChannel) Host() string { return c.host }

// Parent returns the channel this one was tunnelled through.
func (c *FakeChannel) Parent() *FakeChannel { return c.parent }

// ServerVersion implements transport.Channel.
func (c *FakeChannel) ServerVersion() string {
	if c.dev.Version == "" {
		return "SSH-2.0-OpenSSH_8.9"
	}
	return c.dev.Version
}

// Banner implements transport.Channel.
func (c *FakeChannel) Banner() string { return c.dev.Banner }

// InvokeShell implements transport.Channel.
func (c *FakeChannel) InvokeShell(ctx context.Context) (transport.Shell, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, transport.ErrShellClosed
	}
	sh := newFakeShell(c.dev)
	c.children = append(c.children, sh)
	c.mu.Unlock()

	c.dialer.mu.Lock()
	c.dialer.shells = append(c.dialer.shells, sh)
	c.dialer.mu.Unlock()

	sh.start()
	return sh, nil
}

// Keepalive implements transport.Channel.
func (c *FakeChannel) Keepalive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrShellClosed
	}
	c.keepalives++
	return nil
}

// Keepalives returns how many keepalive requests were sent.
func (c *FakeChannel) Keepalives() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepalives
}

// IsClosed reports whether Close has been called.
func (c *FakeChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close implements transport.Channel.
func (c *FakeChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	children := c.children
	c.mu.Unlock()

	for _, sh := range children {
		sh.hangup()
	}
	c.dialer.released(c.host)
	return nil
}

// FakeShell is an interactive shell on a fake device.
type FakeShell struct {
	dev *Device

	mu      sync.Mutex
	out     []byte
	line    []byte
	sent    []string
	prompt  string
	closed  bool
	pending []string
	escal   *Escalation
}

func newFakeShell(dev *Device) *FakeShell {
	return &FakeShell{dev: dev, prompt: dev.Prompt}
}

func (s *FakeShell) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev.Greeting != "" {
		s.out = append(s.out, s.dev.Greeting...)
	}
	if s.dev.CloseAfterGreeting {
		s.closed = true
		return
	}
	s.writePromptLocked()
}

func (s *FakeShell) writePromptLocked() {
	if !s.dev.NoPrompt && s.prompt != "" {
		s.out = append(s.out, s.prompt...)
	}
}

// Write appends output as if the device had printed it.
func (s *FakeShell) Write(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, p...)
}

// WritePrompt writes the current prompt.
func (s *FakeShell) WritePrompt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writePromptLocked()
}

// SetPrompt changes the prompt written after each command.
func (s *FakeShell) SetPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompt = prompt
}

// Hangup closes the shell from the device side.
func (s *FakeShell) Hangup() { s.hangup() }

func (s *FakeShell) hangup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Sent returns every chunk written to the shell.
func (s *FakeShell) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	copy(out, s.sent)
	return out
}

// RecvReady implements transport.Shell.
func (s *FakeShell) RecvReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.out) > 0
}

// Recv implements transport.Shell.
func (s *FakeShell) Recv(max int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.out) == 0 {
		return nil, nil
	}
	n := len(s.out)
	if max > 0 && n > max {
		n = max
	}
	p := make([]byte, n)
	copy(p, s.out[:n])
	s.out = s.out[n:]
	return p, nil
}

// Closed implements transport.Shell.
func (s *FakeShell) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed && len(s.out) == 0
}

// Close implements transport.Shell.
func (s *FakeShell) Close() error {
	s.hangup()
	return nil
}

// Send implements transport.Shell.
func (s *FakeShell) Send(p []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrShellClosed
	}
	s.sent = append(s.sent, string(p))

	keystroke := !strings.ContainsAny(string(p), "\r\n")
	if len(s.pending) > 0 && keystroke {
		s.pageLocked(string(p))
		s.mu.Unlock()
		return nil
	}
	if keystroke && len(s.line) == 0 && s.dev.Handler != nil {
		s.mu.Unlock()
		if s.dev.Handler(s, string(p)) {
			return nil
		}
		s.mu.Lock()
	}

	s.line = append(s.line, p...)
	var lines []string
	for {
		i := strings.IndexAny(string(s.line), "\r\n")
		if i < 0 {
			break
		}
		lines = append(lines, string(s.line[:i]))
		s.line = s.line[i+1:]
		if len(s.line) > 0 && s.line[0] == '\n' {
			s.line = s.line[1:]
		}
	}
	s.mu.Unlock()

	for _, line := range lines {
		s.handle(line)
	}
	return nil
}

func (s *FakeShell) pageLocked(reply string) {
	if strings.HasPrefix(reply, "q") {
		s.pending = nil
		s.out = append(s.out, "\r\n"...)
		s.writePromptLocked()
		return
	}
	page := s.pending[0]
	s.pending = s.pending[1:]
	s.out = append(s.out, "\r"+strings.Repeat(" ", len(s.pager()))+"\r"...)
	s.out = append(s.out, page...)
	if len(s.pending) > 0 {
		s.out = append(s.out, "\r\n"+s.pager()...)
		return
	}
	s.out = append(s.out, "\r\n"...)
	s.writePromptLocked()
}

func (s *FakeShell) pager() string {
	if s.dev.Pager != "" {
		return s.dev.Pager
	}
	return DefaultPager
}

func (s *FakeShell) handle(line string) {
	s.mu.Lock()
	if s.escal != nil {
		esc := s.escal
		s.escal = nil
		s.out = append(s.out, "\r\n"...)
		if line == esc.Password {
			s.prompt = esc.Prompt
		} else {
			s.out = append(s.out, "% Access denied\r\n"...)
		}
		s.writePromptLocked()
		s.mu.Unlock()
		return
	}
	s.out = append(s.out, line+"\r\n"...)
	s.mu.Unlock()

	if s.dev.Handler != nil && s.dev.Handler(s, line) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := strings.TrimSpace(line)
	switch cmd {
	case "exit", "quit", "logout":
		s.closed = true
		return
	}

	if esc, ok := s.dev.Escalate[cmd]; ok {
		esc := esc
		s.escal = &esc
		s.out = append(s.out, "Password: "...)
		return
	}

	if pages, ok := s.dev.Pages[cmd]; ok && len(pages) > 0 {
		s.out = append(s.out, pages[0]...)
		if len(pages) > 1 {
			s.pending = append([]string(nil), pages[1:]...)
			s.out = append(s.out, "\r\n"+s.pager()...)
			return
		}
		s.out = append(s.out, "\r\n"...)
		s.writePromptLocked()
		return
	}

	if out, ok := s.dev.Responses[cmd]; ok {
		if out != "" {
			out = strings.ReplaceAll(strings.ReplaceAll(out, "\r\n", "\n"), "\n", "\r\n")
			s.out = append(s.out, out...)
			if !strings.HasSuffix(out, "\r\n") {
				s.out = append(s.out, "\r\n"...)
			}
		}
	} else if cmd != "" {
		s.out = append(s.out, fmt.Sprintf("%s: command not found\r\n", strings.Fields(cmd)[0])...)
	}
	s.writePromptLocked()
}

var _ transport.Dialer = (*FakeDialer)(nil)
