// Package models defines the core domain types for jumpshell.
package models

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultSSHPort is used when a task or jump host does not set a port.
const DefaultSSHPort = 22

var (
	ErrInvalidHost      = errors.New("host is required")
	ErrInvalidPort      = errors.New("port must be between 1 and 65535")
	ErrNoAuthProfiles   = errors.New("at least one authentication profile is required")
	ErrInvalidUsername  = errors.New("username is required")
	ErrInvalidTimeout   = errors.New("timeout must not be negative")
	ErrInvalidRetries   = errors.New("retries must not be negative")
	ErrInvalidMaxSlots  = errors.New("max sessions must not be negative")
	ErrEmptyCommand     = errors.New("command must not be empty")
	ErrJumpHostIsTarget = errors.New("jump host cannot be the target host")
)

// AuthProfile is one set of login credentials tried against a host.
type AuthProfile struct {
	// Name identifies the profile in configuration.
	Name string `json:"name,omitempty" yaml:"name" toml:"name"`

	// Username is the login user.
	Username string `json:"username" yaml:"username" toml:"username"`

	// Password is the login password.
	Password string `json:"-" yaml:"password" toml:"password"`

	// PrivilegeCommand is sent after login to raise privileges (e.g. "enable", "sudo -i").
	PrivilegeCommand string `json:"privilege_command,omitempty" yaml:"privilege_command" toml:"privilege_command"`

	// PrivilegePassword answers the privilege password prompt. Defaults to Password.
	PrivilegePassword string `json:"-" yaml:"privilege_password" toml:"privilege_password"`
}

// Validate checks the profile.
func (a AuthProfile) Validate() error {
	if strings.TrimSpace(a.Username) == "" {
		return ErrInvalidUsername
	}
	return nil
}

// EscalationPassword returns the password used to answer privilege prompts.
func (a AuthProfile) EscalationPassword() string {
	if a.PrivilegePassword != "" {
		return a.PrivilegePassword
	}
	return a.Password
}

// Timeouts groups the per-connection timing knobs. Zero values mean "use the default".
type Timeouts struct {
	Connection    time.Duration `json:"connection_timeout,omitempty" yaml:"connection_timeout" toml:"connection_timeout"`
	Session       time.Duration `json:"session_timeout,omitempty" yaml:"session_timeout" toml:"session_timeout"`
	Keepalive     time.Duration `json:"keepalive,omitempty" yaml:"keepalive" toml:"keepalive"`
	Retries       int           `json:"retries,omitempty" yaml:"retries" toml:"retries"`
	RetryInterval time.Duration `json:"retry_interval,omitempty" yaml:"retry_interval" toml:"retry_interval"`
}

// Validate checks for negative values.
func (t Timeouts) Validate() error {
	var v ValidationErrors
	if t.Connection < 0 {
		v.Add("connection_timeout", ErrInvalidTimeout)
	}
	if t.Session < 0 {
		v.Add("session_timeout", ErrInvalidTimeout)
	}
	if t.Keepalive < 0 {
		v.Add("keepalive", ErrInvalidTimeout)
	}
	if t.RetryInterval < 0 {
		v.Add("retry_interval", ErrInvalidTimeout)
	}
	if t.Retries < 0 {
		v.Add("retries", ErrInvalidRetries)
	}
	return v.Err()
}

// Merge returns t with zero fields filled from defaults.
func (t Timeouts) Merge(defaults Timeouts) Timeouts {
	if t.Connection == 0 {
		t.Connection = defaults.Connection
	}
	if t.Session == 0 {
		t.Session = defaults.Session
	}
	if t.Keepalive == 0 {
		t.Keepalive = defaults.Keepalive
	}
	if t.Retries == 0 {
		t.Retries = defaults.Retries
	}
	if t.RetryInterval == 0 {
		t.RetryInterval = defaults.RetryInterval
	}
	return t
}

// JumpHost is an intermediate SSH host that tunnels sessions to targets.
type JumpHost struct {
	// Name is the configured name, if any.
	Name string `json:"name,omitempty"`

	Host        string        `json:"host"`
	Port        int           `json:"port"`
	Description string        `json:"description,omitempty"`
	Auth        []AuthProfile `json:"auth"`

	// MaxSessions bounds concurrent tunneled sessions through this host.
	MaxSessions int `json:"max_sessions,omitempty"`

	Timeouts
}

// Address returns host:port.
func (j *JumpHost) Address() string {
	return hostPort(j.Host, j.Port)
}

// Key identifies a jump host for multiplexing: tasks with equal keys share one connection.
func (j *JumpHost) Key() string {
	user := ""
	if len(j.Auth) > 0 {
		user = j.Auth[0].Username
	}
	return user + "@" + j.Address()
}

// Label is the human-facing name used in errors and tables.
func (j *JumpHost) Label() string {
	if j.Name != "" {
		return j.Name
	}
	return j.Host
}

// Validate checks the jump host definition.
func (j *JumpHost) Validate() error {
	var v ValidationErrors
	if strings.TrimSpace(j.Host) == "" {
		v.Add("host", ErrInvalidHost)
	}
	if j.Port < 0 || j.Port > 65535 {
		v.Add("port", ErrInvalidPort)
	}
	if len(j.Auth) == 0 {
		v.Add("auth", ErrNoAuthProfiles)
	}
	for i, a := range j.Auth {
		v.AddAt("auth", i, a.Validate())
	}
	if j.MaxSessions < 0 {
		v.Add("max_sessions", ErrInvalidMaxSlots)
	}
	v.Add("", j.Timeouts.Validate())
	return v.Err()
}

// Task is one unit of work: connect to a host and run commands.
type Task struct {
	// ID is the unique identifier for the task.
	ID string `json:"id"`

	Host        string `json:"host"`
	Port        int    `json:"port"`
	Description string `json:"description,omitempty"`

	// Auth profiles are tried in order.
	Auth []AuthProfile `json:"auth"`

	// Commands are sent in order after the prompt is acquired.
	Commands []string `json:"commands"`

	// JumpHost routes the session through an intermediate host when set.
	JumpHost *JumpHost `json:"jump_host,omitempty"`

	// Vendor is an optional assumption about the device family.
	Vendor string `json:"vendor,omitempty"`

	Timeouts

	// FailOnFirstError stops sending commands after the first device error.
	FailOnFirstError bool `json:"fail_on_first_error,omitempty"`

	// Parameters are opaque values carried through to the result.
	Parameters map[string]string `json:"parameters,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`
}

// Address returns host:port.
func (t *Task) Address() string {
	return hostPort(t.Host, t.Port)
}

// Validate checks the task.
func (t *Task) Validate() error {
	var v ValidationErrors
	if strings.TrimSpace(t.Host) == "" {
		v.Add("host", ErrInvalidHost)
	}
	if t.Port < 0 || t.Port > 65535 {
		v.Add("port", ErrInvalidPort)
	}
	if len(t.Auth) == 0 {
		v.Add("auth", ErrNoAuthProfiles)
	}
	for i, a := range t.Auth {
		v.AddAt("auth", i, a.Validate())
	}
	for i, c := range t.Commands {
		if strings.TrimSpace(c) == "" {
			v.AddAt("commands", i, ErrEmptyCommand)
		}
	}
	v.Add("", t.Timeouts.Validate())
	if t.JumpHost != nil {
		v.Add("jump_host", t.JumpHost.Validate())
		if t.JumpHost.Host == t.Host && effectivePort(t.JumpHost.Port) == effectivePort(t.Port) {
			v.Add("jump_host", ErrJumpHostIsTarget)
		}
	}
	return v.Err()
}

func effectivePort(port int) int {
	if port == 0 {
		return DefaultSSHPort
	}
	return port
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(effectivePort(port)))
}
