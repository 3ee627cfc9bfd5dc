// Package batch loads task descriptors from YAML or TOML files and resolves
// their profile and jump host references against the configuration.
package batch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/tOgg1/jumpshell/internal/config"
	"github.com/tOgg1/jumpshell/internal/models"
)

// NoJumpHost in a task's jump_host overrides a batch default.
const NoJumpHost = "none"

var (
	// ErrEmptyBatch is returned when a batch has no tasks.
	ErrEmptyBatch = errors.New("batch has no tasks")

	// ErrUnknownFormat is returned for files that are neither YAML nor TOML.
	ErrUnknownFormat = errors.New("unknown batch format")
)

// Format is a batch file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Entry is one task as written in a batch file. Durations are Go duration
// strings such as "30s".
type Entry struct {
	Host             string            `yaml:"host" toml:"host"`
	Port             int               `yaml:"port" toml:"port"`
	Description      string            `yaml:"description" toml:"description"`
	Authentication   []string          `yaml:"authentication" toml:"authentication"`
	JumpHost         string            `yaml:"jump_host" toml:"jump_host"`
	Vendor           string            `yaml:"vendor" toml:"vendor"`
	Commands         []string          `yaml:"commands" toml:"commands"`
	FailOnFirstError *bool             `yaml:"fail_on_first_error" toml:"fail_on_first_error"`
	Parameters       map[string]string `yaml:"parameters" toml:"parameters"`

	ConnectionTimeout string `yaml:"connection_timeout" toml:"connection_timeout"`
	SessionTimeout    string `yaml:"session_timeout" toml:"session_timeout"`
	Keepalive         string `yaml:"keepalive" toml:"keepalive"`
	Retries           int    `yaml:"retries" toml:"retries"`
	RetryInterval     string `yaml:"retry_interval" toml:"retry_interval"`
}

// File is the on-disk shape of a batch. Defaults fill unset task fields;
// default commands run before the task's own.
type File struct {
	Name     string  `yaml:"name" toml:"name"`
	Defaults Entry   `yaml:"defaults" toml:"defaults"`
	Tasks    []Entry `yaml:"tasks" toml:"tasks"`
}

// Batch is a resolved batch ready for submission.
type Batch struct {
	Name   string
	Source string
	Tasks  []*models.Task
}

// Load reads a batch file. The format is taken from the extension: .toml
// is TOML, .yaml, .yml and anything else is YAML.
func Load(path string, cfg *config.Config) (*Batch, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("batch path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch %s: %w", path, err)
	}

	b, err := Parse(data, FormatFor(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse batch %s: %w", path, err)
	}
	b.Source = path
	if b.Name == "" {
		b.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return b, nil
}

// FormatFor picks a format from a file name.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes and resolves a batch.
func Parse(data []byte, format Format, cfg *config.Config) (*Batch, error) {
	var f File
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, err
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if len(f.Tasks) == 0 {
		return nil, ErrEmptyBatch
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	r := resolver{cfg: cfg, jumps: make(map[string]*models.JumpHost)}
	b := &Batch{Name: strings.TrimSpace(f.Name), Tasks: make([]*models.Task, 0, len(f.Tasks))}
	for i, e := range f.Tasks {
		task, err := r.task(merge(e, f.Defaults))
		if err != nil {
			return nil, fmt.Errorf("task %d (%s): %w", i+1, e.Host, err)
		}
		b.Tasks = append(b.Tasks, task)
	}
	return b, nil
}

// merge fills unset fields of e from d.
func merge(e, d Entry) Entry {
	if e.Port == 0 {
		e.Port = d.Port
	}
	if len(e.Authentication) == 0 {
		e.Authentication = d.Authentication
	}
	if e.JumpHost == "" {
		e.JumpHost = d.JumpHost
	}
	if e.Vendor == "" {
		e.Vendor = d.Vendor
	}
	if len(d.Commands) > 0 {
		e.Commands = append(append([]string{}, d.Commands...), e.Commands...)
	}
	if e.FailOnFirstError == nil {
		e.FailOnFirstError = d.FailOnFirstError
	}
	if len(d.Parameters) > 0 {
		params := make(map[string]string, len(d.Parameters)+len(e.Parameters))
		for k, v := range d.Parameters {
			params[k] = v
		}
		for k, v := range e.Parameters {
			params[k] = v
		}
		e.Parameters = params
	}
	if e.ConnectionTimeout == "" {
		e.ConnectionTimeout = d.ConnectionTimeout
	}
	if e.SessionTimeout == "" {
		e.SessionTimeout = d.SessionTimeout
	}
	if e.Keepalive == "" {
		e.Keepalive = d.Keepalive
	}
	if e.Retries == 0 {
		e.Retries = d.Retries
	}
	if e.RetryInterval == "" {
		e.RetryInterval = d.RetryInterval
	}
	return e
}

type resolver struct {
	cfg   *config.Config
	jumps map[string]*models.JumpHost
}

func (r *resolver) task(e Entry) (*models.Task, error) {
	host := strings.TrimSpace(e.Host)
	if host == "" {
		return nil, models.ErrInvalidHost
	}

	names := e.Authentication
	if len(names) == 0 {
		names = r.cfg.Devices.Defaults.Authentication
	}
	auth, err := r.cfg.ResolveAuth(names)
	if err != nil {
		return nil, err
	}

	timeouts, err := e.timeouts()
	if err != nil {
		return nil, err
	}

	task := &models.Task{
		Host:        host,
		Port:        e.Port,
		Description: e.Description,
		Auth:        auth,
		Commands:    e.Commands,
		Vendor:      strings.ToLower(strings.TrimSpace(e.Vendor)),
		Timeouts:    timeouts,
		Parameters:  e.Parameters,
	}
	if e.FailOnFirstError != nil {
		task.FailOnFirstError = *e.FailOnFirstError
	}

	if name := strings.TrimSpace(e.JumpHost); name != "" && name != NoJumpHost {
		jump, err := r.jumpHost(name)
		if err != nil {
			return nil, err
		}
		task.JumpHost = jump
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}
	return task, nil
}

// jumpHost resolves a name once so tasks naming the same jump host share
// one definition.
func (r *resolver) jumpHost(name string) (*models.JumpHost, error) {
	if j, ok := r.jumps[name]; ok {
		return j, nil
	}
	j, err := r.cfg.JumpHost(name)
	if err != nil {
		return nil, err
	}
	r.jumps[name] = j
	return j, nil
}

func (e Entry) timeouts() (models.Timeouts, error) {
	var t models.Timeouts
	var err error
	if t.Connection, err = parseDuration("connection_timeout", e.ConnectionTimeout); err != nil {
		return t, err
	}
	if t.Session, err = parseDuration("session_timeout", e.SessionTimeout); err != nil {
		return t, err
	}
	if t.Keepalive, err = parseDuration("keepalive", e.Keepalive); err != nil {
		return t, err
	}
	if t.RetryInterval, err = parseDuration("retry_interval", e.RetryInterval); err != nil {
		return t, err
	}
	t.Retries = e.Retries
	return t, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
