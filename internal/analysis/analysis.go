// Package analysis turns command output into structured facts about a device.
//
// Analyzers are pure functions of a command's output. Each registered
// analyzer is bound to a command pattern and, optionally, a vendor. Results
// accumulate into a per-device Collection.
package analysis

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// ErrorKey holds the device-reported error when an analyzer returns false.
const ErrorKey = "_error"

// ErrNoCommand is returned when registering without a command pattern.
var ErrNoCommand = errors.New("command pattern is required")

// Collection accumulates facts about one device.
type Collection map[string]interface{}

// Analyzer inspects one command's output. It returns false when the output
// shows the device rejected the command, with ErrorKey set on the collection.
type Analyzer func(output string, c Collection) (bool, Collection)

// Entry binds an analyzer to a command pattern.
type Entry struct {
	Name    string
	Vendor  string
	Command *regexp.Regexp
	Analyze Analyzer
}

func (e *Entry) matches(vendor, command string) bool {
	if e.Vendor != "" && vendor != "" && !vendorMatches(e.Vendor, vendor) {
		return false
	}
	return e.Command.MatchString(strings.TrimSpace(command))
}

// vendorMatches accepts alternatives such as "arista|cisco" on either side.
func vendorMatches(want, got string) bool {
	for _, w := range strings.Split(want, "|") {
		for _, g := range strings.Split(got, "|") {
			if strings.EqualFold(w, g) {
				return true
			}
		}
	}
	return false
}

// Registry is an ordered list of analyzers.
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an analyzer for commands matching pattern. Earlier
// registrations take precedence.
func (r *Registry) Register(name, vendor, pattern string, a Analyzer) error {
	if pattern == "" {
		return ErrNoCommand
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("analyzer %s: %w", name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Name: name, Vendor: vendor, Command: re, Analyze: a})
	return nil
}

// MustRegister is Register that panics on an invalid pattern.
func (r *Registry) MustRegister(name, vendor, pattern string, a Analyzer) {
	if err := r.Register(name, vendor, pattern, a); err != nil {
		panic(err)
	}
}

// Len returns the number of registered analyzers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Lookup returns the first analyzer for vendor and command.
func (r *Registry) Lookup(vendor, command string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.entries {
		if r.entries[i].matches(vendor, command) {
			e := r.entries[i]
			return &e, true
		}
	}
	return nil, false
}

// Analyze runs the first matching analyzer. found is false when no analyzer
// applies, in which case c is returned unchanged.
func (r *Registry) Analyze(vendor, command, output string, c Collection) (ok bool, out Collection, found bool) {
	if c == nil {
		c = Collection{}
	}
	e, found := r.Lookup(vendor, command)
	if !found {
		return true, c, false
	}
	ok, out = e.Analyze(output, c)
	if out == nil {
		out = c
	}
	return ok, out, true
}

// Default returns a registry with the built-in analyzers.
func Default() *Registry {
	r := NewRegistry()
	r.MustRegister("linux-release", "", `^cat /etc/(os-release|\*-release|[\w-]+-release)$`, LinuxRelease)
	r.MustRegister("linux-uname", "", `^uname -a$`, LinuxUname)
	r.MustRegister("arista-show-version", "arista", `^show ver(s(i(o(n)?)?)?)?$`, AristaShowVersion)
	r.MustRegister("cisco-show-version", "cisco", `^show ver(s(i(o(n)?)?)?)?$`, CiscoShowVersion)
	return r
}
