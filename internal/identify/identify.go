package identify

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/tOgg1/jumpshell/internal/models"
)

// ErrNoPattern is returned when compiling a rule without a pattern.
var ErrNoPattern = errors.New("rule pattern is required")

// Rule is one prompt identification rule.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp

	// Fields names the capture groups of Pattern, in order.
	Fields []string

	// Vendor may hold alternatives separated by '|' when a prompt is shared.
	Vendor   string
	OS       string
	Shell    string
	Commands []string

	// KnownErrors are matched against a command's output window. The first
	// capture group is reported as the command error.
	KnownErrors []*regexp.Regexp
}

// Match is the result of a successful prompt identification.
type Match struct {
	Rule   *Rule
	Line   string
	Fields map[string]string
}

// Prompt returns the captured prompt text, or the whole line.
func (m Match) Prompt() string {
	if p, ok := m.Fields["prompt"]; ok && p != "" {
		return p
	}
	return m.Line
}

// KnownError scans output for the rule's known-error patterns and returns the
// captured text, capitalised.
func (m Match) KnownError(output string) (string, bool) {
	if m.Rule == nil {
		return "", false
	}
	for _, re := range m.Rule.KnownErrors {
		sub := re.FindStringSubmatch(output)
		if sub == nil {
			continue
		}
		text := sub[0]
		if len(sub) > 1 {
			text = sub[1]
		}
		return Capitalize(strings.TrimSpace(text)), true
	}
	return "", false
}

// Info flattens the match for result records.
func (m Match) Info() *models.PromptInfo {
	if m.Rule == nil {
		return nil
	}
	fields := make(map[string]string, len(m.Fields))
	for k, v := range m.Fields {
		fields[k] = v
	}
	return &models.PromptInfo{
		Rule:   m.Rule.Name,
		Vendor: m.Rule.Vendor,
		OS:     m.Rule.OS,
		Shell:  m.Rule.Shell,
		Line:   m.Line,
		Fields: fields,
	}
}

// VersionRule maps an SSH version string to a vendor guess.
type VersionRule struct {
	Pattern *regexp.Regexp
	Vendor  string
}

// AutoResponse is a pager or continuation prompt answered automatically.
type AutoResponse struct {
	Name  string
	Find  *regexp.Regexp
	Reply string

	// Clean removes the pager residue from collected output, if set.
	Clean *regexp.Regexp
}

// LoginFailure is text that, seen while waiting for the first prompt, ends
// the login attempt.
type LoginFailure struct {
	Pattern     *regexp.Regexp
	StopRetries bool
	Prefix      string
}

// Ruleset bundles all tables consulted during a session.
type Ruleset struct {
	Rules         []Rule
	Versions      []VersionRule
	AutoResponses []AutoResponse
	LoginFailures []LoginFailure
}

// Default returns the built-in ruleset.
func Default() *Ruleset {
	return &Ruleset{
		Rules:         DefaultRules(),
		Versions:      DefaultVersionRules(),
		AutoResponses: DefaultAutoResponses(),
		LoginFailures: DefaultLoginFailures(),
	}
}

// WithRules returns a copy of r with extra rules evaluated before the existing ones.
func (r *Ruleset) WithRules(extra ...Rule) *Ruleset {
	out := *r
	out.Rules = make([]Rule, 0, len(extra)+len(r.Rules))
	out.Rules = append(out.Rules, extra...)
	out.Rules = append(out.Rules, r.Rules...)
	return &out
}

// WithAutoResponses returns a copy of r with extra auto-responses evaluated first.
func (r *Ruleset) WithAutoResponses(extra ...AutoResponse) *Ruleset {
	out := *r
	out.AutoResponses = make([]AutoResponse, 0, len(extra)+len(r.AutoResponses))
	out.AutoResponses = append(out.AutoResponses, extra...)
	out.AutoResponses = append(out.AutoResponses, r.AutoResponses...)
	return &out
}

// Prompt identifies a prompt line. The first matching rule wins.
func (r *Ruleset) Prompt(line string) (Match, bool) {
	if line == "" {
		return Match{}, false
	}
	for i := range r.Rules {
		rule := &r.Rules[i]
		sub := rule.Pattern.FindStringSubmatch(line)
		if sub == nil {
			continue
		}
		fields := make(map[string]string, len(rule.Fields))
		for j, name := range rule.Fields {
			if j+1 < len(sub) && sub[j+1] != "" {
				fields[name] = sub[j+1]
			}
		}
		return Match{Rule: rule, Line: line, Fields: fields}, true
	}
	return Match{}, false
}

// SSHVersion maps a server version string to a vendor guess.
func (r *Ruleset) SSHVersion(version string) (string, bool) {
	version = strings.TrimSpace(version)
	if version == "" {
		return "", false
	}
	for _, v := range r.Versions {
		if v.Pattern.MatchString(version) {
			return v.Vendor, true
		}
	}
	return "", false
}

// AutoResponse returns the auto-response for a pager line, if any.
func (r *Ruleset) AutoResponse(line string) (*AutoResponse, bool) {
	if line == "" {
		return nil, false
	}
	for i := range r.AutoResponses {
		if r.AutoResponses[i].Find.MatchString(line) {
			return &r.AutoResponses[i], true
		}
	}
	return nil, false
}

// LoginFailure scans text received before the first prompt for fatal login messages.
func (r *Ruleset) LoginFailure(text string) (string, bool, bool) {
	for _, f := range r.LoginFailures {
		sub := f.Pattern.FindStringSubmatch(text)
		if sub == nil {
			continue
		}
		msg := sub[0]
		if len(sub) > 1 {
			msg = sub[1]
		}
		return f.Prefix + strings.TrimSpace(msg), f.StopRetries, true
	}
	return "", false, false
}

// RuleSpec is the textual form of a Rule, as found in configuration files.
type RuleSpec struct {
	Name        string   `yaml:"name" mapstructure:"name"`
	Pattern     string   `yaml:"pattern" mapstructure:"pattern"`
	Fields      []string `yaml:"fields" mapstructure:"fields"`
	Vendor      string   `yaml:"vendor" mapstructure:"vendor"`
	OS          string   `yaml:"os" mapstructure:"os"`
	Shell       string   `yaml:"shell" mapstructure:"shell"`
	Commands    []string `yaml:"commands" mapstructure:"commands"`
	KnownErrors []string `yaml:"known_errors" mapstructure:"known_errors"`
}

// Compile turns rule specs into rules. Known-error patterns are compiled in
// multi-line mode so '^' and '$' anchor to lines of the output window.
func Compile(specs []RuleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for i, spec := range specs {
		if strings.TrimSpace(spec.Pattern) == "" {
			return nil, fmt.Errorf("rule %d (%s): %w", i, spec.Name, ErrNoPattern)
		}
		pattern, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, spec.Name, err)
		}
		if n := pattern.NumSubexp(); len(spec.Fields) > n {
			return nil, fmt.Errorf("rule %d (%s): %d fields but only %d capture groups", i, spec.Name, len(spec.Fields), n)
		}
		rule := Rule{
			Name:     spec.Name,
			Pattern:  pattern,
			Fields:   spec.Fields,
			Vendor:   spec.Vendor,
			OS:       spec.OS,
			Shell:    spec.Shell,
			Commands: spec.Commands,
		}
		if rule.Name == "" {
			rule.Name = fmt.Sprintf("custom-%d", i)
		}
		for _, ke := range spec.KnownErrors {
			re, err := regexp.Compile("(?m)" + ke)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%s) known error %q: %w", i, spec.Name, ke, err)
			}
			rule.KnownErrors = append(rule.KnownErrors, re)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Capitalize upper-cases the first letter and lower-cases the rest.
func Capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// VendorLabel renders an alternatives string such as "arista|cisco" for logs.
func VendorLabel(vendor string) string {
	parts := strings.Split(vendor, "|")
	for i, p := range parts {
		parts[i] = Capitalize(p)
	}
	return strings.Join(parts, " or ")
}
