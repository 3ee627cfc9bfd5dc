// Package identify classifies devices from prompt lines and SSH version strings.
//
// Rules are plain data evaluated in order; the first rule whose pattern matches
// a line wins. Specific vendor prompts are listed before the generic
// '#'/'>' fallback so they are not misclassified.
package identify

import "regexp"

// Common known-error patterns for POSIX shells.
var shellErrors = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^(?:-?bash|sh|zsh|ksh): .*?: (command not found)\s*$`),
	regexp.MustCompile(`(?m)^.*?: can't open '.*?': (No such file or directory)`),
	regexp.MustCompile(`(?m)^\S+: .*?: (No such file or directory)\s*$`),
	regexp.MustCompile(`(?m)^(Permission denied)\s*$`),
}

// Known-error patterns for IOS-like CLIs.
var ciscoErrors = []*regexp.Regexp{
	regexp.MustCompile(`% (Invalid input detected) at '\^' marker\.`),
	regexp.MustCompile(`% (Incomplete command)\.`),
	regexp.MustCompile(`% (Ambiguous command):`),
	regexp.MustCompile(`% (Unknown command or computer name)`),
	regexp.MustCompile(`% (Access denied)`),
	regexp.MustCompile(`% (Bad secrets)`),
}

// DefaultRules returns the built-in prompt rules in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "aruba",
			Pattern:     regexp.MustCompile(`^(\((.*?)\)\s+\*?#)$`),
			Fields:      []string{"prompt", "hostname"},
			Vendor:      "aruba",
			Commands:    []string{"show version", "show inventory"},
			KnownErrors: ciscoErrors[:1],
		},
		{
			Name:     "f5",
			Pattern:  regexp.MustCompile(`^((.*?)@\((.*?)\)\(.*?\)\(.*?\)\(.*?\)\s?\(tmos\)#\s*)$`),
			Fields:   []string{"prompt", "username", "hostname"},
			Vendor:   "f5",
			Commands: []string{"show sys version", "show sys hardware"},
			KnownErrors: []*regexp.Regexp{
				regexp.MustCompile(`(?m)^(Syntax Error: .*)$`),
			},
		},
		{
			Name:        "linux",
			Pattern:     regexp.MustCompile(`^((.+)@(.+):(.*?)[$#]\s+)$`),
			Fields:      []string{"prompt", "username", "hostname", "path"},
			Vendor:      "linux",
			OS:          "linux",
			Shell:       "bash",
			Commands:    []string{"cat /etc/os-release", "uname -a"},
			KnownErrors: shellErrors,
		},
		{
			Name:        "bare-shell",
			Pattern:     regexp.MustCompile(`^([$#]\s+)$`),
			Fields:      []string{"prompt"},
			OS:          "linux",
			Shell:       "ksh",
			Commands:    []string{"cat /etc/os-release", "uname -a"},
			KnownErrors: shellErrors,
		},
		{
			Name:        "darwin",
			Pattern:     regexp.MustCompile(`^((.*?)@(\S+)[: ](.*)%)\s+$`),
			Fields:      []string{"prompt", "username", "hostname", "path"},
			OS:          "darwin",
			Shell:       "bash",
			Commands:    []string{"sw_vers", "uname -a"},
			KnownErrors: shellErrors,
		},
		{
			Name:    "junos-panos",
			Pattern: regexp.MustCompile(`^(([\w.-]+)@([\w.-]+)(?:\([\w-]+\))?(>|#)\s*)$`),
			Fields:  []string{"prompt", "username", "hostname", "mode"},
			Vendor:  "juniper|paloalto",
			Commands: []string{
				"show version",
				"show system info",
			},
			KnownErrors: []*regexp.Regexp{
				regexp.MustCompile(`(?m)^\s*(unknown command)\.?\s*$`),
				regexp.MustCompile(`(?m)^(Invalid syntax)\.?\s*$`),
			},
		},
		{
			Name:        "cisco-arista",
			Pattern:     regexp.MustCompile(`^(([^\s#>]*?)(?:\(([\w-]+)\))?(#|>))$`),
			Fields:      []string{"prompt", "hostname", "context", "mode"},
			Vendor:      "arista|cisco",
			Commands:    []string{"show version"},
			KnownErrors: ciscoErrors,
		},
	}
}

// DefaultVersionRules returns the built-in SSH version string rules.
func DefaultVersionRules() []VersionRule {
	return []VersionRule{
		{Pattern: regexp.MustCompile(`^(SSH-.*?-Cisco-\d.*?)$`), Vendor: "cisco"},
		{Pattern: regexp.MustCompile(`^(SSH-.*[Uu]buntu.*?)$`), Vendor: "ubuntu"},
		{Pattern: regexp.MustCompile(`^(SSH-.*[Dd]ebian.*?)$`), Vendor: "debian"},
		{Pattern: regexp.MustCompile(`^(SSH-.*?-HUAWEI-.*?)$`), Vendor: "huawei"},
		{Pattern: regexp.MustCompile(`^(SSH-.*?-ROSSSH.*?)$`), Vendor: "mikrotik"},
		{Pattern: regexp.MustCompile(`^(SSH-.*?-NetScreen.*?)$`), Vendor: "juniper"},
	}
}

// DefaultAutoResponses returns the built-in pager replies.
func DefaultAutoResponses() []AutoResponse {
	return []AutoResponse{
		{
			Name:  "more-extended",
			Find:  regexp.MustCompile(`^--More-- \(q\) quit \(u\) pageup \(/\) search \(n\) repeat\s*$`),
			Reply: " ",
			Clean: regexp.MustCompile(`--More-- \(q\) quit \(u\) pageup \(/\) search \(n\) repeat[ \t]*`),
		},
		{
			Name:  "more",
			Find:  regexp.MustCompile(`^\s*--More--\s*$`),
			Reply: " ",
			Clean: regexp.MustCompile(`[ \t]*--More--[ \t]*\x08*[ \t]*\x08*`),
		},
		{
			Name:  "display-all",
			Find:  regexp.MustCompile(`Display all \d+ items\? \(y/n\)\s*$`),
			Reply: "y",
		},
		{
			Name:  "less-percent",
			Find:  regexp.MustCompile(`^---\(less\s+\d+%\)---$`),
			Reply: " ",
			Clean: regexp.MustCompile(`---\(less\s+\d+%\)---`),
		},
		{
			Name:  "less-lines",
			Find:  regexp.MustCompile(`^lines \d+-\d+(?:/\d+)?(?: \(END\))?\s*$`),
			Reply: " ",
			Clean: regexp.MustCompile(`lines \d+-\d+(?:/\d+)?(?: \(END\))?[ \t]*`),
		},
		{
			Name:  "less-end",
			Find:  regexp.MustCompile(`^\(END\)$`),
			Reply: "q",
			Clean: regexp.MustCompile(`\(END\)`),
		},
	}
}

// DefaultLoginFailures returns patterns that, seen before any prompt, mean the
// login cannot succeed with the current credentials.
func DefaultLoginFailures() []LoginFailure {
	return []LoginFailure{
		{Pattern: regexp.MustCompile(`(?m)^% (Authentication failed)`), StopRetries: true},
		{Pattern: regexp.MustCompile(`(?m)(User '.*?' does not have shell access on this device)`), StopRetries: true},
		{Pattern: regexp.MustCompile(`(?m)(No space left on device)`), StopRetries: true, Prefix: "Device OS issue: "},
		{Pattern: regexp.MustCompile(`(?m)^(This account is currently not available)\.?`), StopRetries: true},
	}
}
