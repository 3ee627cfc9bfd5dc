package analysis

import (
	"regexp"
	"strings"
)

var (
	releaseLine = regexp.MustCompile(`^(.*?)=(.*)$`)
	unameLine   = regexp.MustCompile(`(?m)^Linux\s+(\S+)\s+(\S+)\s+.*?\s+(x86_64|aarch64|armv7l|i686)\s+.*$`)
)

// LinuxRelease parses KEY=VALUE lines from /etc/os-release style files into
// the "linux_info" map. Keys are lower-cased and quotes removed.
func LinuxRelease(output string, c Collection) (bool, Collection) {
	info := map[string]string{}
	for _, line := range strings.Split(output, "\n") {
		m := releaseLine.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		info[strings.ToLower(m[1])] = strings.ReplaceAll(m[2], `"`, "")
	}
	if len(info) > 0 {
		c["linux_info"] = info
		if name := info["pretty_name"]; name != "" {
			c["host_software_name"] = name
		}
		if c["os_type"] == nil {
			c["os_type"] = "linux"
		}
	}
	return true, c
}

// LinuxUname parses `uname -a`.
func LinuxUname(output string, c Collection) (bool, Collection) {
	m := unameLine.FindStringSubmatch(output)
	if m == nil {
		return true, c
	}
	c["host_name"] = m[1]
	c["host_software_version"] = m[2]
	c["host_architecture"] = m[3]
	c["host_vendor"] = "Linux"
	c["os_type"] = "linux"
	return true, c
}
