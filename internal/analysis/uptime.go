package analysis

import (
	"regexp"
	"strconv"
)

var (
	uptimeYears   = regexp.MustCompile(`(\d+) year`)
	uptimeWeeks   = regexp.MustCompile(`(\d+) week`)
	uptimeDays    = regexp.MustCompile(`(\d+) day`)
	uptimeDaysAbr = regexp.MustCompile(`^ (\d+)d `)
	uptimeHours   = regexp.MustCompile(`(\d+) hour| (\d+)h `)
	uptimeMinutes = regexp.MustCompile(`(\d+) minute| (\d+)m `)
	uptimeSeconds = regexp.MustCompile(`(\d+) second| (\d+)s `)
)

// UptimeSeconds converts device uptime text such as
// "21 weeks, 3 days, 11 hours, 28 minutes" or "628d 3h 39m 8s" to seconds.
func UptimeSeconds(uptime string) int64 {
	s := " " + uptime + " "
	var total int64

	total += firstInt(uptimeYears, s) * 365 * 86400
	total += firstInt(uptimeWeeks, s) * 7 * 86400
	total += firstInt(uptimeDays, s) * 86400
	if n := firstInt(uptimeDaysAbr, s); n > 0 {
		total = n * 86400
	}
	total += firstInt(uptimeHours, s) * 3600
	total += firstInt(uptimeMinutes, s) * 60
	total += firstInt(uptimeSeconds, s)
	return total
}

// firstInt returns the first non-empty numeric group of re in s, or 0.
func firstInt(re *regexp.Regexp, s string) int64 {
	m := re.FindStringSubmatch(s)
	for _, g := range m[min(1, len(m)):] {
		if g == "" {
			continue
		}
		n, err := strconv.ParseInt(g, 10, 64)
		if err == nil {
			return n
		}
	}
	return 0
}
