package analysis

import (
	"regexp"
	"strconv"
	"strings"
)

var ciscoCommandError = regexp.MustCompile(`(% (Invalid|Ambiguous)[^\n]*)`)

var (
	ciscoIOS         = regexp.MustCompile(`Cisco IOS Software|Cisco Internetwork Operating System Software`)
	ciscoNXOS        = regexp.MustCompile(`Cisco Nexus Operating System \(NX-OS\) Software`)
	ciscoSoftware    = regexp.MustCompile(`(?m)^(Cisco\s+.*?)\s+\((.*?)\),\s+[Vv]ersion\s+(.*?),?\s+(\S.*?)$`)
	ciscoModel       = regexp.MustCompile(`(?m)^[Cc]isco\s+(\S+)\s.*?with\s+(\d+)K(?:/(\d+)K)?\s+bytes of( physical)? memory\.?$`)
	ciscoUptime      = regexp.MustCompile(`(?m)^(.*?) uptime is (\d.*?)$`)
	ciscoBoardID     = regexp.MustCompile(`(?m)^Processor board ID\s+(.*?)$`)
	ciscoReload      = regexp.MustCompile(`(?m)^(?:Last reset from|Last reload reason:)[ \t]*(.*?)$`)
	ciscoImage       = regexp.MustCompile(`(?m)^System image file is "(.*?)"$`)
	ciscoConfigReg   = regexp.MustCompile(`(?m)^Configuration register is (\S+)`)
	ciscoInterfaces  = regexp.MustCompile(`(?m)^(\d+)\s+(.*?)\s+interfaces?$`)
	nxosVersion      = regexp.MustCompile(`(?m)^\s+(?:[Ss]ystem|NXOS):\s+version\s+(.*?)$`)
	nxosBIOS         = regexp.MustCompile(`(?m)^\s+BIOS:\s+version\s+(.*?)$`)
	nxosDevice       = regexp.MustCompile(`(?m)^\s+Device name:\s+(.*?)$`)
	nxosBoardID      = regexp.MustCompile(`(?m)^\s+Processor Board ID\s+(.*?)$`)
	nxosUptime       = regexp.MustCompile(`(?m)^Kernel uptime is\s+(.*?)$`)
	nxosReason       = regexp.MustCompile(`(?m)^\s+Reason:\s+(.*?)$`)
	nxosHardware     = regexp.MustCompile(`(?m)^Hardware\n\s+cisco\s+(Nexus\S*)\s+(.*?)(?:\s+[Cc]hassis)?(?:\s+\(.*?\))?$`)
	aristaModel      = regexp.MustCompile(`(?m)^Arista\s+(.*?)\nHardware\s+version:`)
	aristaKeyValue   = regexp.MustCompile(`(?m)^(\S[^:\n]*?):[ \t]+(.*?)$`)
	ciscoHostExtract = `^(.*?)[>#]`
)

// CiscoShowVersion parses `show version` on IOS, IOS-XE and NX-OS.
func CiscoShowVersion(output string, c Collection) (bool, Collection) {
	output = strings.ReplaceAll(output, "\r\n", "\n")
	if m := ciscoCommandError.FindStringSubmatch(output); m != nil {
		c[ErrorKey] = strings.TrimSpace(m[1])
		return false, c
	}
	c["_host_name_extraction"] = ciscoHostExtract

	if m := ciscoSoftware.FindStringSubmatch(output); m != nil {
		c["host_software_name"] = strings.ReplaceAll(m[1], "  ", " ")
		c["host_software_type"] = m[2]
		c["host_software_version"] = m[3]
		c["host_software_release_type"] = m[4]
		c["host_vendor"] = "Cisco"
	}

	switch {
	case ciscoIOS.MatchString(output):
		c["os_type"] = "cisco_ios"
		c["host_vendor"] = "Cisco"
		ciscoIOSDetails(output, c)
	case ciscoNXOS.MatchString(output):
		c["os_type"] = "cisco_nxos"
		c["host_vendor"] = "Cisco"
		c["host_software_name"] = "Cisco Nexus Operating System (NX-OS) Software"
		ciscoNXOSDetails(output, c)
	}
	return true, c
}

func ciscoIOSDetails(output string, c Collection) {
	if m := ciscoModel.FindStringSubmatch(output); m != nil {
		c["host_model"] = m[1]
		mem, _ := strconv.ParseInt(m[2], 10, 64)
		if m[3] != "" {
			io, _ := strconv.ParseInt(m[3], 10, 64)
			mem += io
		}
		c["host_memory"] = mem
		c["host_memory_unit"] = "K"
	}
	if m := ciscoUptime.FindStringSubmatch(output); m != nil {
		c["host_system_name"] = strings.TrimSpace(m[1])
		c["host_uptime"] = UptimeSeconds(m[2])
	}
	if m := ciscoBoardID.FindStringSubmatch(output); m != nil {
		c["host_processor_board_id"] = m[1]
		c["host_serial_number"] = m[1]
	}
	if m := ciscoReload.FindStringSubmatch(output); m != nil {
		c["host_last_reload_reason"] = strings.ToLower(m[1])
	}
	if m := ciscoImage.FindStringSubmatch(output); m != nil {
		c["host_system_image_file"] = strings.ToLower(m[1])
	}
	if m := ciscoConfigReg.FindStringSubmatch(output); m != nil {
		c["host_config_register"] = m[1]
	}

	counts := map[string]int{}
	for _, m := range ciscoInterfaces.FindAllStringSubmatch(output, -1) {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			counts[m[2]] = n
		}
	}
	if len(counts) > 0 {
		c["interface_totals"] = counts
	}
}

func ciscoNXOSDetails(output string, c Collection) {
	if m := nxosVersion.FindStringSubmatch(output); m != nil {
		c["host_software_version"] = strings.TrimSpace(m[1])
	}
	if m := nxosBIOS.FindStringSubmatch(output); m != nil {
		c["host_bios_version"] = strings.TrimSpace(m[1])
	}
	if m := nxosDevice.FindStringSubmatch(output); m != nil {
		c["host_system_name"] = strings.TrimSpace(m[1])
	}
	if m := nxosBoardID.FindStringSubmatch(output); m != nil {
		c["host_serial_number"] = strings.TrimSpace(m[1])
	}
	if m := nxosUptime.FindStringSubmatch(output); m != nil {
		c["host_uptime"] = UptimeSeconds(m[1])
	}
	if m := nxosReason.FindStringSubmatch(output); m != nil {
		c["host_last_reload_reason"] = strings.TrimSpace(m[1])
	}
	if m := nxosHardware.FindStringSubmatch(output); m != nil {
		c["host_family"] = m[1]
		c["host_model"] = strings.TrimSpace(m[2])
	}
}

// AristaShowVersion parses EOS `show version`.
func AristaShowVersion(output string, c Collection) (bool, Collection) {
	output = strings.ReplaceAll(output, "\r\n", "\n")
	if m := ciscoCommandError.FindStringSubmatch(output); m != nil {
		c[ErrorKey] = strings.TrimSpace(m[1])
		return false, c
	}
	if m := aristaModel.FindStringSubmatch(output); m != nil {
		c["host_model"] = strings.TrimSpace(m[1])
		c["host_vendor"] = "Arista"
		c["os_type"] = "arista_eos"
		c["_host_name_extraction"] = `^(.*?)[>#]$`
	}

	for _, m := range aristaKeyValue.FindAllStringSubmatch(output, -1) {
		key, value := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		switch key {
		case "Uptime":
			c["host_uptime"] = UptimeSeconds(value)
		case "Total memory":
			c["host_memory_total"] = value
		case "Free memory":
			c["host_memory_free"] = value
		case "Serial number":
			c["host_serial_number"] = value
		case "Software image version":
			c["host_software_version"] = value
		default:
			c[strings.ToLower(strings.ReplaceAll(key, " ", "_"))] = value
		}
	}
	return true, c
}
