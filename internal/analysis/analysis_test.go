package analysis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const iosShowVersion = `Cisco IOS Software, C2960 Software (C2960-LANBASEK9-M), Version 12.2(55)SE7, RELEASE SOFTWARE (fc1)
Technical Support: http://www.cisco.com/techsupport
Copyright (c) 1986-2013 by Cisco Systems, Inc.

ROM: Bootstrap program is C2960 boot loader
sw1 uptime is 21 weeks, 3 days, 11 hours, 28 minutes
System returned to ROM by power-on
System image file is "flash:c2960-lanbasek9-mz.122-55.SE7.bin"

cisco WS-C2960-24TT-L (PowerPC405) processor (revision B0) with 65536K bytes of memory.
Processor board ID FOC1010X104
Last reset from power-on
1 Virtual Ethernet interface
24 FastEthernet interfaces
2 Gigabit Ethernet interfaces

Configuration register is 0xF
`

const eosShowVersion = "Arista DCS-7050TX-64-R\r\n" +
	"Hardware version:    01.11\r\n" +
	"Serial number:       JPE12345678\r\n" +
	"System MAC address:  001c.7300.0001\r\n" +
	"\r\n" +
	"Software image version: 4.21.1F\r\n" +
	"Architecture:           i386\r\n" +
	"Uptime:                 2 weeks, 1 day, 3 hours and 4 minutes\r\n" +
	"Total memory:           3818208 kB\r\n" +
	"Free memory:            1926560 kB\r\n"

func TestUptimeSeconds(t *testing.T) {
	cases := map[string]int64{
		"21 weeks, 3 days, 11 hours, 28 minutes": 21*7*86400 + 3*86400 + 11*3600 + 28*60,
		"1 year, 2 days":                         365*86400 + 2*86400,
		"628d 3h 39m 8s":                         628*86400 + 3*3600 + 39*60 + 8,
		"5 minutes":                              300,
		"":                                       0,
	}
	for in, want := range cases {
		require.Equal(t, want, UptimeSeconds(in), in)
	}
}

func TestLinuxRelease(t *testing.T) {
	out := "NAME=\"Ubuntu\"\r\nVERSION_ID=\"22.04\"\r\nPRETTY_NAME=\"Ubuntu 22.04.3 LTS\"\r\nnot a pair\r\n"
	ok, c := LinuxRelease(out, Collection{})
	require.True(t, ok)
	info := c["linux_info"].(map[string]string)
	require.Equal(t, "Ubuntu", info["name"])
	require.Equal(t, "22.04", info["version_id"])
	require.Equal(t, "Ubuntu 22.04.3 LTS", c["host_software_name"])
	require.Equal(t, "linux", c["os_type"])
}

func TestLinuxUname(t *testing.T) {
	out := "Linux web01 5.15.0-91-generic #101-Ubuntu SMP Tue Nov 14 13:30:08 UTC 2023 x86_64 x86_64 x86_64 GNU/Linux"
	ok, c := LinuxUname(out, Collection{})
	require.True(t, ok)
	require.Equal(t, "web01", c["host_name"])
	require.Equal(t, "5.15.0-91-generic", c["host_software_version"])
	require.Equal(t, "x86_64", c["host_architecture"])
	require.Equal(t, "Linux", c["host_vendor"])
}

func TestCiscoShowVersion(t *testing.T) {
	ok, c := CiscoShowVersion(iosShowVersion, Collection{})
	require.True(t, ok)
	require.Equal(t, "cisco_ios", c["os_type"])
	require.Equal(t, "Cisco", c["host_vendor"])
	require.Equal(t, "12.2(55)SE7", c["host_software_version"])
	require.Equal(t, "C2960-LANBASEK9-M", c["host_software_type"])
	require.Equal(t, "RELEASE SOFTWARE (fc1)", c["host_software_release_type"])
	require.Equal(t, "WS-C2960-24TT-L", c["host_model"])
	require.Equal(t, int64(65536), c["host_memory"])
	require.Equal(t, "sw1", c["host_system_name"])
	require.Equal(t, int64(21*7*86400+3*86400+11*3600+28*60), c["host_uptime"])
	require.Equal(t, "FOC1010X104", c["host_serial_number"])
	require.Equal(t, "power-on", c["host_last_reload_reason"])
	require.Equal(t, "flash:c2960-lanbasek9-mz.122-55.se7.bin", c["host_system_image_file"])
	require.Equal(t, "0xF", c["host_config_register"])
	require.Equal(t, map[string]int{"Virtual Ethernet": 1, "FastEthernet": 24, "Gigabit Ethernet": 2}, c["interface_totals"])
}

func TestCiscoShowVersionError(t *testing.T) {
	out := "show versoin\r\n% Invalid input detected at '^' marker.\r\n"
	ok, c := CiscoShowVersion(out, Collection{"host_vendor": "Cisco"})
	require.False(t, ok)
	require.Equal(t, "% Invalid input detected at '^' marker.", c[ErrorKey])
	require.Equal(t, "Cisco", c["host_vendor"])
}

func TestAristaShowVersion(t *testing.T) {
	ok, c := AristaShowVersion(eosShowVersion, Collection{})
	require.True(t, ok)
	require.Equal(t, "DCS-7050TX-64-R", c["host_model"])
	require.Equal(t, "Arista", c["host_vendor"])
	require.Equal(t, "arista_eos", c["os_type"])
	require.Equal(t, "JPE12345678", c["host_serial_number"])
	require.Equal(t, "4.21.1F", c["host_software_version"])
	require.Equal(t, "3818208 kB", c["host_memory_total"])
	require.Equal(t, "01.11", c["hardware_version"])
	require.Equal(t, "i386", c["architecture"])
	require.Equal(t, int64(2*7*86400+86400+3*3600+4*60), c["host_uptime"])
}

func TestRegistryLookup(t *testing.T) {
	r := Default()
	require.Equal(t, 4, r.Len())

	e, ok := r.Lookup("cisco", "show ver")
	require.True(t, ok)
	require.Equal(t, "cisco-show-version", e.Name)

	e, ok = r.Lookup("arista", "show version")
	require.True(t, ok)
	require.Equal(t, "arista-show-version", e.Name)

	// Undecided vendors resolve to the first analyzer that accepts any of them.
	e, ok = r.Lookup("arista|cisco", "show version")
	require.True(t, ok)
	require.Equal(t, "arista-show-version", e.Name)

	e, ok = r.Lookup("linux", "cat /etc/*-release")
	require.True(t, ok)
	require.Equal(t, "linux-release", e.Name)

	_, ok = r.Lookup("linux", "show version")
	require.False(t, ok)
	_, ok = r.Lookup("cisco", "show running-config")
	require.False(t, ok)
}

func TestRegistryAnalyze(t *testing.T) {
	r := NewRegistry()
	require.ErrorIs(t, r.Register("empty", "", "", nil), ErrNoCommand)
	require.Error(t, r.Register("bad", "", "(", nil))

	r.MustRegister("hostname", "", `^hostname$`, func(out string, c Collection) (bool, Collection) {
		c["host_name"] = out
		return true, c
	})

	ok, c, found := r.Analyze("linux", "  hostname ", "web01", nil)
	require.True(t, found)
	require.True(t, ok)
	require.Equal(t, "web01", c["host_name"])

	ok, c, found = r.Analyze("linux", "whoami", "root", c)
	require.False(t, found)
	require.True(t, ok)
	require.Len(t, c, 1)
}
