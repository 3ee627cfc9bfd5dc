package logging

import (
	"testing"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "IOS enable secret",
			input:    "enable secret 5 $1$mERr$hx5rVt7rPNoS4wqbXKX7m0",
			expected: "enable secret [REDACTED]",
		},
		{
			name:     "username password",
			input:    "username admin password hunter2",
			expected: "username admin password [REDACTED]",
		},
		{
			name:     "snmp community",
			input:    "snmp-server community public RO",
			expected: "snmp-server community [REDACTED] RO",
		},
		{
			name:     "key value",
			input:    "password=letmein now",
			expected: "password [REDACTED] now",
		},
		{
			name:     "No sensitive data",
			input:    "show version",
			expected: "show version",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Redact(tt.input)
			if result != tt.expected {
				t.Errorf("Redact() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestRedactMap(t *testing.T) {
	input := map[string]interface{}{
		"host":     "10.0.0.1",
		"password": "hunter2",
		"nested": map[string]interface{}{
			"enable_secret": "cisco",
			"port":          22,
		},
	}

	result := RedactMap(input)

	if result["host"] != "10.0.0.1" {
		t.Errorf("host should not be redacted: %v", result["host"])
	}
	if result["password"] != RedactedValue {
		t.Errorf("password should be redacted: %v", result["password"])
	}
	nested := result["nested"].(map[string]interface{})
	if nested["enable_secret"] != RedactedValue {
		t.Errorf("nested secret should be redacted: %v", nested["enable_secret"])
	}
	if nested["port"] != 22 {
		t.Errorf("port should be preserved: %v", nested["port"])
	}
}

func TestRedactParams(t *testing.T) {
	result := RedactParams(map[string]string{"site": "ams1", "snmp_community": "public"})
	if result["site"] != "ams1" {
		t.Errorf("site should not be redacted: %s", result["site"])
	}
	if result["snmp_community"] != RedactedValue {
		t.Errorf("community should be redacted: %s", result["snmp_community"])
	}
	if RedactParams(nil) != nil {
		t.Errorf("nil params should stay nil")
	}
}

func TestIsSensitiveField(t *testing.T) {
	sensitive := []string{"password", "PASSWORD", "privilege_password", "enable", "community"}
	for _, name := range sensitive {
		if !IsSensitiveField(name) {
			t.Errorf("%q should be sensitive", name)
		}
	}
	safe := []string{"host", "username", "port"}
	for _, name := range safe {
		if IsSensitiveField(name) {
			t.Errorf("%q should not be sensitive", name)
		}
	}
}
