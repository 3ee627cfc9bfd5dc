package logging

import (
	"regexp"
	"strings"
)

// Field names whose values are never logged.
var sensitiveFields = []string{
	"password",
	"passphrase",
	"secret",
	"token",
	"community",
	"private_key",
	"privatekey",
	"credential",
	"enable",
}

// Patterns for secrets embedded in device commands and output.
var secretPatterns = []*regexp.Regexp{
	// IOS/EOS style "username x password 7 0822455D0A16" or "secret 5 $1$..."
	regexp.MustCompile(`(?i)\b(password|secret)(\s+\d)?\s+\S+`),
	// SNMP communities
	regexp.MustCompile(`(?i)\b(snmp-server\s+community)\s+\S+`),
	// pre-shared keys
	regexp.MustCompile(`(?i)\b(pre-shared-key|key-string)(\s+\d)?\s+\S+`),
	// key=value and key: value forms
	regexp.MustCompile(`(?i)\b(password|passwd|secret|token)\s*[=:]\s*["']?[^\s"']+["']?`),
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// Redact replaces sensitive information in a string, keeping the keyword so
// the redacted line is still recognisable.
func Redact(s string) string {
	result := s
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllString(result, "${1} "+RedactedValue)
	}
	return result
}

// RedactMap redacts sensitive fields in a map.
func RedactMap(m map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]interface{}:
			if IsSensitiveField(k) {
				result[k] = RedactedValue
			} else {
				result[k] = RedactMap(val)
			}
		case string:
			if IsSensitiveField(k) {
				result[k] = RedactedValue
			} else {
				result[k] = Redact(val)
			}
		default:
			if IsSensitiveField(k) {
				result[k] = RedactedValue
			} else {
				result[k] = v
			}
		}
	}
	return result
}

// RedactParams returns a copy of string parameters with sensitive keys masked.
func RedactParams(params map[string]string) map[string]string {
	if params == nil {
		return nil
	}
	result := make(map[string]string, len(params))
	for k, v := range params {
		if IsSensitiveField(k) {
			result[k] = RedactedValue
			continue
		}
		result[k] = v
	}
	return result
}

// IsSensitiveField checks if a field name is considered sensitive.
func IsSensitiveField(name string) bool {
	lowerName := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lowerName, field) {
			return true
		}
	}
	return false
}
