// Package redact scrubs secret-like substrings from text before it is
// embedded or persisted.
package redact

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Marker replaces redacted values.
const Marker = "<REDACTED>"

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(token|password|secret|apikey|api_key|client_secret|authorization)\s*[:=]\s*\S+`),
	regexp.MustCompile(`(?i)Bearer\s+\S+`),
	regexp.MustCompile(`-----BEGIN[A-Z ]+-----[\s\S]*?-----END[A-Z ]+-----`),
}

// Redact replaces recognizable secret values with Marker. Key-value matches
// keep the key so the chunk stays searchable. Redact is idempotent:
// already-redacted text passes through unchanged.
func Redact(text string) string {
	for _, pat := range secretPatterns {
		text = pat.ReplaceAllStringFunc(text, func(m string) string {
			if i := strings.IndexByte(m, ':'); i >= 0 {
				return m[:i] + ": " + Marker
			}
			return Marker
		})
	}
	return text
}

// IsSecretManifest reports whether a YAML document is a Kubernetes Secret.
// Unparseable documents are not considered secrets; the caller's redaction
// pass still applies to them.
func IsSecretManifest(doc string) bool {
	var obj map[string]any
	if err := yaml.Unmarshal([]byte(doc), &obj); err != nil {
		return false
	}
	kind, _ := obj["kind"].(string)
	return kind == "Secret"
}
