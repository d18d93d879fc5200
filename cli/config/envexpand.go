package config

import (
	"os"
	"regexp"
)

// envPattern matches ${VAR} and ${VAR:-default} references.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv substitutes ${VAR} references in raw config text with
// environment values. ${VAR:-default} falls back to the default when
// VAR is unset or empty. Unset variables without a default expand to
// the empty string.
func ExpandEnv(raw string) string {
	return envPattern.ReplaceAllStringFunc(raw, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		name, fallback := groups[1], groups[3]
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}
