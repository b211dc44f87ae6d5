package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var (
	envVarPatterns = struct {
		withDefault *regexp.Regexp
		braced      *regexp.Regexp
	}{
		withDefault: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*):-(.*?)\}`),
		braced:      regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
)

// MissingEnvError reports ${VAR} references with no value and no default
type MissingEnvError struct {
	Vars []string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("environment variable(s) not set: %s", strings.Join(e.Vars, ", "))
}

// LookupFunc resolves an environment variable
type LookupFunc func(key string) (string, bool)

// expandEnvVars replaces ${VAR} and ${VAR:-default} in s. A variable set to the empty
// string counts as unset.
func expandEnvVars(s string, lookup LookupFunc) (string, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}

	s = envVarPatterns.withDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.withDefault.FindStringSubmatch(match)
		if val, ok := lookup(parts[1]); ok && val != "" {
			return val
		}
		return parts[2]
	})

	missing := map[string]bool{}
	s = envVarPatterns.braced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarPatterns.braced.FindStringSubmatch(match)
		val, ok := lookup(parts[1])
		if !ok || val == "" {
			missing[parts[1]] = true
			return match
		}
		return val
	})

	if len(missing) > 0 {
		vars := make([]string, 0, len(missing))
		for name := range missing {
			vars = append(vars, name)
		}
		sort.Strings(vars)
		return s, &MissingEnvError{Vars: vars}
	}
	return s, nil
}
