package envcontrib

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Format selects how Render writes variables.
type Format string

const (
	// FormatDotenv writes KEY=value lines, the format read by CI systems
	// that accept an "env file" (and by docker --env-file).
	FormatDotenv Format = "dotenv"

	// FormatShell writes "export KEY=value" lines with values quoted for
	// POSIX shells, suitable for eval.
	FormatShell Format = "shell"

	// FormatJSON writes a single JSON object.
	FormatJSON Format = "json"
)

// ParseFormat converts a string to a Format.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(s))
	switch f {
	case FormatDotenv, FormatShell, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("invalid env format: %q (valid: dotenv, shell, json)", s)
	}
}

// Render writes env to w in the requested format, keys sorted.
//
// In shell format, keys that are not valid shell variable names (such as
// DOCKER_EXEC_ID_my-db for a container referenced by name) are skipped:
// one bad "export" line would abort the eval of the whole output. Callers
// can report them with InvalidShellNames.
func Render(w io.Writer, env map[string]string, format Format) error {
	if format == FormatJSON {
		data, err := json.MarshalIndent(env, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode environment: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	for _, key := range sortedKeys(env) {
		if format == FormatShell && !syntax.ValidName(key) {
			continue
		}
		line, err := renderLine(key, env[key], format)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func renderLine(key, value string, format Format) (string, error) {
	switch format {
	case FormatDotenv:
		if strings.ContainsAny(value, "\r\n") {
			return "", fmt.Errorf("value of %s contains a newline and cannot be written as dotenv", key)
		}
		return key + "=" + value, nil
	case FormatShell:
		quoted, err := syntax.Quote(value, syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("failed to quote value of %s: %w", key, err)
		}
		return "export " + key + "=" + quoted, nil
	default:
		return "", fmt.Errorf("unsupported env format %q", format)
	}
}

func sortedKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// InvalidShellNames returns the keys of env, sorted, that FormatShell
// cannot export.
func InvalidShellNames(env map[string]string) []string {
	var invalid []string
	for _, key := range sortedKeys(env) {
		if !syntax.ValidName(key) {
			invalid = append(invalid, key)
		}
	}
	return invalid
}
