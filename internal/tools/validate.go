package tools

import (
	"regexp"
	"strings"

	"automatosx/internal/errs"
)

var agentNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// ValidateAgentName enforces the agent naming contract at the tool
// boundary: letters, digits, underscore, hyphen, at most 100 characters.
func ValidateAgentName(name string) error {
	if !agentNamePattern.MatchString(name) {
		return errs.Newf(errs.CodeInvalidInput, "invalid agent name: %q", name).
			WithSuggestions("agent names use letters, digits, '_' and '-', up to 100 characters")
	}
	return nil
}

// ValidateText rejects null bytes and non-whitespace control characters in
// free-text arguments.
func ValidateText(field, value string) error {
	for _, r := range value {
		if r == 0 || (r < 0x20 && r != '\n' && r != '\r' && r != '\t') {
			return errs.Newf(errs.CodeInvalidInput, "%s contains control characters", field)
		}
	}
	return nil
}

// ValidateRelPath rejects path arguments that could escape a scoped root.
func ValidateRelPath(field, value string) error {
	if value == "" {
		return errs.Newf(errs.CodeInvalidInput, "%s must not be empty", field)
	}
	if strings.ContainsRune(value, 0) {
		return errs.Newf(errs.CodeInvalidInput, "%s contains a null byte", field)
	}
	if strings.HasPrefix(value, "/") || strings.HasPrefix(value, "\\") {
		return errs.Newf(errs.CodeInvalidInput, "%s must be relative", field)
	}
	for _, part := range strings.FieldsFunc(value, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return errs.Newf(errs.CodeInvalidInput, "%s must not traverse upward", field)
		}
	}
	return nil
}

// StringArg extracts an optional string argument.
func StringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// IntArg extracts an optional integer argument; JSON numbers arrive as
// float64.
func IntArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// BoolArg extracts an optional boolean argument.
func BoolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

// StringSliceArg extracts an optional list-of-strings argument.
func StringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
