// Package shell holds the quoting and sanitizing helpers used whenever
// task-controlled strings reach a shell command line or a generated script.
package shell

import (
	"regexp"
	"strings"
)

// Allow-lists used by IsSafeIdentifier.
var (
	// GitRefPattern matches branch-like strings such as "claude-task/" or "v1.0.0".
	GitRefPattern = regexp.MustCompile(`^[A-Za-z0-9/_.\-]+$`)
	// GitRemotePattern matches remote names such as "origin" or "my-remote_1".
	GitRemotePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
	// SafePathPattern matches plain filesystem paths, spaces allowed.
	SafePathPattern = regexp.MustCompile(`^[A-Za-z0-9/_.~\- ]+$`)
)

// Escape quotes s as a single POSIX shell word. Embedded single quotes
// become '\'' so the result is never subject to expansion or splitting.
func Escape(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// SanitizeForComment keeps letters, digits, spaces and , . ! ? : ( ) [ ] { } -
// and drops everything else. Newlines (and carriage returns) become a single
// space so the result stays on one comment line.
func SanitizeForComment(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r':
			b.WriteByte(' ')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		case strings.ContainsRune(",.!?:()[]{}-", r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsSafeIdentifier reports whether s fully matches pattern. It is a
// validation aid only; callers must still Escape values they embed.
func IsSafeIdentifier(s string, pattern *regexp.Regexp) bool {
	return pattern.MatchString(s)
}
