package shell

import (
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscape(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "hello", "'hello'"},
		{"empty", "", "''"},
		{"single quote", "it's", `'it'\''s'`},
		{"multiple quotes", "it's a 'test'", `'it'\''s a '\''test'\'''`},
		{"double quotes kept", `say "hello"`, `'say "hello"'`},
		{"semicolon", "foo; rm -rf /", "'foo; rm -rf /'"},
		{"backticks", "foo `whoami`", "'foo `whoami`'"},
		{"command substitution", "foo $(whoami)", "'foo $(whoami)'"},
		{"newline", "foo\nrm -rf /", "'foo\nrm -rf /'"},
		{"comment injection", `"; rm -rf / #`, `'"; rm -rf / #'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Escape(tt.in))
		})
	}
}

func TestEscapeRoundTripsThroughShell(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	inputs := []string{
		"",
		"plain",
		"; rm -rf /",
		"`id`",
		"$(whoami)",
		"'leading",
		"trailing'",
		"''",
		"line1\nline2",
		`mixed "double" and 'single' $HOME *`,
	}
	for _, in := range inputs {
		out, err := exec.Command(sh, "-c", "echo "+Escape(in)).Output()
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, in+"\n", string(out), "input %q", in)
	}
}

func TestSanitizeForComment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello123", "Hello123"},
		{"Hello World", "Hello World"},
		{"Hello, World!", "Hello, World!"},
		{"Is this a test?", "Is this a test?"},
		{"Task: Run (daily)", "Task: Run (daily)"},
		{"Config [v1.0]", "Config [v1.0]"},
		{"Build {dev}", "Build {dev}"},
		{"test$(whoami)", "test(whoami)"},
		{"test`id`", "testid"},
		{"test|cat", "testcat"},
		{"foo&bar", "foobar"},
		{"test#comment", "testcomment"},
		{"a;b", "ab"},
		{"line1\nline2", "line1 line2"},
		{"test; rm -rf /", "test rm -rf "},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeForComment(tt.in), "input %q", tt.in)
	}
}

func TestSanitizeForCommentStripsMetacharacters(t *testing.T) {
	in := "$`|&#;<>\\\"'*?\n$(id)`x`"
	got := SanitizeForComment(in)
	for _, c := range []string{"$", "`", "|", "&", "#", ";", "\n"} {
		assert.NotContains(t, got, c)
	}
	assert.False(t, strings.Contains(got, "\n"))
}

func TestIsSafeIdentifier(t *testing.T) {
	t.Run("git ref", func(t *testing.T) {
		for _, ok := range []string{"claude-task/", "feature/my-branch", "v1.0.0"} {
			assert.True(t, IsSafeIdentifier(ok, GitRefPattern), ok)
		}
		for _, bad := range []string{"branch; rm -rf", "branch`id`", "branch name", "x$(id)", ""} {
			assert.False(t, IsSafeIdentifier(bad, GitRefPattern), bad)
		}
	})

	t.Run("git remote", func(t *testing.T) {
		for _, ok := range []string{"origin", "upstream", "my-remote_1"} {
			assert.True(t, IsSafeIdentifier(ok, GitRemotePattern), ok)
		}
		for _, bad := range []string{"origin; rm", "remote/name", "remote name", "a`b`", "origin\n"} {
			assert.False(t, IsSafeIdentifier(bad, GitRemotePattern), bad)
		}
	})

	t.Run("path", func(t *testing.T) {
		for _, ok := range []string{"/home/user/worktrees", "~/worktrees", "./relative/path", "path with spaces"} {
			assert.True(t, IsSafeIdentifier(ok, SafePathPattern), ok)
		}
		for _, bad := range []string{"/path; rm -rf", "/path$(whoami)", "/path`id`"} {
			assert.False(t, IsSafeIdentifier(bad, SafePathPattern), bad)
		}
	})
}
