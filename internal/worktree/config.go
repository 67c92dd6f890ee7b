package worktree

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// DefaultBranchPrefix is used when no prefix is configured.
const DefaultBranchPrefix = "stoneforge/"

// Config controls where worktrees are created and how branches are named.
type Config struct {
	// BasePath is the directory worktrees are created under. Supports "~"
	// expansion. Default: ~/.stoneforge/worktrees.
	BasePath string `mapstructure:"base_path"`

	// BranchPrefix prefixes every branch this manager creates.
	BranchPrefix string `mapstructure:"branch_prefix"`
}

// DefaultConfig returns the manager's default configuration.
func DefaultConfig() Config {
	return Config{
		BasePath:     "~/.stoneforge/worktrees",
		BranchPrefix: DefaultBranchPrefix,
	}
}

func (c *Config) normalize() {
	if c.BranchPrefix == "" {
		c.BranchPrefix = DefaultBranchPrefix
	}
	if c.BasePath == "" {
		c.BasePath = "~/.stoneforge/worktrees"
	}
}

// expandedBasePath returns BasePath with a leading "~" expanded.
func (c *Config) expandedBasePath() (string, error) {
	path := c.BasePath
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[2:])
	}
	return path, nil
}

var hyphenRun = regexp.MustCompile(`-+`)

// sanitizeForBranch converts a task title into a git-branch-safe component:
// lowercased, non-alphanumeric runs collapsed to a single hyphen, trimmed,
// and capped at maxLen.
func sanitizeForBranch(title string, maxLen int) string {
	if title == "" {
		return ""
	}
	var sb strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('-')
		}
	}
	result := hyphenRun.ReplaceAllString(sb.String(), "-")
	result = strings.Trim(result, "-")
	if len(result) > maxLen {
		result = strings.TrimRight(result[:maxLen], "-")
	}
	return result
}

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomSuffix returns a short random suffix so repeated allocations for the
// same task never collide on directory or branch name.
func randomSuffix(n int) string {
	if n <= 0 {
		return ""
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return strings.Repeat("x", n)
	}
	for i := range buf {
		buf[i] = suffixAlphabet[int(buf[i])%len(suffixAlphabet)]
	}
	return string(buf)
}
