// Package secretscan rejects event payloads and tags that carry recognizable
// secret material, adapted from the teacher's masking pattern table
// (pkg/masking/pattern.go) into a reject-on-match scanner rather than a
// mask-and-forward one: the event log refuses to append rather than
// persisting a redacted copy.
package secretscan

import (
	"fmt"
	"regexp"
)

// Pattern is a single compiled secret-detection rule.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Description string
}

// builtinPatterns mirrors the teacher's builtin masking pattern table
// (pkg/config/builtin.go), trimmed to patterns specific enough that a false
// positive on ordinary command/decision payloads is unlikely (dropped: the
// teacher's generic email/base64-value patterns, which would reject far too
// much everyday payload data).
var builtinPatterns = []Pattern{
	{
		Name:        "api_key",
		Regex:       regexp.MustCompile(`(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`),
		Description: "API key assignment",
	},
	{
		Name:        "bearer_token",
		Regex:       regexp.MustCompile(`(?i)(?:bearer|jwt)\s+[A-Za-z0-9_\-\.]{20,}`),
		Description: "bearer/JWT token",
	},
	{
		Name:        "private_key_block",
		Regex:       regexp.MustCompile(`(?s)-----BEGIN [A-Z ]+ PRIVATE KEY-----.*?-----END [A-Z ]+ PRIVATE KEY-----`),
		Description: "PEM private key block",
	},
	{
		Name:        "aws_access_key_id",
		Regex:       regexp.MustCompile(`\bAKIA[A-Z0-9]{16}\b`),
		Description: "AWS access key id",
	},
	{
		Name:        "aws_secret_access_key",
		Regex:       regexp.MustCompile(`(?i)aws[_-]?secret[_-]?access[_-]?key["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`),
		Description: "AWS secret access key",
	},
	{
		Name:        "github_token",
		Regex:       regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,255}`),
		Description: "GitHub token",
	},
	{
		Name:        "slack_token",
		Regex:       regexp.MustCompile(`(?i)xox[baprs]-[A-Za-z0-9-]{10,72}`),
		Description: "Slack token",
	},
	{
		Name:        "openai_style_key",
		Regex:       regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`),
		Description: "sk- prefixed secret key",
	},
	{
		Name:        "ssh_public_key",
		Regex:       regexp.MustCompile(`ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`),
		Description: "SSH public key",
	},
}

// Match describes a detected secret, for logging and error reporting.
type Match struct {
	Pattern     string
	Description string
	Path        string
}

// Scanner holds a compiled pattern set. The zero value uses the builtin set.
type Scanner struct {
	patterns []Pattern
}

// New returns a Scanner using the builtin pattern table.
func New() *Scanner {
	return &Scanner{patterns: builtinPatterns}
}

// ScanString checks a single string value against every pattern and returns
// the first match found, or nil if the value is clean.
func (s *Scanner) ScanString(path, value string) *Match {
	for _, p := range s.patterns {
		if p.Regex.MatchString(value) {
			return &Match{Pattern: p.Name, Description: p.Description, Path: path}
		}
	}
	return nil
}

// ScanValue recursively walks a decoded JSON value (map[string]any,
// []any, string, or scalar) and returns the first match found, with a
// dotted path describing where the match occurred.
func (s *Scanner) ScanValue(path string, v any) *Match {
	switch val := v.(type) {
	case string:
		return s.ScanString(path, val)
	case map[string]any:
		for k, nested := range val {
			if m := s.ScanValue(joinPath(path, k), nested); m != nil {
				return m
			}
		}
	case []any:
		for i, nested := range val {
			if m := s.ScanValue(fmt.Sprintf("%s[%d]", path, i), nested); m != nil {
				return m
			}
		}
	}
	return nil
}

// ScanPayloadAndTags checks an event's payload and tags maps, returning the
// first match found across either.
func (s *Scanner) ScanPayloadAndTags(payload map[string]any, tags map[string]any) *Match {
	if m := s.ScanValue("payload", payload); m != nil {
		return m
	}
	if tags != nil {
		if m := s.ScanValue("tags", tags); m != nil {
			return m
		}
	}
	return nil
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}
