// Package eligibility decides which request paths the rewrite middleware
// intercepts. The active prefix list lives in a Manager and can be swapped at
// runtime from SSM or a watched file without a restart.
package eligibility

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Rule is an immutable, ordered list of path prefixes.
// A path is eligible when any prefix matches.
type Rule struct {
	prefixes []string
	hash     string
}

// NewRule normalizes prefixes: surrounding whitespace and empty entries are
// dropped, duplicates keep their first position.
func NewRule(prefixes []string) *Rule {
	seen := make(map[string]struct{}, len(prefixes))
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	h := sha256.New()
	for _, p := range out {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return &Rule{prefixes: out, hash: hex.EncodeToString(h.Sum(nil))}
}

// Matches reports whether path starts with any prefix. A nil rule matches nothing.
func (r *Rule) Matches(path string) bool {
	if r == nil {
		return false
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Prefixes returns a copy of the prefix list.
func (r *Rule) Prefixes() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.prefixes...)
}

func (r *Rule) Len() int {
	if r == nil {
		return 0
	}
	return len(r.prefixes)
}

// Hash identifies the prefix list for change detection.
func (r *Rule) Hash() string {
	if r == nil {
		return ""
	}
	return r.hash
}

// ParseList splits a comma or newline separated prefix list, the format of an
// SSM StringList parameter and of the command line flag.
func ParseList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' || r == '\r' })
}
