// Package hosts decides whether this host takes part in monitoring at all.
package hosts

import (
	"os"
	"path"
	"strings"
)

// Filter matches hostnames against shell glob patterns (path.Match syntax).
type Filter struct {
	patterns []string
}

// NewFilter returns a filter for the given patterns. Blank patterns are ignored.
func NewFilter(patterns []string) Filter {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return Filter{patterns: out}
}

// Excluded reports the first pattern matching host, case-insensitively. Both the full
// name and its short form (before the first dot) are tried.
func (f Filter) Excluded(host string) (pattern string, excluded bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	short, _, _ := strings.Cut(host, ".")
	for _, p := range f.patterns {
		if ok, _ := path.Match(p, host); ok {
			return p, true
		}
		if short != host {
			if ok, _ := path.Match(p, short); ok {
				return p, true
			}
		}
	}
	return "", false
}

// Hostname returns the local hostname, or "unknown-host" if it cannot be read.
func Hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown-host"
	}
	return name
}
