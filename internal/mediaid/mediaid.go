// Package mediaid canonicalizes media references (watch URLs, short links,
// embed links, bare tokens) into provider media identifiers.
package mediaid

import (
	"net/url"
	"regexp"
	"strings"
)

// ID uniquely addresses one playable unit in the provider's namespace.
type ID string

const tokenLength = 11

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Path prefixes that carry the token as their next segment.
var pathPrefixes = []string{"/embed/", "/shorts/", "/live/", "/v/", "/e/"}

// Resolve returns the identifier referenced by raw. It reports false for
// anything it does not recognize; it never panics on malformed input.
func Resolve(raw string) (ID, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if isToken(raw) {
		return ID(raw), true
	}
	if !strings.Contains(raw, "/") {
		return "", false
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}

	if v := u.Query().Get("v"); v != "" {
		if isToken(v) {
			return ID(v), true
		}
		return "", false
	}

	path := u.EscapedPath()
	for _, prefix := range pathPrefixes {
		if rest, ok := strings.CutPrefix(path, prefix); ok {
			return tokenFromSegment(rest)
		}
	}

	// Short-link form: the token is the only path segment.
	trimmed := strings.Trim(path, "/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return "", false
	}
	return tokenFromSegment(trimmed)
}

// ResolveAll resolves every raw reference, dropping the ones that do not
// resolve. Survivors keep their relative order; duplicates are kept.
func ResolveAll(raws []string) []ID {
	ids := make([]ID, 0, len(raws))
	for _, raw := range raws {
		if id, ok := Resolve(raw); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// WatchURL returns the canonical watch URL for id.
func WatchURL(id ID) string {
	return "https://www.youtube.com/watch?v=" + url.QueryEscape(string(id))
}

func tokenFromSegment(s string) (ID, bool) {
	if i := strings.IndexAny(s, "/?#&"); i >= 0 {
		s = s[:i]
	}
	if !isToken(s) {
		return "", false
	}
	return ID(s), true
}

// isToken reports whether s matches the fixed-length token grammar. Tokens made
// only of lowercase letters and separators read as plain words ("not-a-video")
// and are rejected in every input form, which keeps resolution format invariant.
func isToken(s string) bool {
	if len(s) != tokenLength || !tokenPattern.MatchString(s) {
		return false
	}
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return true
		}
	}
	return false
}
