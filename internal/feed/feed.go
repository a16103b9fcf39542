// Package feed turns raw media references into the ordered item list the
// carousel plays.
package feed

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/olivier-w/reels/internal/mediaid"
)

// ErrNoContent is returned when no reference resolves to a playable item.
var ErrNoContent = errors.New("no playable reels in feed")

// Item is one entry of the feed. Its identity is ID.
type Item struct {
	ID        mediaid.ID
	SourceURL string
}

// Build resolves raws in order. Unresolvable references are dropped;
// duplicates are kept. It returns ErrNoContent when nothing survives.
func Build(raws []string) ([]Item, error) {
	items := make([]Item, 0, len(raws))
	for _, raw := range raws {
		id, ok := mediaid.Resolve(raw)
		if !ok {
			continue
		}
		items = append(items, Item{ID: id, SourceURL: strings.TrimSpace(raw)})
	}
	if len(items) == 0 {
		return nil, ErrNoContent
	}
	return items, nil
}

// SplitParam splits a comma or whitespace separated list, as found in a
// query parameter, dropping empty entries.
func SplitParam(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
}

var listExts = map[string]bool{".txt": true, ".list": true, ".m3u": true, ".m3u8": true, ".pls": true}

// IsListFile reports whether name has an extension ReadFile understands as
// a feed list.
func IsListFile(name string) bool {
	return listExts[strings.ToLower(filepath.Ext(name))]
}

// ReadFile reads references from a list file: .m3u/.m3u8, .pls, or any
// other file as one reference per line (blank lines and # comments skipped).
func ReadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading feed: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("feed %s is not valid UTF-8", path)
	}
	text := strings.TrimPrefix(string(data), "\uFEFF")
	scanner := bufio.NewScanner(strings.NewReader(text))

	var refs []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pls":
		refs = parsePLS(scanner)
	default:
		refs = parseLines(scanner)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading feed: %w", err)
	}
	return refs, nil
}

// parseLines handles plain lists and m3u, whose directives are comments.
func parseLines(scanner *bufio.Scanner) []string {
	refs := make([]string, 0)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		refs = append(refs, unquote(line))
	}
	return refs
}

func parsePLS(scanner *bufio.Scanner) []string {
	refs := make([]string, 0)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		if val == "" || !isPLSFileKey(key) {
			continue
		}
		refs = append(refs, unquote(val))
	}
	return refs
}

func isPLSFileKey(key string) bool {
	rest, ok := strings.CutPrefix(strings.ToLower(key), "file")
	if !ok || rest == "" {
		return false
	}
	for i := 0; i < len(rest); i++ {
		if rest[i] < '0' || rest[i] > '9' {
			return false
		}
	}
	return true
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
