// Package helpers holds small text utilities shared by the workflow stages:
// tolerant extraction of JSON and markdown from model output, URL
// canonicalisation and HTML sanitising for previews.
package helpers

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when no balanced JSON value could be located.
var ErrNoJSON = errors.New("no balanced JSON object/array found")

// DecodeJSON unmarshals the first JSON value in s that fits out. Bracketed
// prose and values of the wrong shape are skipped.
func DecodeJSON(s string, out any) error {
	var lastErr error = ErrNoJSON
	for _, raw := range jsonCandidates(UnwrapFence(s)) {
		if err := json.Unmarshal([]byte(raw), out); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// ExtractJSON finds and returns the first valid JSON object or array in s.
// A surrounding code fence is removed first; braces inside strings are
// ignored while scanning.
func ExtractJSON(s string) (string, error) {
	if c := jsonCandidates(UnwrapFence(s)); len(c) > 0 {
		return c[0], nil
	}
	return "", ErrNoJSON
}

// jsonCandidates returns every balanced value in s that is valid JSON, in
// order of appearance. Nested values of an accepted candidate are skipped.
func jsonCandidates(s string) []string {
	var out []string
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		raw, ok := balancedFrom(s, i)
		if !ok || !json.Valid([]byte(raw)) {
			continue
		}
		out = append(out, raw)
		i += len(raw) - 1
	}
	return out
}

// UnwrapFence returns the body of the first fenced block when s starts with
// ``` or ~~~, otherwise the trimmed input.
func UnwrapFence(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(s, "\uFEFF"))
	for _, fence := range []string{"```", "~~~"} {
		if !strings.HasPrefix(s, fence) {
			continue
		}
		rest := s[len(fence):]
		nl := strings.IndexByte(rest, '\n')
		if nl == -1 {
			return s
		}
		rest = rest[nl+1:]
		if end := strings.LastIndex(rest, fence); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}
	return s
}

// balancedFrom extracts the balanced value opening at s[start].
func balancedFrom(s string, start int) (string, bool) {
	var (
		stack    = []byte{s[start]}
		inString bool
		escape   bool
	)
	for i := start + 1; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			top := stack[len(stack)-1]
			if (top == '{' && c != '}') || (top == '[' && c != ']') {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
