// Package orderid extracts and canonicalizes order identifiers from free
// text. User messages reference orders as "ORD-123", "#123", or a bare
// "123", usually with surrounding punctuation; lookups only ever see the
// canonical prefixed, uppercase form.
package orderid

import (
	"strings"
	"unicode"
)

// Normalizer maps raw order-id tokens onto the canonical format.
type Normalizer struct {
	prefix string
}

func NewNormalizer(prefix string) *Normalizer {
	return &Normalizer{prefix: strings.ToUpper(prefix)}
}

// Prefix returns the canonical prefix, e.g. "ORD-".
func (n *Normalizer) Prefix() string {
	return n.prefix
}

// Extract scans a message for the first token that looks like an order
// identifier and returns its canonical form. A token qualifies when, after
// trimming punctuation, it is a bare number, a "#"-prefixed number, or
// already carries the canonical prefix in any case.
func (n *Normalizer) Extract(message string) (string, bool) {
	for _, word := range strings.Fields(message) {
		if id, ok := n.Normalize(word); ok {
			return id, true
		}
	}
	return "", false
}

// Normalize canonicalizes a single token. It strips leading/trailing
// punctuation (so "#12345?" and "(ORD-001)." both resolve), maps bare
// numerics onto the canonical prefix, and uppercases prefixed forms.
func (n *Normalizer) Normalize(token string) (string, bool) {
	t := strings.TrimFunc(token, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r)
	})
	if t == "" {
		return "", false
	}

	upper := strings.ToUpper(t)
	if strings.HasPrefix(upper, n.prefix) {
		body := upper[len(n.prefix):]
		if isDigits(body) && body != "" {
			return n.prefix + body, true
		}
		return "", false
	}
	if isDigits(upper) {
		return n.prefix + upper, true
	}
	return "", false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
