package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const prefix = "wfs"

// Response is the cache key of one operation answer. Layers keep their
// request order; canonical is the normalized parameter set.
func Response(op string, layers []string, canonical string) string {
	names := make([]string, len(layers))
	for i, l := range layers {
		names[i] = sanitizeLayer(strings.TrimSpace(l))
	}
	sum := xxhash.Sum64String(collapseASCIIWhitespace(canonical))
	return fmt.Sprintf("%s:%s:%s:f=%016x", prefix, strings.ToLower(op), strings.Join(names, ","), sum)
}

// LayerIndex is the set holding every response key built from layer.
func LayerIndex(layer string) string {
	return prefix + ":idx:" + sanitizeLayer(strings.TrimSpace(layer))
}

func sanitizeLayer(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
