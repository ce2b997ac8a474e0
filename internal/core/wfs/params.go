package wfs

import (
	"net/url"
	"sort"
	"strings"
)

// Params holds raw request parameters under lower-cased keys. Empty values
// are treated as absent.
type Params map[string]string

// ParseValues normalizes KVP query values; the first value of a repeated
// key wins.
func ParseValues(v url.Values) Params {
	p := make(Params, len(v))
	for k, vals := range v {
		if len(vals) == 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(k))
		if _, dup := p[key]; dup {
			continue
		}
		p.Set(key, vals[0])
	}
	return p
}

func (p Params) Set(key, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	p[strings.ToLower(key)] = value
}

func (p Params) Get(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Canonical renders the parameters in sorted key order.
func (p Params) Canonical() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p[k]))
	}
	return b.String()
}

// splitList explodes a comma separated list, trimming each item.
func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// splitGroups explodes "(a,b)(c)" into [[a b] [c]]. A value without
// parentheses is a single group.
func splitGroups(s string) [][]string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "(") {
		return [][]string{splitList(s)}
	}
	var out [][]string
	for s != "" {
		if s[0] != '(' {
			return append(out, splitList(s))
		}
		end := strings.IndexByte(s, ')')
		if end < 0 {
			return append(out, splitList(s[1:]))
		}
		out = append(out, splitList(s[1:end]))
		s = strings.TrimSpace(s[end+1:])
	}
	return out
}

// splitFilters explodes "(<Filter>..</Filter>)()(<Filter>..</Filter>)".
// A boundary is a ")(" that closes a tag or an empty group and opens a tag
// or an empty group, so parentheses inside literals survive.
func splitFilters(s string) []string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return []string{s}
	}
	s = s[1 : len(s)-1]
	var out []string
	start := 0
	for i := 0; i+1 < len(s); i++ {
		if s[i] != ')' || s[i+1] != '(' {
			continue
		}
		cur := strings.TrimSpace(s[start:i])
		if cur != "" && !strings.HasSuffix(cur, ">") {
			continue
		}
		if next := strings.TrimSpace(s[i+2:]); next != "" && next[0] != '<' && next[0] != ')' {
			continue
		}
		out = append(out, cur)
		start = i + 2
		i++
	}
	return append(out, strings.TrimSpace(s[start:]))
}
