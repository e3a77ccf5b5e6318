package emit

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var rustKeywords = map[string]struct{}{
	"_": {}, "abstract": {}, "as": {}, "async": {}, "await": {}, "become": {},
	"box": {}, "break": {}, "const": {}, "continue": {}, "crate": {}, "do": {},
	"dyn": {}, "else": {}, "enum": {}, "extern": {}, "false": {}, "final": {},
	"fn": {}, "for": {}, "gen": {}, "if": {}, "impl": {}, "in": {}, "let": {},
	"loop": {}, "macro": {}, "match": {}, "mod": {}, "move": {}, "mut": {},
	"override": {}, "priv": {}, "pub": {}, "ref": {}, "return": {}, "self": {},
	"Self": {}, "static": {}, "struct": {}, "super": {}, "trait": {}, "true": {},
	"try": {}, "type": {}, "typeof": {}, "unsafe": {}, "unsized": {}, "use": {},
	"virtual": {}, "where": {}, "while": {}, "yield": {},
}

// IsKeyword reports whether s is reserved in Rust.
func IsKeyword(s string) bool {
	_, ok := rustKeywords[s]
	return ok
}

// Sanitize turns a C spelling into a Rust identifier: NFC-normalised,
// namespace separators and stray punctuation folded to '_', keywords
// suffixed with '_'.
func Sanitize(cname string) string {
	s := norm.NFC.String(cname)
	s = strings.ReplaceAll(s, "::", "_")
	var sb strings.Builder
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
			sb.WriteRune(r)
		case unicode.IsDigit(r):
			if i == 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	out := sb.String()
	if out == "" {
		out = "_unnamed"
	}
	if IsKeyword(out) {
		out += "_"
	}
	return out
}

// namer hands out unique identifiers within one Rust namespace.
type namer struct {
	taken map[string]struct{}
	limit int
}

func newNamer(limit int) *namer {
	return &namer{taken: make(map[string]struct{}), limit: limit}
}

func (n *namer) reserve(names ...string) {
	for _, s := range names {
		n.taken[s] = struct{}{}
	}
}

// claim returns a free identifier for cname, trying the sanitized spelling
// first and then numbered suffixes. ok is false once the attempts run out.
func (n *namer) claim(cname string) (string, bool) {
	base := Sanitize(cname)
	if _, dup := n.taken[base]; !dup {
		n.taken[base] = struct{}{}
		return base, true
	}
	for k := 1; k <= n.limit; k++ {
		cand := fmt.Sprintf("%s_%d", base, k)
		if _, dup := n.taken[cand]; !dup {
			n.taken[cand] = struct{}{}
			return cand, true
		}
	}
	return "", false
}
