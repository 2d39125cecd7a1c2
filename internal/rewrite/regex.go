package rewrite

import (
	"regexp"
	"strings"
)

// referencePattern captures an optional `URI="` wrapper, the reference itself
// and, when present, the quote right after it.
var referencePattern = buildReferencePattern(Suffixes)

func buildReferencePattern(suffixes []string) *regexp.Regexp {
	alts := make([]string, len(suffixes))
	for i, s := range suffixes {
		alts[i] = regexp.QuoteMeta(s)
	}
	return regexp.MustCompile(`(URI\s*=\s*")?([^` + separatorClass + `]+(?:` + strings.Join(alts, "|") + `))(")?`)
}

// RegexRewriter is a single-pass textual substitution over the whole body. It
// has no notion of manifest syntax, so any non-URI text that ends in a
// recognized suffix is rewritten too.
type RegexRewriter struct {
	route string
}

// NewRegexRewriter creates a RegexRewriter producing references under route.
func NewRegexRewriter(route string) *RegexRewriter {
	return &RegexRewriter{route: route}
}

// Name implements Rewriter.
func (r *RegexRewriter) Name() string { return "regex" }

// Rewrite implements Rewriter.
func (r *RegexRewriter) Rewrite(body, baseURL string) string {
	matches := referencePattern.FindAllStringSubmatchIndex(body, -1)
	if len(matches) == 0 {
		return body
	}

	var b strings.Builder
	b.Grow(len(body) + len(matches)*(len(r.route)+32))

	last := 0
	for _, m := range matches {
		b.WriteString(body[last:m[0]])
		last = m[1]

		ref := body[m[4]:m[5]]
		proxied := ProxyURL(r.route, Resolve(ref, baseURL))

		// m[2] >= 0: the URI=" wrapper matched. The closing quote is always
		// emitted for it, whether or not the origin had one right after the
		// reference.
		if m[2] >= 0 {
			b.WriteString(body[m[2]:m[3]])
			b.WriteString(proxied)
			b.WriteByte('"')
			continue
		}
		b.WriteString(proxied)
		if m[6] >= 0 {
			b.WriteByte('"')
		}
	}
	b.WriteString(body[last:])

	return b.String()
}
