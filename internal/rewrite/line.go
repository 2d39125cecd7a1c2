package rewrite

import (
	"regexp"
	"strings"
)

// uriAttrPattern matches a quoted URI attribute of an HLS tag line.
var uriAttrPattern = regexp.MustCompile(`(URI\s*=\s*")([^"]*)"`)

// LineRewriter tokenizes HLS playlists line by line. Only URI lines and the
// URI attributes of tag lines are considered, so text elsewhere in a tag that
// happens to end in a recognized suffix is left alone. A URI or attribute value
// is rewritten only when it is a reference as a whole.
//
// Bodies that are not HLS playlists (DASH is XML, not line oriented) are
// handed to the regex variant.
type LineRewriter struct {
	route    string
	fallback *RegexRewriter
}

// NewLineRewriter creates a LineRewriter producing references under route.
func NewLineRewriter(route string) *LineRewriter {
	return &LineRewriter{route: route, fallback: NewRegexRewriter(route)}
}

// Name implements Rewriter.
func (r *LineRewriter) Name() string { return "line" }

// Rewrite implements Rewriter.
func (r *LineRewriter) Rewrite(body, baseURL string) string {
	if !strings.HasPrefix(strings.TrimLeft(body, "\ufeff \t\r\n"), "#EXTM3U") {
		return r.fallback.Rewrite(body, baseURL)
	}

	var b strings.Builder
	b.Grow(len(body))

	for _, line := range strings.SplitAfter(body, "\n") {
		content := strings.TrimRight(line, "\r\n")
		eol := line[len(content):]
		b.WriteString(r.rewriteLine(content, baseURL))
		b.WriteString(eol)
	}

	return b.String()
}

func (r *LineRewriter) rewriteLine(line, baseURL string) string {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
		return line
	case strings.HasPrefix(trimmed, "#"):
		return uriAttrPattern.ReplaceAllStringFunc(line, func(attr string) string {
			sub := uriAttrPattern.FindStringSubmatch(attr)
			if !isReference(sub[2]) {
				return attr
			}
			return sub[1] + ProxyURL(r.route, Resolve(sub[2], baseURL)) + `"`
		})
	case isReference(trimmed):
		start := strings.Index(line, trimmed)
		return line[:start] + ProxyURL(r.route, Resolve(trimmed, baseURL)) + line[start+len(trimmed):]
	default:
		return line
	}
}
