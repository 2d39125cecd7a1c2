// Package rewrite routes the sub-resource references of HLS and DASH manifests
// back through the proxy endpoint.
//
// A reference is any run of characters other than separators (commas, double
// quotes and whitespace in the wide Unicode sense, including NBSP, the line and
// paragraph separators and the byte order mark) that ends in one of Suffixes.
// Relative references are resolved against the directory of the manifest URL
// and then replaced by
//
//	<route>?url=<query-escaped absolute URL>
//
// so a player following the rewritten manifest requests every segment, key and
// sub-playlist from the proxy again.
package rewrite

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// Suffixes are the resource extensions recognized as references.
var Suffixes = []string{".m3u8", ".ts", ".aac", ".mp4", ".key", ".mpd", ".vtt"}

// separatorClass is the regexp character class body of isSeparator.
const separatorClass = `,"\s\v\p{Zs}\x{2028}\x{2029}\x{feff}`

// isSeparator reports whether r ends a reference.
func isSeparator(r rune) bool {
	switch r {
	case ',', '"', '\t', '\n', '\v', '\f', '\r', '\u2028', '\u2029', '\ufeff':
		return true
	}
	return unicode.Is(unicode.Zs, r)
}

// Rewriter rewrites the references inside a manifest body.
type Rewriter interface {
	// Name identifies the variant in logs and metrics.
	Name() string
	// Rewrite returns body with every recognized reference replaced by a
	// proxy URL. baseURL is the directory used to resolve relative references.
	Rewrite(body, baseURL string) string
}

// New returns the rewriter variant called kind, producing references under route.
func New(kind, route string) (Rewriter, error) {
	switch strings.ToLower(kind) {
	case "", "regex":
		return NewRegexRewriter(route), nil
	case "line":
		return NewLineRewriter(route), nil
	default:
		return nil, fmt.Errorf("unknown manifest rewriter %q", kind)
	}
}

// BaseURL truncates target after its final '/'. The cut is purely textual, a
// '/' inside the query string counts as well.
func BaseURL(target string) string {
	return target[:strings.LastIndex(target, "/")+1]
}

// Resolve makes ref absolute. References starting with "http" or "/" are
// returned untouched, anything else is appended to baseURL.
func Resolve(ref, baseURL string) string {
	if strings.HasPrefix(ref, "http") || strings.HasPrefix(ref, "/") {
		return ref
	}
	return baseURL + ref
}

// ProxyURL is the proxy-relative URL that fetches absolute through route.
func ProxyURL(route, absolute string) string {
	return route + "?url=" + url.QueryEscape(absolute)
}

// hasSuffix reports whether s ends in one of Suffixes.
func hasSuffix(s string) bool {
	for _, suf := range Suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

// isReference reports whether s as a whole is a reference token.
func isReference(s string) bool {
	if s == "" || strings.ContainsFunc(s, isSeparator) {
		return false
	}
	return hasSuffix(s)
}
