package rewrite

import (
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRoute = "/api/proxy"
	testBase  = "https://cdn.example.com/live/"
)

const mediaPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-KEY:METHOD=AES-128,URI="https://cdn.example.com/key.key"
#EXT-X-MAP:URI="init.mp4"
#EXTINF:10.0,
segment1.ts
#EXTINF:10.0,
/abs/segment2.ts
#EXTINF:10.0,
http://other.example.com/segment3.ts
#EXT-X-ENDLIST
`

// proxied is the expected rewrite of an absolute URL.
func proxied(abs string) string {
	return testRoute + "?url=" + url.QueryEscape(abs)
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"https://cdn.example.com/live/index.m3u8", "https://cdn.example.com/live/"},
		{"https://cdn.example.com/index.m3u8", "https://cdn.example.com/"},
		{"https://cdn.example.com/live/index.m3u8?sig=a/b", "https://cdn.example.com/live/index.m3u8?sig=a/"},
		{"no-slash", ""},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			assert.Equal(t, tt.want, BaseURL(tt.target))
		})
	}
}

func TestResolve(t *testing.T) {
	assert.Equal(t, testBase+"segment1.ts", Resolve("segment1.ts", testBase))
	assert.Equal(t, testBase+"low/index.m3u8", Resolve("low/index.m3u8", testBase))
	assert.Equal(t, "/abs/segment2.ts", Resolve("/abs/segment2.ts", testBase))
	assert.Equal(t, "https://x.example.com/a.ts", Resolve("https://x.example.com/a.ts", testBase))
	assert.Equal(t, "http://x.example.com/a.ts", Resolve("http://x.example.com/a.ts", testBase))
}

func TestNew(t *testing.T) {
	for kind, want := range map[string]string{"": "regex", "regex": "regex", "LINE": "line"} {
		r, err := New(kind, testRoute)
		require.NoError(t, err)
		assert.Equal(t, want, r.Name())
	}

	_, err := New("xslt", testRoute)
	assert.Error(t, err)
}

func TestRegexRewriter_RelativeSegment(t *testing.T) {
	got := NewRegexRewriter(testRoute).Rewrite("#EXTINF:10.0,\nsegment1.ts\n", testBase)

	want := "#EXTINF:10.0,\n/api/proxy?url=https%3A%2F%2Fcdn.example.com%2Flive%2Fsegment1.ts\n"
	assert.Equal(t, want, got)
}

func TestRegexRewriter_URIAttribute(t *testing.T) {
	body := `#EXT-X-KEY:METHOD=AES-128,URI="https://cdn.example.com/key.key",IV=0x1`
	got := NewRegexRewriter(testRoute).Rewrite(body, testBase)

	want := `#EXT-X-KEY:METHOD=AES-128,URI="` + proxied("https://cdn.example.com/key.key") + `",IV=0x1`
	assert.Equal(t, want, got)
}

func TestRegexRewriter_MediaPlaylist(t *testing.T) {
	got := NewRegexRewriter(testRoute).Rewrite(mediaPlaylist, testBase)

	want := strings.NewReplacer(
		`URI="https://cdn.example.com/key.key"`, `URI="`+proxied("https://cdn.example.com/key.key")+`"`,
		`URI="init.mp4"`, `URI="`+proxied(testBase+"init.mp4")+`"`,
		"\nsegment1.ts\n", "\n"+proxied(testBase+"segment1.ts")+"\n",
		"\n/abs/segment2.ts\n", "\n"+proxied("/abs/segment2.ts")+"\n",
		"\nhttp://other.example.com/segment3.ts\n", "\n"+proxied("http://other.example.com/segment3.ts")+"\n",
	).Replace(mediaPlaylist)

	assert.Equal(t, want, got)
}

func TestRegexRewriter_MasterPlaylist(t *testing.T) {
	body := "#EXTM3U\r\n" +
		"#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID=\"subs\",NAME=\"English\",URI=\"subs/en.m3u8\"\r\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=1280x720\r\n" +
		"low/index.m3u8\r\n"

	got := NewRegexRewriter(testRoute).Rewrite(body, testBase)

	want := "#EXTM3U\r\n" +
		"#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID=\"subs\",NAME=\"English\",URI=\"" + proxied(testBase+"subs/en.m3u8") + "\"\r\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=1280x720\r\n" +
		proxied(testBase+"low/index.m3u8") + "\r\n"
	assert.Equal(t, want, got)
}

func TestRegexRewriter_DASH(t *testing.T) {
	body := `<MPD>
  <Period>
    <AdaptationSet mimeType="video/mp4">
      <SegmentTemplate media="chunk-$Number$.m4s" initialization="init.mp4"/>
    </AdaptationSet>
    <AdaptationSet mimeType="text/vtt">
      <Representation id="en" media="https://subs.example.com/en.vtt"/>
    </AdaptationSet>
  </Period>
</MPD>`

	got := NewRegexRewriter(testRoute).Rewrite(body, testBase)

	assert.Contains(t, got, `initialization="`+proxied(testBase+"init.mp4")+`"/>`)
	assert.Contains(t, got, `media="`+proxied("https://subs.example.com/en.vtt")+`"/>`)
	assert.Contains(t, got, `media="chunk-$Number$.m4s"`)
	assert.Contains(t, got, `mimeType="video/mp4"`)
}

func TestRegexRewriter_NoReferences(t *testing.T) {
	body := "#EXTM3U\n#EXT-X-VERSION:3\n"
	assert.Equal(t, body, NewRegexRewriter(testRoute).Rewrite(body, testBase))
}

func TestRegexRewriter_FalsePositiveKept(t *testing.T) {
	// Any quoted value ending in a recognized suffix is rewritten, URI or not.
	body := `#EXT-X-SESSION-DATA:DATA-ID="com.example.intro",VALUE="intro.mp4"`
	got := NewRegexRewriter(testRoute).Rewrite(body, testBase)

	assert.Equal(t, `#EXT-X-SESSION-DATA:DATA-ID="com.example.intro",VALUE="`+proxied(testBase+"intro.mp4")+`"`, got)
}

func TestRegexRewriter_RoundTrip(t *testing.T) {
	refs := []string{
		"segment 1.ts", // whitespace breaks the token, only "1.ts" matches
		"seg_ü.ts",
		"a+b&c=d.ts",
		"https://cdn.example.com/path/with%20escape/seg.ts",
		"/root/seg.aac",
	}

	r := NewRegexRewriter(testRoute)
	for _, ref := range refs {
		got := r.Rewrite(ref, testBase)

		matches := referencePattern.FindAllStringSubmatch(ref, -1)
		require.Len(t, matches, 1, ref)
		want := Resolve(matches[0][2], testBase)

		idx := strings.Index(got, testRoute+"?")
		require.GreaterOrEqual(t, idx, 0, got)
		u, err := url.Parse(got[idx:])
		require.NoError(t, err)
		assert.Equal(t, want, u.Query().Get("url"), ref)
	}
}

func TestLineRewriter_MatchesRegexOnPlainPlaylist(t *testing.T) {
	regex := NewRegexRewriter(testRoute).Rewrite(mediaPlaylist, testBase)
	line := NewLineRewriter(testRoute).Rewrite(mediaPlaylist, testBase)

	assert.Equal(t, regex, line)
}

func TestLineRewriter_IgnoresNonURIAttributes(t *testing.T) {
	body := "#EXTM3U\n" +
		`#EXT-X-SESSION-DATA:DATA-ID="com.example.intro",VALUE="intro.mp4"` + "\n" +
		`#EXT-X-KEY:METHOD=AES-128,URI="key.key?token=1"` + "\n" +
		"#EXTINF:10.0,\n" +
		"  segment1.ts\n"

	got := NewLineRewriter(testRoute).Rewrite(body, testBase)

	want := "#EXTM3U\n" +
		`#EXT-X-SESSION-DATA:DATA-ID="com.example.intro",VALUE="intro.mp4"` + "\n" +
		`#EXT-X-KEY:METHOD=AES-128,URI="key.key?token=1"` + "\n" +
		"#EXTINF:10.0,\n" +
		"  " + proxied(testBase+"segment1.ts") + "\n"
	assert.Equal(t, want, got)
}

func TestLineRewriter_PreservesLineEndings(t *testing.T) {
	body := "#EXTM3U\r\n#EXTINF:4,\r\nseg.ts\r\n\r\n#EXT-X-ENDLIST"

	got := NewLineRewriter(testRoute).Rewrite(body, testBase)

	assert.Equal(t, "#EXTM3U\r\n#EXTINF:4,\r\n"+proxied(testBase+"seg.ts")+"\r\n\r\n#EXT-X-ENDLIST", got)
}

func TestLineRewriter_DelegatesNonHLS(t *testing.T) {
	body := `<MPD><SegmentTemplate initialization="video.mp4"/></MPD>`

	regex := NewRegexRewriter(testRoute).Rewrite(body, testBase)
	line := NewLineRewriter(testRoute).Rewrite(body, testBase)

	assert.Equal(t, regex, line)
	assert.Contains(t, line, proxied(testBase+"video.mp4"))
}

func TestRegexRewriter_UnicodeSeparators(t *testing.T) {
	rw := NewRegexRewriter(testRoute)

	for _, sep := range []string{"\v", "\u00a0", "\u1680", "\u2003", "\u202f", "\u2028", "\u2029", "\u3000", "\ufeff"} {
		t.Run(strconv.QuoteToASCII(sep), func(t *testing.T) {
			body := "a" + sep + "é.mp4"
			want := "a" + sep + proxied(testBase+"é.mp4")
			assert.Equal(t, want, rw.Rewrite(body, testBase))
		})
	}
}

func TestIsReference(t *testing.T) {
	assert.True(t, isReference("seg-é1.ts"))
	assert.True(t, isReference("https://cdn.example.com/a.m3u8"))
	assert.False(t, isReference(""))
	assert.False(t, isReference("a,b.ts"))
	assert.False(t, isReference("a b.ts"))
	assert.False(t, isReference("a\u00a0b.ts"))
	assert.False(t, isReference("a\vb.ts"))
	assert.False(t, isReference("\ufeffb.ts"))
	assert.False(t, isReference("segment.txt"))
}

func TestLineRewriter_UnicodeSeparatorInURILine(t *testing.T) {
	rw := NewLineRewriter(testRoute)
	body := "#EXTM3U\n#EXTINF:4,\nfirst\u00a0part.ts\nsecond.ts\n"

	got := rw.Rewrite(body, testBase)

	assert.Contains(t, got, "\nfirst\u00a0part.ts\n")
	assert.Contains(t, got, "\n"+proxied(testBase+"second.ts")+"\n")
}
