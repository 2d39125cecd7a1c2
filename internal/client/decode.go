package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// ErrUnsupportedEncoding is returned for a content-encoding the client cannot undo.
var ErrUnsupportedEncoding = errors.New("unsupported content-encoding")

// decodedBody closes the decoders stacked on top of the original body, then the body.
type decodedBody struct {
	io.Reader
	closers []func() error
}

func (d *decodedBody) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// decodeBody undoes the codings listed in a Content-Encoding header value, last
// applied first. It reports whether any decoding took place.
//
// The inbound Accept-Encoding is forwarded to the origin as is, which turns off
// the transparent gzip handling of net/http, so compressed bodies reach us raw.
func decodeBody(body io.ReadCloser, contentEncoding string) (io.ReadCloser, bool, error) {
	codings := splitCodings(contentEncoding)
	if len(codings) == 0 {
		return body, false, nil
	}

	d := &decodedBody{Reader: body, closers: []func() error{body.Close}}
	for i := len(codings) - 1; i >= 0; i-- {
		if err := d.push(codings[i]); err != nil {
			_ = d.Close()
			return nil, false, err
		}
	}
	return d, true, nil
}

func (d *decodedBody) push(coding string) error {
	switch coding {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(d.Reader)
		if err != nil {
			return fmt.Errorf("gzip: %w", err)
		}
		d.Reader = zr
		d.closers = append(d.closers, zr.Close)
	case "deflate":
		r, closer, err := newDeflateReader(d.Reader)
		if err != nil {
			return fmt.Errorf("deflate: %w", err)
		}
		d.Reader = r
		d.closers = append(d.closers, closer)
	case "br":
		d.Reader = brotli.NewReader(d.Reader)
	case "zstd":
		zr, err := zstd.NewReader(d.Reader)
		if err != nil {
			return fmt.Errorf("zstd: %w", err)
		}
		d.Reader = zr
		d.closers = append(d.closers, func() error { zr.Close(); return nil })
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedEncoding, coding)
	}
	return nil
}

// newDeflateReader accepts both zlib-wrapped and raw deflate streams; servers
// disagree on what "deflate" means.
func newDeflateReader(r io.Reader) (io.Reader, func() error, error) {
	br := bufio.NewReader(r)
	hdr, err := br.Peek(2)
	if err == nil && isZlibHeader(hdr[0], hdr[1]) {
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	}
	fr := flate.NewReader(br)
	return fr, fr.Close, nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

func splitCodings(v string) []string {
	var out []string
	for _, c := range strings.Split(v, ",") {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" && c != "identity" {
			out = append(out, c)
		}
	}
	return out
}
