// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents a client request for a single origin resource.
type ProxyRequest struct {
	Ctx       context.Context
	TargetURL string
	Header    http.Header
}

// UpstreamResponse is the origin response as returned by the client.
// Body is already stripped of any content-encoding.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	Decoded    bool // body was decompressed on the way in
}

// RelayResponse is the fully buffered response written back to the caller.
type RelayResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Rewritten  bool // body went through the manifest rewriter
}
