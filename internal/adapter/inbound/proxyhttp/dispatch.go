package proxyhttp

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// hopByHopHeaders lists headers that are meaningful only for a single
// transport-level connection and must never be forwarded by a proxy (RFC
// 2616 §13.5.1). Grounded on the teacher's httpgw/handler.go.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// onGardeKeyHeader is the caller-facing API key header, stripped before
// forwarding upstream (spec.md §6: "the OnGarde-key header is stripped").
const onGardeKeyHeader = "X-OnGarde-Key"

// newUpstreamClient builds the HTTP client used for upstream dispatch. No
// overall response-body timeout is set, unlike the teacher's 30s client
// timeout: a streaming completion can legitimately run for minutes, and
// cancellation instead follows the inbound request's context (spec.md §5,
// "cancellation of the client connection cancels... the upstream read").
// The connection pool is bounded to 100 to match the listener's concurrency
// cap (spec.md §5).
func newUpstreamClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   100,
			MaxConnsPerHost:       100,
			IdleConnTimeout:       5 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}

// buildUpstreamURL appends the inbound request's path and query to the
// configured upstream base URL.
func buildUpstreamURL(base string, r *http.Request) string {
	u := strings.TrimRight(base, "/") + r.URL.Path
	if r.URL.RawQuery != "" {
		u += "?" + r.URL.RawQuery
	}
	return u
}

// newUpstreamRequest builds the outbound request: original method/body,
// headers copied from the inbound request less hop-by-hop headers, the
// caller's OnGarde key, and the caller's Authorization header, plus
// X-Forwarded-* (spec.md §4.1 step 5, grounded on the teacher's
// forwardRequest). credential is the operator-configured provider API key
// for this upstream (config.Config.Credentials[provider]); when non-empty
// it replaces whatever Authorization the client sent. The client's own
// Authorization/OnGarde-key headers are never forwarded upstream (spec.md
// §6: "Authorization headers are replaced with the configured provider
// credentials; the OnGarde-key header is stripped").
func newUpstreamRequest(r *http.Request, upstreamURL string, body []byte, credential string) (*http.Request, error) {
	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, newBodyReader(body))
	if err != nil {
		return nil, err
	}

	for key, values := range r.Header {
		for _, v := range values {
			outReq.Header.Add(key, v)
		}
	}
	for _, h := range hopByHopHeaders {
		outReq.Header.Del(h)
	}
	outReq.Header.Del(onGardeKeyHeader)
	outReq.Header.Del("Authorization")
	if credential != "" {
		outReq.Header.Set("Authorization", "Bearer "+credential)
	}

	clientIP, _, _ := net.SplitHostPort(r.RemoteAddr)
	if clientIP == "" {
		clientIP = r.RemoteAddr
	}
	if prior := outReq.Header.Get("X-Forwarded-For"); prior != "" {
		outReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		outReq.Header.Set("X-Forwarded-For", clientIP)
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	outReq.Header.Set("X-Forwarded-Proto", scheme)
	outReq.Header.Set("X-Forwarded-Host", r.Host)
	outReq.ContentLength = int64(len(body))

	return outReq, nil
}
