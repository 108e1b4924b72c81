package proxyhttp

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ongarde/ongarde/internal/domain/scan"
	"github.com/ongarde/ongarde/internal/service"
)

// maxBufferedResponseBytes is the response-mode-selection threshold
// (spec.md §4.1 step 6): declared bodies at or under this size take the
// buffered path; everything else streams.
const maxBufferedResponseBytes = 512 * 1024 // 512 KiB

// isStreamingResponse reports whether resp should take the streaming path:
// an SSE content type, a declared body over 512 KiB, or a chunked body with
// no declared length (spec.md §4.1 step 6).
func isStreamingResponse(resp *http.Response) bool {
	ct := resp.Header.Get("Content-Type")
	if idx := strings.Index(ct, ";"); idx != -1 {
		ct = ct[:idx]
	}
	if strings.EqualFold(strings.TrimSpace(ct), "text/event-stream") {
		return true
	}
	if resp.ContentLength < 0 {
		return true
	}
	return resp.ContentLength > maxBufferedResponseBytes
}

// handleBufferedResponse reads the full response and scans it (fast + NLP
// regardless of size, per spec.md §4.1 step 6). On allow it writes the
// response to the client itself and reports handled=true; on block it
// leaves the write to the caller, which emits the standard block response
// sharing the request's scan_id. Grounded on the teacher's
// scanHTTPResponse/writeBufferedResponse.
func (h *Handler) handleBufferedResponse(w http.ResponseWriter, resp *http.Response, meta service.RequestMeta) (verdict service.Verdict, handled bool) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.logger.Error("failed to read upstream response body", "error", err)
		writeError(w, http.StatusBadGateway, "upstream response unreadable")
		return service.Verdict{Decision: scan.DecisionBlock, Finding: scannerErrorFinding()}, true
	}

	verdict = h.engine.ScanBuffered(ExtractResponseText(body), meta)
	if verdict.Decision == scan.DecisionBlock {
		return verdict, false
	}

	writeUpstreamHeaders(w, resp)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, bytes.NewReader(body))
	return verdict, true
}

// writeUpstreamHeaders copies the upstream response's headers to the
// client, replacing Content-Length since the buffered path may have already
// consumed the original reader.
func writeUpstreamHeaders(w http.ResponseWriter, resp *http.Response) {
	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(int(resp.ContentLength)))
}
