package proxyhttp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ongarde/ongarde/internal/domain/scan"
	"github.com/ongarde/ongarde/internal/service"
)

// streamReadBufferSize bounds how much of the upstream SSE body is read per
// forward iteration. Chunk boundaries from the upstream don't need to align
// with this; ExtractChunkText tolerates a read landing mid-frame because the
// next read's bytes simply continue the same "data: ..." line.
const streamReadBufferSize = 4096

// streamAbortEvent is the wire shape of the SSE frame emitted in place of
// the rest of the upstream stream once a window scan blocks (spec.md §4.4
// step 4, §6).
type streamAbortEvent struct {
	ScanID          string `json:"scan_id"`
	RuleID          string `json:"rule_id"`
	RiskLevel       string `json:"risk_level"`
	TokensDelivered int64  `json:"tokens_delivered"`
	Timestamp       string `json:"timestamp"`
	RedactedExcerpt string `json:"redacted_excerpt"`
	Test            bool   `json:"test"`
}

// handleStreamingResponse scans each raw chunk's extracted text through the
// sliding-window scanner (spec.md §4.4) *before* any byte of that chunk is
// written to the client, so the only content that can ever reach the
// client ahead of a block decision is the content of windows that have
// already been scanned and passed — the "up to one 512-character window"
// bound spec.md §4.4/§8 documents. Once a window scan blocks, the chunk
// that produced it is discarded in full (none of it is forwarded) and the
// remainder of the upstream stream is replaced with a terminal
// "data: [DONE]" frame followed by an "ongarde_block" abort frame.
func (h *Handler) handleStreamingResponse(w http.ResponseWriter, resp *http.Response, meta service.RequestMeta, scanID, keyID, provider string, suppressedSoFar bool) {
	writeUpstreamHeaders(w, resp)
	w.Header().Del("Content-Length")
	w.Header().Set("X-OnGarde-Scan-Id", scanID)
	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)

	ss := h.engine.NewStreamScanner(meta)
	buf := make([]byte, streamReadBufferSize)
	finalDecision := scan.DecisionAllow
	if suppressedSoFar {
		finalDecision = scan.DecisionAllowSuppressed
	}
	var blockFinding scan.Finding

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := buf[:n]

			text := ExtractChunkText(chunk)
			if text != "" {
				if blocked, finding := ss.AddContent(text); blocked {
					h.emitAbort(w, canFlush, flusher, scanID, finding, ss.TokensDelivered())
					h.recordAudit(scanID, keyID, provider, true, scan.DecisionBlock, finding, ss.TokensDelivered())
					return
				}
			}

			if _, writeErr := w.Write(chunk); writeErr != nil {
				h.logger.Warn("client disconnected during stream", "scan_id", scanID, "error", writeErr)
				h.recordAudit(scanID, keyID, provider, true, finalDecision, blockFinding, ss.TokensDelivered())
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				h.logger.Error("upstream stream read failed", "scan_id", scanID, "error", readErr)
			}
			break
		}
	}

	if blocked, finding := ss.Flush(); blocked {
		h.emitAbort(w, canFlush, flusher, scanID, finding, ss.TokensDelivered())
		h.recordAudit(scanID, keyID, provider, true, scan.DecisionBlock, finding, ss.TokensDelivered())
		return
	}

	h.recordAudit(scanID, keyID, provider, true, finalDecision, blockFinding, ss.TokensDelivered())
}

// emitAbort writes the terminal [DONE] marker followed by the
// ongarde_block abort frame and flushes, matching spec.md §6's wire shape
// for mid-stream blocks.
func (h *Handler) emitAbort(w http.ResponseWriter, canFlush bool, flusher http.Flusher, scanID string, finding scan.Finding, tokensDelivered int64) {
	payload, err := json.Marshal(streamAbortEvent{
		ScanID:          scanID,
		RuleID:          finding.RuleID,
		RiskLevel:       string(finding.Risk),
		TokensDelivered: tokensDelivered,
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
		RedactedExcerpt: finding.Excerpt,
		Test:            finding.IsTestArtifact,
	})
	if err != nil {
		h.logger.Error("failed to marshal stream abort event", "scan_id", scanID, "error", err)
		return
	}
	fmt.Fprintf(w, "data: [DONE]\n\n")
	fmt.Fprintf(w, "event: ongarde_block\ndata: %s\n\n", payload)
	if canFlush {
		flusher.Flush()
	}
}
