// Package streamscan implements the streaming response scanner (spec.md
// §4.4): a stateful transducer over SSE chunks that accumulates
// assistant-visible text into a sliding window with overlap, scanning each
// full window with the fast path. Grounded on the teacher's
// internal/domain/action/response_scanner.go — same "scan, then decide"
// shape, generalized from tool-result JSON to SSE delta frames.
package streamscan

import (
	"encoding/json"
	"strings"

	"github.com/ongarde/ongarde/internal/domain/fastscan"
	"github.com/ongarde/ongarde/internal/domain/scan"
)

// WindowSize is the number of characters accumulated before a scan runs
// (spec.md §4.4).
const WindowSize = 512

// OverlapSize is the number of trailing characters carried into the next
// window to catch matches split across a window boundary (spec.md §4.4).
const OverlapSize = 128

// Scanner accumulates streamed assistant text into overlapping windows and
// scans each completed window with the fast path. It is stateful and
// confined to a single response stream; it must not be shared across
// concurrent streams.
type Scanner struct {
	fast     *fastscan.Scanner
	suppress func(scan.Finding) bool

	window  strings.Builder
	overlap string

	aborted bool
	verdict scan.Finding
	scanned int64 // total bytes scanned across all windows, for tokens_delivered accounting
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithSuppressor registers a callback consulted on every fast-path match
// before it aborts the stream (allowlist + custom-rule policy, spec.md
// §4.5). A true return suppresses the match: the window is discarded and
// streaming continues. Without this option every match blocks.
func WithSuppressor(suppress func(scan.Finding) bool) Option {
	return func(s *Scanner) { s.suppress = suppress }
}

// New creates a Scanner backed by the given fast-path scanner.
func New(fast *fastscan.Scanner, opts ...Option) *Scanner {
	s := &Scanner{fast: fast}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExtractChunkText pulls assistant-visible text out of one SSE chunk's
// "data: {...}" lines, per spec.md §4.4 step 1. Non-data lines (comments,
// heartbeats) and the terminal "[DONE]" marker are ignored. Supports both
// OpenAI's `choices[].delta.content` and Anthropic's
// `delta.text` (content_block_delta) shapes.
func ExtractChunkText(chunk []byte) string {
	var out strings.Builder
	for _, line := range strings.Split(string(chunk), "\n") {
		line = strings.TrimRight(line, "\r")
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			data, ok = strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
		}
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			continue
		}
		out.WriteString(extractFrameText(data))
	}
	return out.String()
}

func extractFrameText(data string) string {
	var frame struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
		Delta struct {
			Text string `json:"text"`
		} `json:"delta"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(data), &frame); err != nil {
		return ""
	}

	var text strings.Builder
	for _, c := range frame.Choices {
		text.WriteString(c.Delta.Content)
	}
	if frame.Type == "content_block_delta" {
		text.WriteString(frame.Delta.Text)
	}
	return text.String()
}

// AddContent appends extracted chunk text to the window buffer, scanning
// and rotating the window whenever it reaches WindowSize. Once aborted is
// true, AddContent becomes a constant-time short-circuit that always
// returns the cached BLOCK verdict without re-scanning (spec.md §4.4 step
// 4).
func (s *Scanner) AddContent(text string) (blocked bool, finding scan.Finding) {
	if s.aborted {
		return true, s.verdict
	}

	s.window.WriteString(text)
	s.scanned += int64(len(text))

	for s.window.Len() >= WindowSize {
		full := s.window.String()
		toScan := full[:WindowSize]
		rest := full[WindowSize:]

		if blocked, finding := s.scanWindow(toScan); blocked {
			return true, finding
		}

		s.overlap = tailRunes(toScan, OverlapSize)
		s.window.Reset()
		s.window.WriteString(rest)
	}

	return false, scan.Finding{}
}

// Flush scans any remaining partial window at stream end (spec.md §4.4
// step 5). No-op if already aborted or the window is empty.
func (s *Scanner) Flush() (blocked bool, finding scan.Finding) {
	if s.aborted {
		return true, s.verdict
	}
	if s.window.Len() == 0 {
		return false, scan.Finding{}
	}
	return s.scanWindow(s.window.String())
}

// scanWindow runs the fast path over overlap_carry || window_buffer and
// updates abort state on a match.
func (s *Scanner) scanWindow(windowBuf string) (blocked bool, finding scan.Finding) {
	result := s.fast.Scan(s.overlap + windowBuf)
	if !result.Detected {
		return false, scan.Finding{}
	}

	match := result.Findings[0]
	if s.suppress != nil && s.suppress(match) {
		return false, scan.Finding{}
	}

	s.aborted = true
	s.verdict = match
	return true, s.verdict
}

// Aborted reports whether a BLOCK has already fired on this stream.
func (s *Scanner) Aborted() bool {
	return s.aborted
}

// TokensDelivered approximates delivered token count as
// len(delivered_text)/4 (SPEC_FULL.md §9 design decision; spec.md §3
// documents ±20% without specifying the divisor).
func (s *Scanner) TokensDelivered() int64 {
	return s.scanned / 4
}

// tailRunes returns the last n runes of s, or all of s if shorter.
func tailRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
