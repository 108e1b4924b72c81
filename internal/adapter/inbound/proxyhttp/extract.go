// Package proxyhttp implements the admission and forwarding engine (spec.md
// §4.1): auth, body cap, upstream dispatch, request/response scanning, and
// SSE abort injection. Grounded on the teacher's
// internal/adapter/inbound/httpgw/{handler.go,reverse_proxy.go}, generalized
// from the teacher's CanonicalAction security chain to OnGarde's two-tier
// scan engine.
package proxyhttp

import "encoding/json"

// openAIContentPart is one element of an OpenAI "content parts" array, used
// when a message's content is a list of {type, text} objects instead of a
// plain string.
type openAIContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// chatMessage covers both the OpenAI chat-completions shape (content as a
// string or an array of parts) and the Anthropic messages shape (content as
// a string or an array of content blocks).
type chatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// chatRequestBody is the minimal shape shared across /v1/chat/completions
// and /v1/messages bodies, enough to extract user-visible text for scanning
// without round-tripping the full SDK schema (spec.md §4.1 step 4).
type chatRequestBody struct {
	Messages []chatMessage `json:"messages"`
	System   json.RawMessage `json:"system"`
}

// ExtractText pulls all user/assistant-visible text out of a chat-completion
// or messages request body for scanning: every message's content (string or
// content-parts array) plus a top-level Anthropic "system" field (string or
// content-block array). Malformed JSON yields no text rather than an error;
// the fast/NLP scanners simply see nothing to match, and a malformed body
// will fail upstream on its own.
func ExtractText(body []byte) string {
	var req chatRequestBody
	if err := json.Unmarshal(body, &req); err != nil {
		return ""
	}

	var out []byte
	appendText := func(s string) {
		if s == "" {
			return
		}
		if len(out) > 0 {
			out = append(out, '\n')
		}
		out = append(out, s...)
	}

	appendText(extractContentText(req.System))
	for _, msg := range req.Messages {
		appendText(extractContentText(msg.Content))
	}

	return string(out)
}

// extractContentText decodes a "content" field that may be a bare string or
// an array of {type, text} parts (OpenAI content parts / Anthropic content
// blocks). Any other shape contributes no text.
func extractContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var parts []openAIContentPart
	if err := json.Unmarshal(raw, &parts); err == nil {
		var out []byte
		for _, p := range parts {
			if p.Text == "" {
				continue
			}
			if len(out) > 0 {
				out = append(out, '\n')
			}
			out = append(out, p.Text...)
		}
		return string(out)
	}

	return ""
}
