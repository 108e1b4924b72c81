package proxyhttp

import "encoding/json"

// openAIChoice and anthropicContentBlock cover the two non-streaming
// response shapes the buffered path needs to pull assistant text out of
// (spec.md §4.1 step 6's "run the full scan... regardless of size").
type bufferedResponseBody struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// ExtractResponseText pulls assistant-visible text out of a non-streaming
// chat-completion or messages response body: OpenAI's
// choices[].message.content and Anthropic's content[].text. Malformed JSON
// yields no text, matching ExtractText's fail-open-to-empty behavior.
func ExtractResponseText(body []byte) string {
	var resp bufferedResponseBody
	if err := json.Unmarshal(body, &resp); err != nil {
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

	for _, c := range resp.Choices {
		appendText(c.Message.Content)
	}
	for _, b := range resp.Content {
		appendText(b.Text)
	}

	return string(out)
}
