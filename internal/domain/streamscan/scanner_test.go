package streamscan

import (
	"strings"
	"testing"

	"github.com/ongarde/ongarde/internal/domain/fastscan"
	"github.com/ongarde/ongarde/internal/domain/scan"
)

func TestExtractChunkText_OpenAIDelta(t *testing.T) {
	chunk := []byte("data: {\"choices\":[{\"delta\":{\"content\":\"hello\"}}]}\n\n")
	text := ExtractChunkText(chunk)
	if text != "hello" {
		t.Errorf("got %q, want %q", text, "hello")
	}
}

func TestExtractChunkText_AnthropicDelta(t *testing.T) {
	chunk := []byte(`data: {"type":"content_block_delta","delta":{"text":"hi there"}}` + "\n\n")
	text := ExtractChunkText(chunk)
	if text != "hi there" {
		t.Errorf("got %q, want %q", text, "hi there")
	}
}

func TestExtractChunkText_IgnoresDoneAndComments(t *testing.T) {
	chunk := []byte(": heartbeat\ndata: [DONE]\n\n")
	text := ExtractChunkText(chunk)
	if text != "" {
		t.Errorf("expected empty text, got %q", text)
	}
}

func TestAddContent_TriggersScanAtWindowBoundary(t *testing.T) {
	s := New(fastscan.New())
	secret := "sk-AAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	padding := strings.Repeat("a", WindowSize-len(secret)-1) + " "
	blocked, _ := s.AddContent(padding + secret)
	if !blocked {
		t.Fatal("expected a block once the window filled past the credential")
	}
}

func TestAddContent_SplitCredentialAcrossBoundaryCaughtByOverlap(t *testing.T) {
	s := New(fastscan.New())
	secret := "sk-AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	split := len(secret) / 2

	first := strings.Repeat("x", WindowSize-split-1) + " " + secret[:split]
	blocked, _ := s.AddContent(first)
	if blocked {
		t.Fatal("did not expect a block on the first window alone")
	}

	blocked, _ = s.AddContent(secret[split:] + " " + strings.Repeat("y", WindowSize))
	if !blocked {
		t.Fatal("expected overlap carry to catch the boundary-split credential")
	}
}

func TestAddContent_ShortCircuitsAfterAbort(t *testing.T) {
	s := New(fastscan.New())
	secret := "sk-AAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	padding := strings.Repeat("a", WindowSize-len(secret)-1) + " "
	s.AddContent(padding + secret)
	if !s.Aborted() {
		t.Fatal("expected aborted state")
	}

	blocked, finding := s.AddContent("more content that is never scanned")
	if !blocked || finding.RuleID == "" {
		t.Fatal("expected cached block verdict after abort")
	}
}

func TestAddContent_SuppressedMatchDoesNotAbort(t *testing.T) {
	s := New(fastscan.New(), WithSuppressor(func(scan.Finding) bool { return true }))
	secret := "sk-AAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	padding := strings.Repeat("a", WindowSize-len(secret)-1) + " "
	blocked, _ := s.AddContent(padding + secret)
	if blocked {
		t.Fatal("expected suppressed match to not abort the stream")
	}
	if s.Aborted() {
		t.Fatal("expected Aborted() to remain false after suppression")
	}
}

func TestFlush_ScansRemainingPartialWindow(t *testing.T) {
	s := New(fastscan.New())
	blocked, _ := s.AddContent("run: sudo rm -rf /")
	if blocked {
		t.Fatal("did not expect a block before the window fills")
	}
	blocked, finding := s.Flush()
	if !blocked {
		t.Fatal("expected flush to scan and block on the partial window")
	}
	if finding.Category != "shell_pattern" {
		t.Errorf("category = %q", finding.Category)
	}
}

func TestTokensDelivered_ApproximatesLengthOverFour(t *testing.T) {
	s := New(fastscan.New())
	s.AddContent(strings.Repeat("a", 400))
	if got := s.TokensDelivered(); got != 100 {
		t.Errorf("TokensDelivered() = %d, want 100", got)
	}
}
