package upstream

import (
	"net"
	"testing"
)

func TestIsPrivateIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ip      string
		private bool
	}{
		{"10.0.0.1", true},
		{"10.255.255.255", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"192.168.0.1", true},
		{"192.168.255.255", true},
		{"169.254.169.254", true}, // cloud metadata
		{"169.254.0.1", true},
		{"fe80::1", true},

		{"127.0.0.1", false}, // loopback handled separately, not "private" here
		{"8.8.8.8", false},
		{"1.1.1.1", false},
		{"172.32.0.1", false},
		{"11.0.0.1", false},
		{"192.169.0.1", false},
		{"2001:4860:4860::8888", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			ip := net.ParseIP(tt.ip)
			if ip == nil {
				t.Fatalf("failed to parse IP %q", tt.ip)
			}
			got := isPrivateIP(ip)
			if got != tt.private {
				t.Errorf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.private)
			}
		})
	}
}

func TestValidateHost_AllowsLoopback(t *testing.T) {
	for _, host := range []string{"127.0.0.1", "localhost"} {
		if err := ValidateHost(host); err != nil {
			t.Errorf("ValidateHost(%q) = %v, want nil", host, err)
		}
	}
}

func TestValidateHost_RejectsPrivateIPLiteral(t *testing.T) {
	if err := ValidateHost("10.1.2.3"); err == nil {
		t.Error("expected error for private IP literal, got nil")
	}
}

func TestValidateHost_RejectsMetadataIP(t *testing.T) {
	if err := ValidateHost("169.254.169.254"); err == nil {
		t.Error("expected error for metadata IP, got nil")
	}
}

func TestValidateURL_RejectsNonHTTPScheme(t *testing.T) {
	if err := ValidateURL("ftp://example.com"); err == nil {
		t.Error("expected error for non-http(s) scheme, got nil")
	}
}

func TestValidateURL_AcceptsPublicHTTPSHost(t *testing.T) {
	if err := ValidateURL("https://api.openai.com"); err != nil {
		t.Errorf("ValidateURL(public https) = %v, want nil", err)
	}
}
