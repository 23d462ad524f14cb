package security

import (
	"testing"
	"time"
)

func TestValidateBaseURL_AllowsPublicHTTPS(t *testing.T) {
	g := NewOutboundGuard()
	urls := []string{
		"https://intervals.icu/api/v1",
		"https://www.strava.com/api/v3",
		"http://example.com",
	}
	for _, u := range urls {
		if err := g.ValidateBaseURL(u); err != nil {
			t.Errorf("ValidateBaseURL(%q) = %v, want nil", u, err)
		}
	}
}

func TestValidateBaseURL_BlocksPrivateAndLoopback(t *testing.T) {
	g := NewOutboundGuard()
	tests := []struct {
		name string
		url  string
	}{
		{"ループバックIP", "http://127.0.0.1/api"},
		{"プライベートIP 10系", "http://10.0.0.5/api"},
		{"プライベートIP 192.168系", "https://192.168.1.1/api"},
		{"プライベートIP 172.16系", "https://172.16.0.1/api"},
		{"メタデータIP", "http://169.254.169.254/latest/meta-data"},
		{"localhost", "http://localhost:8080/api"},
		{"IPv6ループバック", "http://[::1]/api"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := g.ValidateBaseURL(tt.url); err == nil {
				t.Errorf("ValidateBaseURL(%q) はエラーを返すべき", tt.url)
			}
		})
	}
}

func TestValidateBaseURL_BlocksInvalidShapes(t *testing.T) {
	g := NewOutboundGuard()
	tests := []struct {
		name string
		url  string
	}{
		{"空URL", ""},
		{"スキームなし", "intervals.icu/api"},
		{"fileスキーム", "file:///etc/passwd"},
		{"ftpスキーム", "ftp://example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := g.ValidateBaseURL(tt.url); err == nil {
				t.Errorf("ValidateBaseURL(%q) はエラーを返すべき", tt.url)
			}
		})
	}
}

func TestNewSafeClient_SetsTimeout(t *testing.T) {
	g := NewOutboundGuard()
	client := g.NewSafeClient(5 * time.Second)
	if client == nil {
		t.Fatal("NewSafeClientはnilを返してはならない")
	}
	if client.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want %v", client.Timeout, 5*time.Second)
	}
}
