package utils_test

import (
	"testing"

	"github.com/raysh454/lumen/internal/model"
	"github.com/raysh454/lumen/internal/utils"
)

// ─── ValidateScanURL ───────────────────────────────────────────────────

func TestValidateScanURL_Normalizes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"https://example.com", "https://example.com"},
		{"  HTTPS://Example.COM:443/Path?q=1#frag ", "https://example.com/Path?q=1"},
		{"http://example.com:80/", "http://example.com/"},
		{"http://example.com:8080/a", "http://example.com:8080/a"},
		{"https://user:pw@example.com/", "https://example.com/"},
		{"https://例え.テスト/a", "https://xn--r8jz45g.xn--zckzah/a"},
		{"http://127.0.0.1:3000/x", "http://127.0.0.1:3000/x"},
		{"http://[::1]:8080/", "http://[::1]:8080/"},
	}
	for _, tt := range tests {
		got, err := utils.ValidateScanURL(tt.in)
		if err != nil {
			t.Errorf("ValidateScanURL(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ValidateScanURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateScanURL_Rejects(t *testing.T) {
	t.Parallel()
	bad := []string{
		"",
		"not-a-url",
		"example.com",
		"/relative/path",
		"ftp://example.com",
		"javascript:alert(1)",
		"mailto:a@example.com",
		"http://",
		"https://exa mple.com",
		"http://example.com:99999/",
	}
	for _, in := range bad {
		_, err := utils.ValidateScanURL(in)
		if err == nil {
			t.Errorf("ValidateScanURL(%q) expected error", in)
			continue
		}
		if !model.IsValidation(err) {
			t.Errorf("ValidateScanURL(%q) error %v is not a ValidationError", in, err)
		}
	}
}

func TestHostOf(t *testing.T) {
	t.Parallel()
	if got := utils.HostOf("https://example.com:8443/a"); got != "example.com" {
		t.Errorf("HostOf = %q", got)
	}
}
