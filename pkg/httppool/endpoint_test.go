package httppool

import (
	stderr "errors"
	"testing"

	"github.com/objectstream/objectstream/pkg/errors"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Endpoint
		wantErr bool
	}{
		{
			name:  "https with explicit port",
			input: "https://example.com:8443",
			want:  Endpoint{Scheme: "https", Host: "example.com", Port: 8443},
		},
		{
			name:  "https default port",
			input: "https://example.com",
			want:  Endpoint{Scheme: "https", Host: "example.com", Port: 443},
		},
		{
			name:  "http default port",
			input: "http://example.com",
			want:  Endpoint{Scheme: "http", Host: "example.com", Port: 80},
		},
		{
			name:  "scheme and host case folded",
			input: "HTTPS://Example.COM",
			want:  Endpoint{Scheme: "https", Host: "example.com", Port: 443},
		},
		{
			name:  "trailing slash stripped",
			input: "http://localhost:8080/",
			want:  Endpoint{Scheme: "http", Host: "localhost", Port: 8080},
		},
		{
			name:  "ipv6 literal with port",
			input: "http://[::1]:8080",
			want:  Endpoint{Scheme: "http", Host: "::1", Port: 8080},
		},
		{
			name:  "ipv6 literal default port",
			input: "https://[::1]",
			want:  Endpoint{Scheme: "https", Host: "::1", Port: 443},
		},
		{name: "missing scheme", input: "example.com:80", wantErr: true},
		{name: "unsupported scheme", input: "ftp://example.com", wantErr: true},
		{name: "empty host", input: "http://", wantErr: true},
		{name: "empty host with port", input: "http://:8080", wantErr: true},
		{name: "bad port", input: "http://example.com:banana", wantErr: true},
		{name: "port out of range", input: "http://example.com:70000", wantErr: true},
		{name: "path not allowed", input: "http://example.com/api", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEndpoint(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseEndpoint(%q) succeeded, want error", tt.input)
				}
				if !stderr.Is(err, errors.New(errors.ErrCodeInvalidEndpoint, "")) {
					t.Errorf("Expected INVALID_ENDPOINT, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEndpoint(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseEndpoint(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestEndpoint_Key(t *testing.T) {
	a, _ := ParseEndpoint("https://Example.com")
	b, _ := ParseEndpoint("https://example.com:443")
	if a.Key() != b.Key() {
		t.Errorf("Equivalent endpoints should share a key: %q vs %q", a.Key(), b.Key())
	}

	c, _ := ParseEndpoint("http://example.com:443")
	if a.Key() == c.Key() {
		t.Error("Different schemes must not share a key")
	}
}

func TestEndpoint_HostHeader(t *testing.T) {
	def, _ := ParseEndpoint("https://example.com")
	if got := def.HostHeader(); got != "example.com" {
		t.Errorf("HostHeader on default port = %q, want bare host", got)
	}

	custom, _ := ParseEndpoint("http://example.com:8080")
	if got := custom.HostHeader(); got != "example.com:8080" {
		t.Errorf("HostHeader on custom port = %q", got)
	}
}
