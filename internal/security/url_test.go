package security

import (
	"net"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	v := NewURL()

	tests := []struct {
		name    string
		url     string
		wantErr string // empty = valid
	}{
		{name: "public https", url: "https://example.com/docs"},
		{name: "public http", url: "http://example.com"},
		{name: "public with port", url: "https://example.com:8443/path"},
		{name: "ftp scheme", url: "ftp://example.com", wantErr: "unsupported scheme"},
		{name: "file scheme", url: "file:///etc/passwd", wantErr: "unsupported scheme"},
		{name: "no scheme", url: "example.com", wantErr: "unsupported scheme"},
		{name: "localhost", url: "http://localhost:8080", wantErr: "blocked host"},
		{name: "localhost upper", url: "http://LOCALHOST", wantErr: "blocked host"},
		{name: "gcp metadata host", url: "http://metadata.google.internal/computeMetadata", wantErr: "blocked host"},
		{name: "loopback ip", url: "http://127.0.0.1/admin", wantErr: "loopback"},
		{name: "loopback range", url: "http://127.8.9.10", wantErr: "loopback"},
		{name: "private 10", url: "http://10.0.0.5", wantErr: "private IP"},
		{name: "private 172", url: "http://172.16.0.1", wantErr: "private IP"},
		{name: "private 192", url: "http://192.168.1.1", wantErr: "private IP"},
		{name: "metadata ip", url: "http://169.254.169.254/latest/meta-data", wantErr: "link-local"},
		{name: "unspecified", url: "http://0.0.0.0", wantErr: "unspecified"},
		{name: "ipv6 loopback", url: "http://[::1]:8080", wantErr: "loopback"},
		{name: "ipv6 mapped loopback", url: "http://[::ffff:127.0.0.1]", wantErr: "loopback"},
		{name: "empty host", url: "http://", wantErr: "empty hostname"},
		{name: "public hostname passes static check", url: "https://internal.corp.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.url)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate(%q) = %v, want nil", tt.url, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate(%q) = nil, want error containing %q", tt.url, tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate(%q) = %v, want error containing %q", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestCheckIP(t *testing.T) {
	v := NewURL()

	blocked := []string{
		"127.0.0.1", "10.1.2.3", "172.31.255.255", "192.168.0.1",
		"169.254.169.254", "169.254.0.1", "0.0.0.0",
		"::1", "fe80::1", "fd00::1",
	}
	for _, s := range blocked {
		if err := v.checkIP(net.ParseIP(s)); err == nil {
			t.Errorf("checkIP(%s) = nil, want error", s)
		}
	}

	allowed := []string{"8.8.8.8", "93.184.216.34", "2606:2800:220:1:248:1893:25c8:1946"}
	for _, s := range allowed {
		if err := v.checkIP(net.ParseIP(s)); err != nil {
			t.Errorf("checkIP(%s) = %v, want nil", s, err)
		}
	}
}

func TestSafeTransportHasCustomDialer(t *testing.T) {
	tr := NewURL().SafeTransport()
	if tr.DialContext == nil {
		t.Fatal("SafeTransport().DialContext is nil")
	}
}
