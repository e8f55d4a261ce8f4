package model

import "testing"

func TestFQDN(t *testing.T) {
	tests := []struct {
		name, zone, want string
	}{
		{"www", "example.com", "www.example.com"},
		{"@", "example.com", "example.com"},
		{"", "example.com", "example.com"},
		{"_dmarc", "example.com.", "_dmarc.example.com"},
	}
	for _, tt := range tests {
		if got := FQDN(tt.name, tt.zone); got != tt.want {
			t.Errorf("FQDN(%q, %q) = %q, want %q", tt.name, tt.zone, got, tt.want)
		}
	}
}

func TestIsProtected(t *testing.T) {
	tests := []struct {
		name, recordType string
		want             bool
	}{
		{"@", "NS", true},
		{"@", "soa", true},
		{"@", "TXT", false},
		{"sub", "NS", false},
	}
	for _, tt := range tests {
		if got := IsProtected(tt.name, tt.recordType); got != tt.want {
			t.Errorf("IsProtected(%q, %q) = %v, want %v", tt.name, tt.recordType, got, tt.want)
		}
	}
}

func TestConfigured(t *testing.T) {
	if (Configuration{}).Configured() {
		t.Error("empty configuration must not be configured")
	}
	if (Configuration{APIToken: "abc"}).Configured() {
		t.Error("missing zone must not be configured")
	}
	if (Configuration{APIToken: " ", DNSZone: "example.com"}).Configured() {
		t.Error("blank token must not be configured")
	}
	if !(Configuration{APIToken: "abc", DNSZone: "example.com"}).Configured() {
		t.Error("complete configuration must be configured")
	}
}
