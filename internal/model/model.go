package model

import (
	"strings"
	"time"
)

// Configuration is the DigitalOcean credential pair the app operates with.
type Configuration struct {
	APIToken string `yaml:"api_token" json:"api_token"`
	DNSZone  string `yaml:"dns_zone" json:"dns_zone"`
}

// Configured reports whether both fields are set.
func (c Configuration) Configured() bool {
	return strings.TrimSpace(c.APIToken) != "" && strings.TrimSpace(c.DNSZone) != ""
}

// DNSRecord is one upstream record. DigitalOcean stores a single value per
// record, so Values normally holds exactly one entry.
type DNSRecord struct {
	ID     int      `json:"id"`
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	TTL    int      `json:"ttl"`
	Values []string `json:"values"`
	FQDN   string   `json:"fqdn"`
}

// RecordInput is a logical record as submitted by the browser.
type RecordInput struct {
	ID     int      `json:"id,omitempty"`
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	TTL    int      `json:"ttl"`
	Values []string `json:"values"`
}

type Session struct {
	ID        string
	Username  string
	CSRFToken string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type AuditEntry struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Action     string    `json:"action"`
	RecordName string    `json:"record_name,omitempty"`
	RecordType string    `json:"record_type,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// FQDN joins a relative record name with its zone; "@" is the apex.
func FQDN(name, zone string) string {
	zone = strings.TrimSuffix(zone, ".")
	if name == "" || name == "@" {
		return zone
	}
	return name + "." + zone
}

// IsProtected reports whether the record is a root NS or SOA record.
func IsProtected(name, recordType string) bool {
	if name != "@" {
		return false
	}
	t := strings.ToUpper(recordType)
	return t == "NS" || t == "SOA"
}
