package upstream

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/digitalocean/godo"

	"dodns/internal/apperr"
)

// editableTypes can be created and changed through the API. SOA is listed
// upstream but is read-only.
var editableTypes = map[string]bool{
	"A":     true,
	"AAAA":  true,
	"CNAME": true,
	"TXT":   true,
	"NS":    true,
	"MX":    true,
	"SRV":   true,
	"CAA":   true,
}

// Supported reports whether records of this type can be written.
func Supported(recordType string) bool {
	return editableTypes[strings.ToUpper(recordType)]
}

// EncodeValue turns one logical value into the upstream request fields.
// MX values are "priority exchange", SRV "priority weight port target" and
// CAA "flags tag value".
func EncodeValue(name, recordType string, ttl int, value string) (*godo.DomainRecordEditRequest, error) {
	recordType = strings.ToUpper(recordType)
	if !Supported(recordType) {
		return nil, apperr.Validation("Unsupported record type: %s", recordType)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, apperr.Validation("%s record values must not be empty", recordType)
	}

	req := &godo.DomainRecordEditRequest{Type: recordType, Name: name, TTL: ttl}

	switch recordType {
	case "MX":
		parts := strings.Fields(value)
		if len(parts) != 2 {
			return nil, apperr.Validation(`MX record must be in format: "priority exchange"`)
		}
		priority, err := parseUint16(parts[0])
		if err != nil {
			return nil, apperr.Validation("MX priority %q is not a number between 0 and 65535", parts[0])
		}
		req.Priority = priority
		req.Data = parts[1]
	case "SRV":
		parts := strings.Fields(value)
		if len(parts) != 4 {
			return nil, apperr.Validation(`SRV record must be in format: "priority weight port target"`)
		}
		nums := make([]int, 3)
		for i, label := range []string{"priority", "weight", "port"} {
			n, err := parseUint16(parts[i])
			if err != nil {
				return nil, apperr.Validation("SRV %s %q is not a number between 0 and 65535", label, parts[i])
			}
			nums[i] = n
		}
		req.Priority, req.Weight, req.Port = nums[0], nums[1], nums[2]
		req.Data = parts[3]
	case "CAA":
		parts := strings.SplitN(value, " ", 3)
		if len(parts) != 3 {
			return nil, apperr.Validation(`CAA record must be in format: "flags tag value"`)
		}
		flags, err := strconv.Atoi(parts[0])
		if err != nil || flags < 0 || flags > 255 {
			return nil, apperr.Validation("CAA flags %q is not a number between 0 and 255", parts[0])
		}
		switch parts[1] {
		case "issue", "issuewild", "iodef":
		default:
			return nil, apperr.Validation("CAA tag must be issue, issuewild or iodef, got %q", parts[1])
		}
		req.Flags = flags
		req.Tag = parts[1]
		req.Data = unquoteCAA(strings.TrimSpace(parts[2]))
	default:
		req.Data = value
	}
	return req, nil
}

// FormatValue renders an upstream record's fields as one logical value, the
// inverse of EncodeValue.
func FormatValue(r godo.DomainRecord) string {
	switch strings.ToUpper(r.Type) {
	case "MX":
		return fmt.Sprintf("%d %s", r.Priority, r.Data)
	case "SRV":
		return fmt.Sprintf("%d %d %d %s", r.Priority, r.Weight, r.Port, r.Data)
	case "CAA":
		return fmt.Sprintf("%d %s \"%s\"", r.Flags, r.Tag, r.Data)
	default:
		return r.Data
	}
}

// unquoteCAA strips one pair of surrounding quotes. Inner characters are
// kept as written.
func unquoteCAA(v string) string {
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		return v[1 : len(v)-1]
	}
	return v
}

// Canonical normalizes a logical value so it compares equal to the
// FormatValue output of the record it would create.
func Canonical(recordType, value string) (string, error) {
	req, err := EncodeValue("", recordType, 0, value)
	if err != nil {
		return "", err
	}
	return FormatValue(godo.DomainRecord{
		Type:     req.Type,
		Data:     req.Data,
		Priority: req.Priority,
		Port:     req.Port,
		Weight:   req.Weight,
		Flags:    req.Flags,
		Tag:      req.Tag,
	}), nil
}

func parseUint16(s string) (int, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
