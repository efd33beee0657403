package reply

import (
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// headerValue looks a header up case-insensitively.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// parseSender extracts the first mailbox of a From header. When the header does
// not parse, a trailing <addr> or a bare address is still accepted.
func parseSender(from string) (*mail.Address, bool) {
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, false
	}
	addrs, err := mail.ParseAddressList(from)
	if err == nil {
		for _, addr := range addrs {
			if strings.Contains(addr.Address, "@") {
				return addr, true
			}
		}
		return nil, false
	}
	if open := strings.LastIndex(from, "<"); open != -1 {
		if end := strings.Index(from[open:], ">"); end != -1 {
			if addr, ok := bareAddress(from[open+1 : open+end]); ok {
				return addr, true
			}
		}
	}
	return bareAddress(from)
}

func bareAddress(s string) (*mail.Address, bool) {
	s = strings.Trim(s, "<> \t")
	if strings.Count(s, "@") != 1 || strings.HasPrefix(s, "@") || strings.HasSuffix(s, "@") ||
		strings.ContainsAny(s, " \t\r\n,;<>") {
		return nil, false
	}
	return &mail.Address{Address: s}, true
}

// parseMessageID returns the identifier of a Message-Id value without angle brackets.
func parseMessageID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var h mail.Header
	h.Set("Message-Id", raw)
	id, err := h.MessageID()
	if err != nil || id == "" {
		return ""
	}
	return id
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func sameAddress(a, b string) bool {
	return a != "" && normalizeAddress(a) == normalizeAddress(b)
}
