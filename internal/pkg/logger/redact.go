package logger

import "strings"

// RedactEmail masks an email address for safe logging.
// "john.doe@example.com" → "jo***@example.com"
// Short local parts (≤2 chars) are fully masked: "ab@example.com" → "***@example.com"
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactPhone masks a phone number, keeping only the last 2 digits.
// "+14155551234" → "**********34"
func RedactPhone(phone string) string {
	if len(phone) <= 2 {
		return "**"
	}
	return strings.Repeat("*", len(phone)-2) + phone[len(phone)-2:]
}

// RedactIdentifier masks a channel-opaque recipient identifier (email,
// phone, webhook URL, or push token) without needing to know its kind.
func RedactIdentifier(identifier string) string {
	if strings.Contains(identifier, "@") {
		return RedactEmail(identifier)
	}
	if strings.HasPrefix(identifier, "http://") || strings.HasPrefix(identifier, "https://") {
		if idx := strings.Index(identifier[8:], "/"); idx >= 0 {
			return identifier[:8+idx] + "/***"
		}
		return identifier + "/***"
	}
	return RedactPhone(identifier)
}
