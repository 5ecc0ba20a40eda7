package service

import "strings"

const redactedValue = "[REDACTED]"

// sensitiveKeys are detail keys whose values must never reach the audit log
// regardless of which call site produced them.
var sensitiveKeys = map[string]struct{}{
	"access_token":      {},
	"token":             {},
	"input_token":       {},
	"authorization":     {},
	"client_secret":     {},
	"code":              {},
	"verification_code": {},
	"pin":               {},
}

// phoneKeys are detail keys holding phone numbers, stored masked.
var phoneKeys = map[string]struct{}{
	"phone_number":         {},
	"display_phone_number": {},
}

// redactDetails returns a deep copy of details with credentials removed and
// phone numbers masked. All audit writes funnel through this, so individual
// call sites cannot leak by omission.
func redactDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for key, value := range details {
		lower := strings.ToLower(key)
		if _, ok := sensitiveKeys[lower]; ok {
			out[key] = redactedValue
			continue
		}
		if _, ok := phoneKeys[lower]; ok {
			if s, isStr := value.(string); isStr {
				out[key] = maskPhone(s)
				continue
			}
		}
		out[key] = redactValue(value)
	}
	return out
}

func redactValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return redactDetails(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = redactValue(item)
		}
		return out
	default:
		return value
	}
}

// maskPhone keeps the dialing prefix and the last four digits of a phone
// number and masks everything in between. Formatting characters are dropped.
func maskPhone(number string) string {
	var digits []rune
	for _, r := range number {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) == 0 {
		return number
	}

	keepHead, keepTail := 4, 4
	switch {
	case len(digits) <= keepTail:
		keepHead, keepTail = 0, 0
	case len(digits) <= keepHead+keepTail:
		keepHead = 0
	}

	var b strings.Builder
	if strings.HasPrefix(strings.TrimSpace(number), "+") {
		b.WriteByte('+')
	}
	for i, r := range digits {
		switch {
		case i < keepHead:
			b.WriteRune(r)
		case i >= len(digits)-keepTail:
			b.WriteRune(r)
		default:
			b.WriteByte('*')
		}
	}
	return b.String()
}
