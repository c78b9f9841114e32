package webhook

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// Redacted replaces sensitive values in audit copies
const Redacted = "[REDACTED]"

var sensitiveKeys = []string{
	"card_number",
	"cardnumber",
	"pan",
	"cvv",
	"cvc",
	"secret",
	"password",
	"token",
	"api_key",
	"apikey",
	"authorization",
	"private_key",
}

// cardCandidate matches digit runs that may be card numbers, allowing spaces or dashes
var cardCandidate = regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`)

// Sanitize returns an audit copy of raw with sensitive fields redacted and
// card-like numbers masked to their last four digits. Non-JSON input is
// treated as an opaque string. The delivered bytes are never touched.
func Sanitize(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		b, _ := json.Marshal(maskCards(string(raw)))
		return b
	}

	b, err := json.Marshal(sanitizeValue(v))
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

// SanitizeString masks card-like numbers in free text such as response bodies
func SanitizeString(s string) string {
	return maskCards(s)
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if isSensitiveKey(k) {
				out[k] = Redacted
				continue
			}
			out[k] = sanitizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = sanitizeValue(val)
		}
		return out
	case string:
		return maskCards(t)
	case json.Number:
		if masked := maskCards(t.String()); masked != t.String() {
			return masked
		}
		return t
	default:
		return v
	}
}

func isSensitiveKey(k string) bool {
	k = strings.ToLower(strings.ReplaceAll(k, "-", "_"))
	for _, s := range sensitiveKeys {
		if k == s || strings.HasSuffix(k, "_"+s) {
			return true
		}
	}
	return false
}

func maskCards(s string) string {
	return cardCandidate.ReplaceAllStringFunc(s, func(m string) string {
		digits := make([]byte, 0, len(m))
		for i := 0; i < len(m); i++ {
			if m[i] >= '0' && m[i] <= '9' {
				digits = append(digits, m[i])
			}
		}
		if len(digits) < 13 || len(digits) > 19 || !luhn(digits) {
			return m
		}
		return strings.Repeat("*", len(digits)-4) + string(digits[len(digits)-4:])
	})
}

func luhn(digits []byte) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
