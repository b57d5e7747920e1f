package tinkoff

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

const tokenField = "Token"

// GenerateToken signs the scalar top-level fields of a request or callback:
// values sorted by key, concatenated, password appended, SHA-256 as
// uppercase hex. Token itself, nested objects and arrays are excluded.
func GenerateToken(fields map[string]any, password string) string {
	keys := make([]string, 0, len(fields))
	values := make(map[string]string, len(fields))
	for key, raw := range fields {
		if key == tokenField {
			continue
		}
		value, ok := scalarString(raw)
		if !ok {
			continue
		}
		keys = append(keys, key)
		values[key] = value
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		b.WriteString(values[key])
	}
	b.WriteString(password)

	sum := sha256.Sum256([]byte(b.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// VerifyToken compares the Token field of payload against the expected
// digest in constant time.
func VerifyToken(payload map[string]any, password string) bool {
	provided, ok := payload[tokenField].(string)
	if !ok || provided == "" {
		return false
	}
	expected := GenerateToken(payload, password)
	return subtle.ConstantTimeCompare([]byte(strings.ToUpper(provided)), []byte(expected)) == 1
}

func scalarString(raw any) (string, bool) {
	switch v := raw.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	default:
		return "", false
	}
}

func readString(payload map[string]any, key string) string {
	value, ok := scalarString(payload[key])
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}
