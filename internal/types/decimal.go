package types

import (
	"encoding/json"
	"strconv"
	"strings"
)

// NormalizeDecimal converts an upstream cost value into a plain decimal
// string. The data store returns driver-specific wrappers inconsistently:
// sometimes a bare number, sometimes a string, sometimes
// {"$numberDecimal": "0.0125"}. All unwrap logic lives here; callers must
// not re-implement it.
//
// Unparseable or absent input yields "0".
func NormalizeDecimal(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "0"
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "0"
	}
	return normalizeDecimalValue(v)
}

func normalizeDecimalValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "0"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return s
		}
		return "0"
	case map[string]any:
		if inner, ok := t["$numberDecimal"]; ok {
			return normalizeDecimalValue(inner)
		}
		return "0"
	case json.Number:
		return t.String()
	default:
		return "0"
	}
}
