package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// RequestHash fingerprints the mutable-free identity of a request
// (operation, environment, parameters) so an audit line can be correlated
// with the exact inputs without storing raw parameter values.
func RequestHash(operation, environment string, params map[string]any) (string, error) {
	payload := map[string]any{
		"operation": operation,
	}
	if environment != "" {
		payload["environment"] = environment
	}
	if params != nil {
		payload["parameters"] = params
	}
	b, err := canonicalJSON(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON encodes maps as sorted key/value pair arrays so the same
// logical value always hashes the same regardless of map iteration order.
func canonicalJSON(v any) ([]byte, error) {
	cv, err := canonicalizeValue(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(cv)
}

func canonicalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(keys)*2)
		for _, k := range keys {
			out = append(out, k)
			vv, err := canonicalizeValue(x[k])
			if err != nil {
				return nil, err
			}
			out = append(out, vv)
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(x))
		for _, vv := range x {
			cv, err := canonicalizeValue(vv)
			if err != nil {
				return nil, err
			}
			out = append(out, cv)
		}
		return out, nil
	case string, float64, bool, nil, int, int64, json.Number:
		return x, nil
	default:
		// Best-effort for JSON-ish values.
		b, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("cannot canonicalize value of type %T", v)
		}
		var y any
		if err := json.Unmarshal(b, &y); err != nil {
			return nil, fmt.Errorf("cannot canonicalize value of type %T", v)
		}
		return canonicalizeValue(y)
	}
}
