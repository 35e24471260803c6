package getsafe

import "encoding/json"

func String(payload map[string]any, key string) string {
	if v, ok := payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func Metadata(payload map[string]any, key string) map[string]any {
	if v, ok := payload[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

func Int64(payload map[string]any, key string) int64 {
	switch v := payload[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

func Bool(payload map[string]any, key string) bool {
	if v, ok := payload[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func Strings(payload map[string]any, key string) []string {
	raw, ok := payload[key].([]any)
	if !ok {
		if ss, ok := payload[key].([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func Float32s(payload map[string]any, key string) []float32 {
	switch v := payload[key].(type) {
	case []float32:
		return v
	case []float64:
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return out
	case []any:
		out := make([]float32, 0, len(v))
		for _, f := range v {
			if n, ok := f.(float64); ok {
				out = append(out, float32(n))
			}
		}
		return out
	}
	return nil
}
