package jobs

import "strings"

// ExtractText flattens a job's output payload into text. Upstreams answer
// with a plain string, a token list to be concatenated, or an object with
// a text-ish field; anything unrecognizable degrades to "" rather than
// failing the whole job after it already succeeded.
func ExtractText(output interface{}) string {
	switch v := output.(type) {
	case string:
		return v
	case []interface{}:
		var b strings.Builder
		for _, item := range v {
			if s, ok := item.(string); ok {
				b.WriteString(s)
			}
		}
		return b.String()
	case map[string]interface{}:
		for _, key := range []string{"text", "output", "content"} {
			if s, ok := v[key].(string); ok {
				return s
			}
		}
	}
	return ""
}

// ExtractList pulls a list of strings (image URLs, usually) out of a job's
// output payload. A bare string becomes a single-element list; anything
// else degrades to nil.
func ExtractList(output interface{}) []string {
	switch v := output.(type) {
	case string:
		return []string{v}
	case []interface{}:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
