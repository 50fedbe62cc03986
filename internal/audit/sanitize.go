package audit

import "github.com/nexuscore/core/internal/secrets"

const errorMessageCap = 500

// sanitize strips NEVER-LOG paths unconditionally and runs any
// `errorMessage` field through the secret detector plus a 500-char
// truncation, per spec §4.5's writer pipeline.
func sanitize(d *secrets.Detector, e Entry) Entry {
	if e.Metadata == nil {
		return e
	}
	meta := cloneMetadata(e.Metadata)
	stripNeverLog(meta)

	if raw, ok := meta["errorMessage"]; ok {
		if s, ok := raw.(string); ok {
			res := d.Redact(s)
			meta["errorMessage"] = secrets.TruncateBytes(res.Redacted, errorMessageCap)
		}
	}

	e.Metadata = meta
	return e
}

// stripNeverLog removes the fixed NEVER-LOG field paths from a nested
// metadata map, regardless of what the caller set (I-AU1).
func stripNeverLog(meta map[string]any) {
	for _, path := range neverLogPaths {
		deletePath(meta, path)
	}
}

func deletePath(m map[string]any, dotted string) {
	parts := splitDot(dotted)
	cur := m
	for i, p := range parts {
		if i == len(parts)-1 {
			delete(cur, p)
			return
		}
		next, ok := cur[p]
		if !ok {
			return
		}
		nested, ok := next.(map[string]any)
		if !ok {
			return
		}
		cur = nested
	}
}

func splitDot(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMetadata(nested)
			continue
		}
		out[k] = v
	}
	return out
}
