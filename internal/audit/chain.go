package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// canonicalJSON renders e with sorted keys and no extraneous whitespace,
// excluding the hash fields themselves, as the spec's hashing input.
func canonicalJSON(e Entry) ([]byte, error) {
	e.PrevHash = ""
	e.EntryHash = ""

	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return marshalSorted(generic)
}

// marshalSorted recursively renders a JSON-decoded value with map keys
// sorted, matching the spec's "canonical JSON: keys sorted, no
// whitespace" requirement for hash inputs.
func marshalSorted(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, _ := json.Marshal(k)
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []any:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			ib, err := marshalSorted(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ib...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(val)
	}
}

// chainHash computes entry_hash = SHA-256(canonical_json(entry) || prevHash).
func chainHash(e Entry, prevHash string) (string, error) {
	body, err := canonicalJSON(e)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(body)
	h.Write([]byte(prevHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyResult is the outcome of walking a day's chain.
type VerifyResult struct {
	Valid    bool
	BrokenAt int // index of the first entry whose hash doesn't match, -1 if valid
}

// VerifyChain recomputes each entry's hash in order and reports the first
// mismatch (P-CHAIN).
func VerifyChain(entries []Entry) (VerifyResult, error) {
	prev := ""
	for i, e := range entries {
		want, err := chainHash(e, prev)
		if err != nil {
			return VerifyResult{}, err
		}
		if e.EntryHash != want || e.PrevHash != prev {
			return VerifyResult{Valid: false, BrokenAt: i}, nil
		}
		prev = e.EntryHash
	}
	return VerifyResult{Valid: true, BrokenAt: -1}, nil
}
