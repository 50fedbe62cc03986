package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Query reads every day file overlapping the filter's time range (or all
// files if Since/Until are zero) and returns matching entries, newest
// filters applied in file order, oldest-first.
func (l *Logger) Query(f Filter) ([]Entry, error) {
	days, err := l.daysInRange(f)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for _, day := range days {
		entries, err := readDayFile(filepath.Join(l.cfg.Dir, fmt.Sprintf("audit-%s.jsonl", day)))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if f.matches(e) {
				out = append(out, e)
				if f.Limit > 0 && len(out) >= f.Limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

// QueryDay reads and returns all entries from a single day's file, for
// VerifyChain callers that need the raw sequence (chain order matters,
// Filter.matches would reorder nothing but callers shouldn't filter
// before verifying).
func (l *Logger) QueryDay(day string) ([]Entry, error) {
	entries, err := readDayFile(filepath.Join(l.cfg.Dir, fmt.Sprintf("audit-%s.jsonl", day)))
	if err != nil && os.IsNotExist(err) {
		return nil, nil
	}
	return entries, err
}

func readDayFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("audit: corrupt entry in %s: %w", path, err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

func (l *Logger) daysInRange(f Filter) ([]string, error) {
	if f.Since.IsZero() && f.Until.IsZero() {
		matches, err := filepath.Glob(filepath.Join(l.cfg.Dir, "audit-*.jsonl"))
		if err != nil {
			return nil, err
		}
		days := make([]string, 0, len(matches))
		for _, m := range matches {
			base := filepath.Base(m)
			days = append(days, base[len("audit-") : len(base)-len(".jsonl")])
		}
		return days, nil
	}

	since := f.Since
	if since.IsZero() {
		since = f.Until.AddDate(0, 0, -30)
	}
	until := f.Until
	if until.IsZero() {
		until = time.Now().UTC()
	}

	var days []string
	for d := since.UTC(); !d.After(until.UTC()); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format("2006-01-02"))
	}
	return days, nil
}
