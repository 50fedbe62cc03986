package secrets

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// structuralPattern is a "definite" tier match: a fixed wire format that is
// essentially never anything else.
type structuralPattern struct {
	typ string
	re  *regexp.Regexp
}

var structuralPatterns = []structuralPattern{
	{"github_token", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`)},
	{"aws_access_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"pem_private_key", regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH |DSA |)PRIVATE KEY-----`)},
	{"jwt", regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`)},
	{"slack_token", regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]{10,}`)},
}

// keyedPattern is a "probable" tier match: a keyword that must be paired
// with a high-entropy payload to count as a finding.
type keyedPattern struct {
	typ string
	re  *regexp.Regexp
}

var keyedPatterns = []keyedPattern{
	{"api_key", regexp.MustCompile(`(?i)api[_-]?key["']?\s*[:=]\s*["']?([A-Za-z0-9_\-/+]{16,})`)},
	{"bearer_token", regexp.MustCompile(`(?i)bearer\s+([A-Za-z0-9_\-.=/+]{16,})`)},
	{"authorization_header", regexp.MustCompile(`(?i)authorization["']?\s*[:=]\s*["']?([A-Za-z0-9_\-.=/+]{16,})`)},
	{"generic_secret", regexp.MustCompile(`(?i)(?:secret|password|passwd|token)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-/+]{16,})`)},
}

// falsePositiveContext matches spans that look high-entropy but are known
// benign shapes (UUIDs, hex digests, data URLs, plain URLs).
var falsePositiveContext = []*regexp.Regexp{
	regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`), // uuid
	regexp.MustCompile(`^[0-9a-fA-F]{40}$`),                                                             // sha1
	regexp.MustCompile(`^[0-9a-fA-F]{64}$`),                                                             // sha256
	regexp.MustCompile(`^data:image/[a-zA-Z]+;base64,`),
	regexp.MustCompile(`^https?://`),
}

// highEntropyCandidate finds runs of 32+ "token-shaped" characters, used by
// the "possible" tier.
var highEntropyCandidate = regexp.MustCompile(`[A-Za-z0-9+/_=\-]{32,}`)

const minEntropyBitsPerChar = 3.2

// Detector is a deterministic, stateless secret scanner built from three
// pattern tiers (definite, probable, possible). It is safe for concurrent
// use; a single instance can be shared process-wide.
type Detector struct {
	minPossibleLen int
}

// NewDetector returns a Detector with default tuning.
func NewDetector() *Detector {
	return &Detector{minPossibleLen: 32}
}

// Scan returns every finding in text without modifying it.
func (d *Detector) Scan(text string) []Finding {
	var findings []Finding

	for _, p := range structuralPatterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			findings = append(findings, Finding{
				Type:            p.typ,
				Confidence:      ConfidenceDefinite,
				Offset:          loc[0],
				Length:          loc[1] - loc[0],
				RedactedContext: redactedContext(text, loc[0], loc[1]),
			})
		}
	}

	for _, p := range keyedPatterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			if len(loc) < 4 {
				continue
			}
			payload := text[loc[2]:loc[3]]
			if !highEntropy(payload) {
				continue
			}
			findings = append(findings, Finding{
				Type:            p.typ,
				Confidence:      ConfidenceProbable,
				Offset:          loc[0],
				Length:          loc[1] - loc[0],
				RedactedContext: redactedContext(text, loc[0], loc[1]),
			})
		}
	}

	for _, loc := range highEntropyCandidate.FindAllStringIndex(text, -1) {
		candidate := text[loc[0]:loc[1]]
		if len(candidate) < d.minPossibleLen {
			continue
		}
		if isFalsePositiveContext(candidate) {
			continue
		}
		if overlapsAny(findings, loc[0], loc[1]) {
			continue
		}
		if !highEntropy(candidate) {
			continue
		}
		findings = append(findings, Finding{
			Type:            "high_entropy_string",
			Confidence:      ConfidencePossible,
			Offset:          loc[0],
			Length:          loc[1] - loc[0],
			RedactedContext: redactedContext(text, loc[0], loc[1]),
		})
	}

	sort.Slice(findings, func(i, j int) bool { return findings[i].Offset < findings[j].Offset })
	return findings
}

// Redact replaces every finding with `[REDACTED:<type>]` and returns the
// findings alongside. Redact is idempotent: redacting already-redacted text
// yields identical output (I-S1 / P-REDACT-IDEMPOTENT), because the
// replacement marker itself never matches any pattern tier.
func (d *Detector) Redact(text string) RedactResult {
	findings := d.Scan(text)
	if len(findings) == 0 {
		return RedactResult{Redacted: text, Findings: nil}
	}

	var b strings.Builder
	last := 0
	for _, f := range findings {
		if f.Offset < last {
			continue // overlapping match already covered
		}
		b.WriteString(text[last:f.Offset])
		b.WriteString(fmt.Sprintf("[REDACTED:%s]", f.Type))
		last = f.Offset + f.Length
	}
	b.WriteString(text[last:])

	return RedactResult{Redacted: b.String(), Findings: findings}
}

func overlapsAny(findings []Finding, start, end int) bool {
	for _, f := range findings {
		if start < f.Offset+f.Length && f.Offset < end {
			return true
		}
	}
	return false
}

func isFalsePositiveContext(s string) bool {
	for _, re := range falsePositiveContext {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// highEntropy estimates Shannon entropy per character and requires it clear
// a minimum bar, screening out repetitive or low-variety strings that
// happen to be long (e.g. "aaaaaaaa...", "1234567890123...").
func highEntropy(s string) bool {
	if len(s) == 0 {
		return false
	}
	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}
	var entropy float64
	n := float64(len(s))
	for _, c := range counts {
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy >= minEntropyBitsPerChar
}

// redactedContext returns a short, already-sanitised excerpt around a match
// for audit/debug purposes, never the raw match itself.
func redactedContext(text string, start, end int) string {
	const pad = 6
	lo := start - pad
	if lo < 0 {
		lo = 0
	}
	hi := end + pad
	if hi > len(text) {
		hi = len(text)
	}
	prefix := text[lo:start]
	suffix := text[end:hi]
	return fmt.Sprintf("%s[REDACTED]%s", prefix, suffix)
}
