// Package gatekeeper redacts secrets and PII from free-text fields before
// any persistence (spec.md §4.2). No event reaches the Classifier or Store
// with an unredacted pattern match.
package gatekeeper

import (
	"math"
	"regexp"
)

// Class names the kind of sensitive data a pattern matches, used to build
// the <REDACTED_<CLASS>> replacement token.
type Class string

const (
	ClassAPIKey     Class = "API_KEY"
	ClassAWSKey     Class = "AWS_KEY"
	ClassGCPKey     Class = "GCP_KEY"
	ClassJWT        Class = "JWT"
	ClassPrivateKey Class = "PRIVATE_KEY"
	ClassDBConn     Class = "DB_CONN"
	ClassEmail      Class = "EMAIL"
	ClassIPv4       Class = "IPV4"
	ClassIPv6       Class = "IPV6"
	ClassHighEntropy Class = "HIGH_ENTROPY"
)

type pattern struct {
	class Class
	re    *regexp.Regexp
}

// builtinPatterns is the minimum pattern set spec.md §4.2 requires. Compiled
// once at construction time; O(n) per event.
var builtinPatterns = []struct {
	class Class
	expr  string
}{
	{ClassAPIKey, `\b(?:sk|pk|ghp|gho|ghu|ghs|xox[baprs])-[A-Za-z0-9_-]{10,}\b`},
	{ClassAWSKey, `\bAKIA[0-9A-Z]{16}\b`},
	{ClassGCPKey, `"type"\s*:\s*"service_account"`},
	{ClassJWT, `\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`},
	{ClassPrivateKey, `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]+?-----END [A-Z ]*PRIVATE KEY-----`},
	{ClassDBConn, `\b(?:postgres|postgresql|mysql|mongodb(?:\+srv)?)://[^:\s]+:[^@\s]+@[^\s'"]+`},
	{ClassEmail, `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`},
	{ClassIPv4, `\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`},
	{ClassIPv6, `\b(?:[A-Fa-f0-9]{1,4}:){2,7}[A-Fa-f0-9]{1,4}\b`},
}

// highEntropyToken matches a bare run of 32+ alphanumeric/symbol chars that
// might be a secret; classified further by Shannon entropy in Redact.
var highEntropyToken = regexp.MustCompile(`\b[A-Za-z0-9+/_=-]{32,}\b`)

// Gatekeeper holds the compiled pattern set, including any
// gatekeeper.extra_patterns supplied at construction (config is re-read at
// tick boundaries only, never mid-run, per spec.md §6).
type Gatekeeper struct {
	patterns []pattern
}

// New compiles the built-in pattern set plus any extra regular expressions
// from config. Invalid extra patterns are skipped rather than panicking,
// since they originate from user configuration.
func New(extraPatterns []string) *Gatekeeper {
	patterns := make([]pattern, 0, len(builtinPatterns)+len(extraPatterns))

	for _, p := range builtinPatterns {
		patterns = append(patterns, pattern{class: p.class, re: regexp.MustCompile(p.expr)})
	}

	for _, expr := range extraPatterns {
		if re, err := regexp.Compile(expr); err == nil {
			patterns = append(patterns, pattern{class: "CUSTOM", re: re})
		}
	}

	return &Gatekeeper{patterns: patterns}
}

// Result is the outcome of a single Redact call.
type Result struct {
	Sanitized      string
	RedactionCount int
}

// Redact returns the sanitized text and the number of matches replaced. It
// never returns the original unredacted match; callers must never log or
// persist the pre-redaction input.
func (g *Gatekeeper) Redact(text string) Result {
	sanitized := text
	count := 0

	for _, p := range g.patterns {
		sanitized, count = replaceAll(sanitized, p.re, "<REDACTED_"+string(p.class)+">", count)
	}

	sanitized, count = redactHighEntropy(sanitized, count)

	return Result{Sanitized: sanitized, RedactionCount: count}
}

func replaceAll(text string, re *regexp.Regexp, token string, count int) (string, int) {
	matches := re.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text, count
	}

	out := re.ReplaceAllString(text, token)

	return out, count + len(matches)
}

// redactHighEntropy replaces any 32+-char token whose Shannon entropy looks
// secret-like (i.e. not an ordinary English/code token) with the generic
// high-entropy class. Already-redacted tokens (containing "REDACTED") are
// skipped to avoid double-counting.
func redactHighEntropy(text string, count int) (string, int) {
	return highEntropyToken.ReplaceAllStringFunc(text, func(tok string) string {
		if shannonEntropy(tok) < entropyThreshold {
			return tok
		}

		count++

		return "<REDACTED_" + string(ClassHighEntropy) + ">"
	}), count
}

const entropyThreshold = 3.5

func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int, len(s))
	for _, r := range s {
		freq[r]++
	}

	entropy := 0.0
	n := float64(len(s))

	for _, c := range freq {
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}

	return entropy
}
