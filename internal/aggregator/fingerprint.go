// Package aggregator implements the Fingerprinter + Aggregator (spec.md
// §4.4): near-duplicate detection by normalized fingerprint, and the
// aggregation decision applied at write time.
package aggregator

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/vidurai/vidurai-core/internal/store/model"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	numericToken  = regexp.MustCompile(`\d+`)
)

// Normalize lowercases, collapses whitespace runs, masks numeric literals,
// and strips the project_root prefix from an absolute path — exactly the
// normalization spec.md §4.4 specifies.
func Normalize(verbatim, filePath, projectRoot string) string {
	text := verbatim
	if filePath != "" && projectRoot != "" && strings.HasPrefix(filePath, projectRoot) {
		text += " " + strings.TrimPrefix(filePath, projectRoot)
	} else {
		text += " " + filePath
	}

	text = strings.ToLower(text)
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = numericToken.ReplaceAllString(text, "#")

	return strings.TrimSpace(text)
}

// Fingerprint hashes the normalized text together with the event kind and
// file path into a stable 64-bit non-cryptographic fingerprint.
func Fingerprint(normalized string, kind string, filePath string) string {
	h := xxhash.New()
	_, _ = h.WriteString(kind)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(filePath)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(normalized)

	return strconv.FormatUint(h.Sum64(), 16)
}

// demotionFloor computes the new salience after an aggregation merge:
// spec.md §4.4 "salience floor decreases one step every doubling of
// repeat_count beyond 2, clamped at NOISE. CRITICAL and pinned memories
// never demote."
func demotionFloor(current model.Salience, pinned bool, repeatCount int) model.Salience {
	if current == model.SalienceCritical || pinned {
		return current
	}

	if repeatCount <= 2 {
		return current
	}

	steps := 0
	for threshold := 4; threshold <= repeatCount; threshold *= 2 {
		steps++
	}

	s := current
	for i := 0; i < steps; i++ {
		if s == model.SalienceNoise {
			break
		}

		s = s.Lower()
	}

	return s
}

// MergeTags returns the set-union of two tag lists, preserving the order
// existing tags first appeared in.
func MergeTags(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))

	for _, t := range existing {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}

	for _, t := range incoming {
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}

	return out
}

// Decision is what the Writer should do with an incoming classified event:
// either aggregate into an existing ACTIVE memory, or insert a new one.
type Decision struct {
	Aggregate      bool
	NewSalience    model.Salience
	NewRepeatCount int
	MergedTags     []string
}

// Decide implements the aggregation decision of spec.md §4.4. existing is
// nil when there is no ACTIVE memory sharing (project_id, fingerprint).
func Decide(existing *model.Memory, incomingTags []string) Decision {
	if existing == nil {
		return Decision{Aggregate: false}
	}

	newCount := existing.RepeatCount + 1

	return Decision{
		Aggregate:      true,
		NewSalience:    demotionFloor(existing.Salience, existing.Pinned, newCount),
		NewRepeatCount: newCount,
		MergedTags:     MergeTags(existing.Tags, incomingTags),
	}
}
