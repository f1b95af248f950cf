package resolve

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Matcher ranks candidate entity names against a spoken or typed mention.
// Double Metaphone codes gate candidates (players misspell what they heard),
// then Jaro-Winkler similarity ranks them; when nothing aligns phonetically
// a stricter pure-similarity pass runs. The Matcher is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewMatcher returns a matcher with the default thresholds (0.70 phonetic,
// 0.85 fuzzy fallback).
func NewMatcher() *Matcher {
	return &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
}

// Match finds the candidate most similar to mention. When matched is false,
// the mention found no acceptable candidate and score is 0.
func (m *Matcher) Match(mention string, candidates []string) (best string, score float64, matched bool) {
	mentionLower := strings.ToLower(strings.TrimSpace(mention))
	if mentionLower == "" || len(candidates) == 0 {
		return "", 0, false
	}
	mentionCodes := codesForTokens(strings.Fields(mentionLower))

	var bestPhonetic, bestFuzzy string
	var phoneticScore, fuzzyScore float64
	for _, cand := range candidates {
		candLower := strings.ToLower(strings.TrimSpace(cand))
		if candLower == "" {
			continue
		}
		s := matchr.JaroWinkler(mentionLower, candLower, false)
		if codesOverlap(mentionCodes, codesForTokens(strings.Fields(candLower))) {
			if s > phoneticScore {
				bestPhonetic, phoneticScore = cand, s
			}
		}
		if s > fuzzyScore {
			bestFuzzy, fuzzyScore = cand, s
		}
	}

	if phoneticScore >= m.phoneticThreshold {
		return bestPhonetic, phoneticScore, true
	}
	if fuzzyScore >= m.fuzzyThreshold {
		return bestFuzzy, fuzzyScore, true
	}
	return "", 0, false
}

func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
