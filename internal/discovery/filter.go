package discovery

import (
	"regexp"
	"strings"
	"unicode"
)

// DefaultMinLength is the shortest community submission worth scoring.
const DefaultMinLength = 80

const (
	maxLinks      = 3
	maxRepeatRun  = 7
	maxCapsRatio  = 0.7
	minCapsLetter = 20
)

var linkPattern = regexp.MustCompile(`(?i)https?://`)

var blockedPhrases = []string{
	"airdrop",
	"free money",
	"giveaway",
	"guaranteed returns",
	"send me",
	"dm me",
	"pump it",
	"100x",
	"follow for follow",
}

// spamReason returns why text looks like spam, or "" if it does not.
func spamReason(text string, minLength int) string {
	trimmed := strings.TrimSpace(text)
	if len([]rune(trimmed)) < minLength {
		return "too_short"
	}
	if len(linkPattern.FindAllStringIndex(trimmed, -1)) > maxLinks {
		return "too_many_links"
	}
	if longestRun(trimmed) > maxRepeatRun {
		return "repeated_characters"
	}
	if capsRatio(trimmed) > maxCapsRatio {
		return "shouting"
	}
	lower := strings.ToLower(trimmed)
	for _, p := range blockedPhrases {
		if strings.Contains(lower, p) {
			return "blocked_phrase"
		}
	}
	return ""
}

// longestRun is the longest run of one repeated non-space rune.
func longestRun(s string) int {
	best, run := 0, 0
	var prev rune = -1
	for _, r := range s {
		if r == prev && !unicode.IsSpace(r) {
			run++
		} else {
			run = 1
		}
		prev = r
		best = max(best, run)
	}
	return best
}

// capsRatio is upper-case letters over all letters. Short texts score 0.
func capsRatio(s string) float64 {
	letters, upper := 0, 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters < minCapsLetter {
		return 0
	}
	return float64(upper) / float64(letters)
}
