package models

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ValidationError reports malformed caller input. It maps to HTTP 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

var (
	handlePattern   = regexp.MustCompile(`^[a-z0-9_]{1,30}$`)
	bountyIDPattern = regexp.MustCompile(`^bty_[a-z0-9]{8,40}$`)
	rewardIDPattern = regexp.MustCompile(`^rwd_[a-z0-9]{8,40}$`)
)

// MaxProofURLLength bounds submitted proof links.
const MaxProofURLLength = 2048

// NormalizeHandle lowercases a handle and strips a leading "@".
func NormalizeHandle(h string) string {
	h = strings.TrimSpace(h)
	h = strings.TrimPrefix(h, "@")
	return strings.ToLower(h)
}

// ValidateHandle normalizes h and checks its shape.
func ValidateHandle(field, h string) (string, error) {
	n := NormalizeHandle(h)
	if !handlePattern.MatchString(n) {
		return "", Invalid(field, "must be 1-30 letters, digits or underscores")
	}
	return n, nil
}

// ValidateBountyID checks the id shape before any lookup happens.
func ValidateBountyID(id string) error {
	if len(id) > 44 || !bountyIDPattern.MatchString(id) {
		return Invalid("bounty_id", "malformed bounty id")
	}
	return nil
}

// ValidateRewardID checks the id shape before any lookup happens.
func ValidateRewardID(id string) error {
	if len(id) > 44 || !rewardIDPattern.MatchString(id) {
		return Invalid("reward_id", "malformed reward id")
	}
	return nil
}

// ValidateProofURL requires an absolute http(s) URL with a host.
func ValidateProofURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > MaxProofURLLength {
		return "", Invalid("proof", "must be a URL of at most %d characters", MaxProofURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", Invalid("proof", "must be an absolute http(s) URL")
	}
	return u.String(), nil
}
