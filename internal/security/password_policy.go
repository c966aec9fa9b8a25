package security

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Password policy feedback messages.
const (
	FeedbackLength    = "Password must be at least 8 characters long"
	FeedbackLowercase = "Password should contain lowercase letters"
	FeedbackUppercase = "Password should contain uppercase letters"
	FeedbackDigit     = "Password should contain numbers"
	FeedbackSpecial   = "Password should contain special characters"
	FeedbackRepeat    = "Avoid repeating characters"
)

// MinValidScore is the lowest score ValidateStrength treats as acceptable.
const MinValidScore = 5

const specialChars = `!@#$%^&*(),.?":{}|<>`

// StrengthResult is the outcome of ValidateStrength. Score ranges 0..7.
type StrengthResult struct {
	IsValid  bool     `json:"isValid"`
	Score    int      `json:"score"`
	Feedback []string `json:"feedback"`
}

// ValidateStrength scores a password. It is pure and deterministic.
func ValidateStrength(password string) StrengthResult {
	var (
		score    int
		feedback = make([]string, 0, 6)
	)
	switch n := utf8.RuneCountInString(password); {
	case n >= 12:
		score += 2
	case n >= 8:
		score++
	default:
		feedback = append(feedback, FeedbackLength)
	}

	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case unicode.IsDigit(r) && r < utf8.RuneSelf:
			digit = true
		case strings.ContainsRune(specialChars, r):
			special = true
		}
	}
	for _, c := range []struct {
		ok  bool
		msg string
	}{
		{lower, FeedbackLowercase},
		{upper, FeedbackUppercase},
		{digit, FeedbackDigit},
		{special, FeedbackSpecial},
	} {
		if c.ok {
			score++
		} else {
			feedback = append(feedback, c.msg)
		}
	}

	if hasRun(password, 3) {
		feedback = append(feedback, FeedbackRepeat)
	} else {
		score++
	}
	return StrengthResult{IsValid: score >= MinValidScore, Score: score, Feedback: feedback}
}

// StrengthLabel maps a score to the label shown to users.
func StrengthLabel(score int) string {
	switch {
	case score >= 6:
		return "Very Strong"
	case score >= 5:
		return "Strong"
	case score >= 4:
		return "Good"
	case score >= 3:
		return "Fair"
	default:
		return "Weak"
	}
}

// hasRun reports whether s contains n or more identical consecutive runes.
func hasRun(s string, n int) bool {
	var (
		prev rune = -1
		run  int
	)
	for _, r := range s {
		if r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		if run >= n {
			return true
		}
	}
	return false
}
