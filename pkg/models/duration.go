package models

import (
	"fmt"
	"regexp"
	"strconv"
)

var durationDigits = regexp.MustCompile(`\d+`)

// EncodeEstimatedDuration converts minutes to the stored phrase "N minutes".
// A nil input maps to the empty string (stored as NULL).
func EncodeEstimatedDuration(minutes *int) string {
	if minutes == nil {
		return ""
	}
	return fmt.Sprintf("%d minutes", *minutes)
}

// DecodeEstimatedDuration extracts the first run of digits from the stored
// phrase and parses it as base-10 minutes. Empty input maps to nil, and a
// phrase with no digits also maps to nil.
func DecodeEstimatedDuration(stored string) *int {
	if stored == "" {
		return nil
	}
	digits := durationDigits.FindString(stored)
	if digits == "" {
		return nil
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	return &n
}
