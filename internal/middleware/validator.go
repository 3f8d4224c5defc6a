package middleware

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Input validation and sanitization utilities

var clientIDPattern = regexp.MustCompile(`^[a-zA-Z0-9@._-]{1,128}$`)

// ValidateClientID checks a websocket client id (alphanumeric plus @ . _ -).
func ValidateClientID(id string) error {
	if id == "" {
		return fmt.Errorf("client ID cannot be empty")
	}
	if !clientIDPattern.MatchString(id) {
		return fmt.Errorf("invalid client ID format (alphanumeric, @ . _ - only, max 128 chars)")
	}
	return nil
}

// ValidateID rejects empty or oversized identifiers and control characters.
func ValidateID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%s cannot be empty", kind)
	}
	if len(id) > 64 {
		return fmt.Errorf("%s too long", kind)
	}
	if SanitizeString(id) != id {
		return fmt.Errorf("invalid characters in %s", kind)
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// Pagination parses skip and limit query values. Missing or unparsable
// values fall back to 0 and the default; limit is capped at 100.
func Pagination(skipRaw, limitRaw string) (skip, limit int) {
	skip, _ = strconv.Atoi(skipRaw)
	if skip < 0 {
		skip = 0
	}
	limit, _ = strconv.Atoi(limitRaw)
	return skip, ValidateLimit(limit)
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 50 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}

// ParseBool reads a query flag, returning def when absent or malformed.
func ParseBool(raw string, def bool) bool {
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}
