// Package username canonicalizes and validates identity usernames.
package username

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrRequired indicates a blank username.
	ErrRequired = errors.New("username is required")
	// ErrNotASCII indicates a username containing non-ASCII bytes.
	ErrNotASCII = errors.New("username must be ASCII")
	// ErrFormat indicates a username outside the allowed shape.
	ErrFormat = errors.New("username must be 3-32 characters: a lowercase letter followed by letters, digits, dot, dash, or underscore")

	canonicalPattern = regexp.MustCompile(`^[a-z][a-z0-9._-]{2,31}$`)
)

// Canonicalize trims and lowercases input, then validates it. Two inputs
// that canonicalize to the same value name the same identity.
func Canonicalize(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrRequired
	}
	for i := 0; i < len(input); i++ {
		if input[i] > 0x7f {
			return "", ErrNotASCII
		}
	}
	canonical := strings.ToLower(input)
	if !canonicalPattern.MatchString(canonical) {
		return "", ErrFormat
	}
	return canonical, nil
}
