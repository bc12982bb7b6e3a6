// Package identity validates chat display names.
package identity

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const (
	// MinLength is the minimum number of characters in a display name.
	MinLength = 2
	// MaxLength is the maximum number of characters in a display name.
	MaxLength = 20
)

// ErrInvalidName is matched by every ValidationError.
var ErrInvalidName = errors.New("invalid display name")

// Reason explains why a display name was rejected.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonEmpty
	ReasonTooShort
	ReasonTooLong
	ReasonInvalidCharacters
)

// String returns the string representation of Reason
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "NONE"
	case ReasonEmpty:
		return "EMPTY"
	case ReasonTooShort:
		return "TOO_SHORT"
	case ReasonTooLong:
		return "TOO_LONG"
	case ReasonInvalidCharacters:
		return "INVALID_CHARACTERS"
	default:
		return "UNKNOWN"
	}
}

// Message returns the text shown next to the name input.
func (r Reason) Message() string {
	switch r {
	case ReasonEmpty:
		return "please enter a display name"
	case ReasonTooShort:
		return fmt.Sprintf("display name must be at least %d characters", MinLength)
	case ReasonTooLong:
		return fmt.Sprintf("display name can be at most %d characters", MaxLength)
	case ReasonInvalidCharacters:
		return "display name may only contain letters, digits, spaces, _ and -"
	default:
		return ""
	}
}

// ValidationError is returned by Validate for a rejected name.
type ValidationError struct {
	Name   string
	Reason Reason
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid display name %q: %s", e.Name, e.Reason.Message())
}

// Is reports ErrInvalidName as a match so callers can use errors.Is.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidName
}

// Check returns the first rule the name breaks, or ReasonNone.
// It is cheap enough to run on every keystroke.
func Check(name string) Reason {
	name = strings.TrimSpace(name)
	if name == "" {
		return ReasonEmpty
	}

	n := utf8.RuneCountInString(name)
	if n < MinLength {
		return ReasonTooShort
	}
	if n > MaxLength {
		return ReasonTooLong
	}

	// Combining marks are part of the letter before them (Devanagari vowel
	// signs, Latin combining accents), never a character of their own.
	afterLetter := false
	for _, r := range name {
		switch {
		case unicode.IsMark(r) && afterLetter:
		case allowed(r):
			afterLetter = unicode.IsLetter(r)
		default:
			return ReasonInvalidCharacters
		}
	}
	return ReasonNone
}

// Validate returns a *ValidationError if name is not an acceptable display name.
func Validate(name string) error {
	if reason := Check(name); reason != ReasonNone {
		return &ValidationError{Name: name, Reason: reason}
	}
	return nil
}

func allowed(r rune) bool {
	switch {
	case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r):
		return true
	case r == '_', r == '-':
		return true
	default:
		return false
	}
}
