package utils

import (
	"strings"
	"unicode/utf8"
)

// Ellipsis marks a truncated string.
const Ellipsis = "..."

// StringHelper provides string utility functions.
type StringHelper struct{}

// NewStringHelper creates a new string helper.
func NewStringHelper() *StringHelper {
	return &StringHelper{}
}

// TrimWhitespace removes leading and trailing whitespace.
func (s *StringHelper) TrimWhitespace(str string) string {
	return strings.TrimSpace(str)
}

// NormalizeWhitespace replaces multiple whitespace with single space.
func (s *StringHelper) NormalizeWhitespace(str string) string {
	return strings.Join(strings.Fields(str), " ")
}

// StripNulls removes every NUL byte.
func (s *StringHelper) StripNulls(str string) string {
	return strings.ReplaceAll(str, "\x00", "")
}

// TruncateString cuts str to at most maxLength bytes and appends Ellipsis.
// The cut backs up to a rune boundary so the result stays valid UTF-8.
func (s *StringHelper) TruncateString(str string, maxLength int) string {
	if len(str) <= maxLength {
		return str
	}

	cut := max(maxLength, 0)
	for cut > 0 && !utf8.RuneStart(str[cut]) {
		cut--
	}

	return str[:cut] + Ellipsis
}
