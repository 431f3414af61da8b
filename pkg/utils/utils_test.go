package utils

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateString(t *testing.T) {
	s := NewStringHelper()

	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "abc", 5, "abc"},
		{"exact", "abcde", 5, "abcde"},
		{"long", "abcdefgh", 5, "abcde..."},
		{"rune boundary", "abécd", 3, "ab..."},
		{"zero", "abc", 0, "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.TruncateString(tt.in, tt.max)
			if got != tt.want {
				t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}

			if !utf8.ValidString(got) {
				t.Errorf("TruncateString(%q, %d) produced invalid UTF-8", tt.in, tt.max)
			}
		})
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	s := NewStringHelper()

	if got := s.NormalizeWhitespace("  a \t b\n\nc "); got != "a b c" {
		t.Errorf("NormalizeWhitespace() = %q", got)
	}

	if got := s.StripNulls("a\x00b\x00"); got != "ab" {
		t.Errorf("StripNulls() = %q", got)
	}

	if got := s.TrimWhitespace("\t x \n"); got != "x" {
		t.Errorf("TrimWhitespace() = %q", got)
	}
}

func TestIsValidURL(t *testing.T) {
	h := NewHTTPHelper()

	valid := []string{"http://localhost:8000/api/", "https://crash-stats.example.com/api/VersionString/"}
	invalid := []string{"", "localhost:8000", "ftp://host/x", "https://", "://bad"}

	for _, u := range valid {
		if !h.IsValidURL(u) {
			t.Errorf("IsValidURL(%q) = false", u)
		}
	}

	for _, u := range invalid {
		if h.IsValidURL(u) {
			t.Errorf("IsValidURL(%q) = true", u)
		}
	}
}

func TestBuildHeaders(t *testing.T) {
	headers := NewHTTPHelper().BuildHeaders(map[string]string{
		"Accept":     "text/plain",
		"Auth-Token": "secret",
	})

	if got := headers.Get("User-Agent"); !strings.HasPrefix(got, "crashproc/") {
		t.Errorf("User-Agent = %q", got)
	}

	if got := headers.Values("Accept"); len(got) != 1 || got[0] != "text/plain" {
		t.Errorf("Accept = %v", got)
	}

	if got := headers.Get("Auth-Token"); got != "secret" {
		t.Errorf("Auth-Token = %q", got)
	}
}
