// Package textx contains tests for the text utilities.
package textx

import "testing"

func TestSanitizeText(t *testing.T) {
	in := "he\x00llo\nwo\x7frld\t!"
	got := SanitizeText(in)
	if got != "hello\nworld\t!" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestSanitizeTextTrims(t *testing.T) {
	if got := SanitizeText("  deliver friday  "); got != "deliver friday" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestClip(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly-10", 10, "exactly-10"},
		{"definitely too long", 10, "definit..."},
		{"abc", 3, "abc"},
		{"abcd", 3, "abcd"},
	}
	for _, tc := range cases {
		if got := Clip(tc.in, tc.max); got != tc.want {
			t.Fatalf("Clip(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
