package recorder

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestFileName_TruncatesAndSanitizes(t *testing.T) {
	ts := time.Date(2024, 3, 1, 14, 5, 33, 0, time.UTC)
	title := "A/B\\Test" + strings.Repeat("x", 202)
	if len(title) != 210 {
		t.Fatalf("fixture length = %d, want 210", len(title))
	}

	got := FileName(ts, "ttv", "foo", title)

	prefix := "2024-03-01 14:05 ttv foo "
	if !strings.HasPrefix(got, prefix) {
		t.Fatalf("FileName() = %q, want prefix %q", got, prefix)
	}
	if !strings.HasSuffix(got, ".mp4") {
		t.Fatalf("FileName() = %q, want .mp4 suffix", got)
	}
	sanitized := strings.TrimSuffix(strings.TrimPrefix(got, prefix), ".mp4")
	if n := utf8.RuneCountInString(sanitized); n != 200 {
		t.Fatalf("sanitized title length = %d, want 200", n)
	}
	if !strings.HasPrefix(sanitized, "A_B_Test") {
		t.Fatalf("sanitized title = %q, want A_B_Test prefix", sanitized[:16])
	}
	if strings.ContainsAny(sanitized, "/\\") {
		t.Fatalf("sanitized title still contains a separator: %q", sanitized)
	}
}

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: UnknownTitle},
		{name: "plain", in: "Just Chatting", want: "Just Chatting"},
		{name: "separators", in: `a/b\c`, want: "a_b_c"},
		{name: "multibyte counted as characters", in: strings.Repeat("é", 205), want: strings.Repeat("é", 200)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeTitle(tt.in); got != tt.want {
				t.Fatalf("SanitizeTitle(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFileName_UnknownTitle(t *testing.T) {
	ts := time.Date(2024, 3, 1, 14, 5, 0, 0, time.UTC)
	if got, want := FileName(ts, "kick", "bar", ""), "2024-03-01 14:05 kick bar Unknown Title.mp4"; got != want {
		t.Fatalf("FileName() = %q, want %q", got, want)
	}
}
