package fname_test

import (
	"strings"
	"testing"

	"github.com/lbj9527/tgrelay/internal/fname"
)

func TestSanitize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input string
		limit int
		want  string
	}{
		{name: "plain", input: "photo.jpg", limit: 180, want: "photo.jpg"},
		{name: "empty", input: "", limit: 180, want: "file"},
		{name: "stripsPathSeparators", input: "../../etc/passwd", limit: 180, want: "passwd"},
		{name: "stripsWindowsPathSeparators", input: `C:\Windows\evil.exe`, limit: 180, want: "evil.exe"},
		{name: "reservedWindowsDeviceName", input: "CON", limit: 180, want: "_CON"},
		{name: "reservedWindowsDeviceNameWithExt", input: "NUL.txt", limit: 180, want: "_NUL.txt"},
		{name: "stripsForbiddenChars", input: `a*b?c"d<e>f|g`, limit: 180, want: "abcdefg"},
		{name: "stripsControlChars", input: "a\x00b\x01c", limit: 180, want: "abc"},
		{name: "whitespaceOnlyFallsBack", input: "   ", limit: 180, want: "file"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := fname.Sanitize(tc.input, tc.limit)
			if got != tc.want {
				t.Fatalf("Sanitize(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestSanitize_TruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	name := strings.Repeat("日", 200)
	got := fname.Sanitize(name, 10)
	if got != strings.Repeat("日", 10) {
		t.Fatalf("Sanitize() truncation corrupted multi-byte runes: %q", got)
	}
}

func TestSanitize_NoLimitMeansNoTruncation(t *testing.T) {
	t.Parallel()

	name := strings.Repeat("a", 500)
	got := fname.Sanitize(name, 0)
	if got != name {
		t.Fatalf("Sanitize() with limit 0 truncated; got len %d, want %d", len(got), len(name))
	}
}
