package template_test

import (
	"strings"
	"testing"
	"time"

	"github.com/lbj9527/tgrelay/internal/model"
	"github.com/lbj9527/tgrelay/internal/template"
)

func TestRender(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		tmpl string
		vars map[string]string
		want string
	}{
		{
			name: "substitutesKnownPlaceholder",
			tmpl: "{original_text}",
			vars: map[string]string{"original_text": "hello"},
			want: "hello",
		},
		{
			name: "unmatchedPlaceholderBecomesEmpty",
			tmpl: "{unknown}",
			vars: map[string]string{},
			want: "",
		},
		{
			name: "mixedLiteralAndPlaceholders",
			tmpl: "[{source_channel}] {original_caption}",
			vars: map[string]string{"source_channel": "news", "original_caption": "breaking"},
			want: "[news] breaking",
		},
		{
			name: "noPlaceholders",
			tmpl: "static text",
			vars: nil,
			want: "static text",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := template.Render(tc.tmpl, tc.vars)
			if got != tc.want {
				t.Fatalf("Render(%q) = %q, want %q", tc.tmpl, got, tc.want)
			}
		})
	}
}

func TestPreview_TruncatesWithEllipsis(t *testing.T) {
	t.Parallel()

	got := template.Preview("{original_text}", map[string]string{"original_text": "abcdefgh"}, 4)
	if got != "abcd…" {
		t.Fatalf("Preview() = %q, want %q", got, "abcd…")
	}
}

func TestPreview_NoTruncationBelowLimit(t *testing.T) {
	t.Parallel()

	got := template.Preview("{original_text}", map[string]string{"original_text": "ab"}, 4)
	if got != "ab" {
		t.Fatalf("Preview() = %q, want %q", got, "ab")
	}
}

func TestTruncateAtWord(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		s         string
		limit     int
		want      string
		truncated bool
	}{
		{name: "underLimit", s: "short", limit: 10, want: "short", truncated: false},
		{name: "backsOffToWhitespace", s: "hello world", limit: 8, want: "hello…", truncated: true},
		{name: "noWhitespaceHardCuts", s: "abcdefghij", limit: 5, want: "abcd…", truncated: true},
		{name: "zeroLimitNoTruncation", s: "hello", limit: 0, want: "hello", truncated: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, truncated := template.TruncateAtWord(tc.s, tc.limit)
			if got != tc.want || truncated != tc.truncated {
				t.Fatalf("TruncateAtWord(%q, %d) = (%q, %v), want (%q, %v)", tc.s, tc.limit, got, truncated, tc.want, tc.truncated)
			}
		})
	}
}

func TestVarsForUnit_UsesFirstMessage(t *testing.T) {
	t.Parallel()

	unit := model.Group{ID: "g1", Items: []model.Message{
		{Caption: "first", AuthorDate: time.Unix(0, 0).UTC()},
		{Caption: "second", AuthorDate: time.Unix(0, 0).UTC()},
	}}

	vars := template.VarsForUnit(unit, "chan")
	if vars["original_caption"] != "first" {
		t.Fatalf("VarsForUnit() original_caption = %q, want %q", vars["original_caption"], "first")
	}
	if vars["source_channel"] != "chan" {
		t.Fatalf("VarsForUnit() source_channel = %q, want %q", vars["source_channel"], "chan")
	}
}

func TestVarsForUnit_EmptyUnit(t *testing.T) {
	t.Parallel()

	vars := template.VarsForUnit(model.Group{ID: "g1"}, "chan")
	if vars["source_channel"] != "chan" {
		t.Fatalf("VarsForUnit() source_channel = %q, want %q", vars["source_channel"], "chan")
	}
	if len(vars) != 1 {
		t.Fatalf("VarsForUnit() on empty unit = %#v, want only source_channel", vars)
	}
}

func TestVars_IncludesFileMetadataWhenMediaPresent(t *testing.T) {
	t.Parallel()

	msg := model.Message{Media: &model.MediaRef{FileName: "video.mp4", Size: 2048}}
	vars := template.Vars(msg, "chan")
	if vars["file_name"] != "video.mp4" {
		t.Fatalf("Vars() file_name = %q, want %q", vars["file_name"], "video.mp4")
	}
	if !strings.Contains(vars["file_size"], "2.0") {
		t.Fatalf("Vars() file_size = %q, want it to mention 2.0 kB", vars["file_size"])
	}
}
