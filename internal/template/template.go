// Package template renders the caption template the Driver applies to
// every forwarded unit (spec §4.8, §5.8).
package template

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lbj9527/tgrelay/internal/model"
)

// DefaultTemplate is used when the CLI supplies none (spec §6).
const DefaultTemplate = "{original_text}{original_caption}"

var placeholderRe = regexp.MustCompile(`\{\w+\}`)

// Render substitutes {name} placeholders in tmpl from vars; an unmatched
// placeholder is replaced with the empty string (spec §6).
func Render(tmpl string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(token string) string {
		name := token[1 : len(token)-1]
		return vars[name]
	})
}

// Preview truncates rendered for logging to n runes, appending an
// ellipsis when truncated.
func Preview(tmpl string, vars map[string]string, n int) string {
	rendered := Render(tmpl, vars)
	runes := []rune(rendered)
	if len(runes) <= n {
		return rendered
	}
	return string(runes[:n]) + "…"
}

// Vars builds the flat substitution map for one message (spec §5.8).
func Vars(msg model.Message, channelName string) map[string]string {
	vars := map[string]string{
		"original_text":    msg.Text,
		"original_caption": msg.Caption,
		"source_channel":   channelName,
		"timestamp":        msg.AuthorDate.Format(time.RFC3339),
	}
	if msg.Media != nil {
		vars["file_name"] = msg.Media.FileName
		vars["file_size"] = humanize.Bytes(uint64(msg.Media.Size))
	}
	return vars
}

// VarsForUnit builds the substitution map for an AtomicUnit, using its
// first message — a Group's caption is carried by its first item, per the
// remote service's own media-group convention.
func VarsForUnit(unit model.AtomicUnit, channelName string) map[string]string {
	messages := unit.Messages()
	if len(messages) == 0 {
		return map[string]string{"source_channel": channelName}
	}
	return Vars(messages[0], channelName)
}

// TruncateAtWord truncates s to at most limit runes, including the
// appended ellipsis, backing off to the last preceding whitespace
// boundary, per session's caption cap (1024 or 4096 runes, spec §4.7).
// Returns the (possibly) truncated string and whether truncation occurred.
func TruncateAtWord(s string, limit int) (string, bool) {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s, false
	}

	cut := limit - 1 // one rune is kept for the ellipsis
	for cut > 0 && !isSpace(runes[cut]) {
		cut--
	}
	if cut == 0 {
		cut = limit - 1 // no whitespace found; hard cut
	}
	truncated := strings.TrimRight(string(runes[:cut]), " \t\n")
	return fmt.Sprintf("%s…", truncated), true
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n'
}
