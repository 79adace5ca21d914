// Package fname sanitizes remote-service-supplied filenames before they
// touch the local filesystem (spec §5.6). No library in the retrieved
// pack covers this narrow a concern (reserved Windows device names, path
// separators embedded in attacker-controlled strings), so it is built on
// the standard library alone, as DESIGN.md's ambient-stack table records.
package fname

import (
	"regexp"
	"strings"
	"unicode"
)

// DefaultNamingPattern is used when the config file specifies none (spec
// §6 "file-naming pattern").
const DefaultNamingPattern = "{date}_{id}_{channel}_{filename}"

var namingPlaceholderRe = regexp.MustCompile(`\{\w+\}`)

var reservedWindowsNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

const fallbackName = "file"

// Sanitize strips path separators and control characters, rewrites
// reserved Windows device names, and truncates to limit runes on a rune
// boundary. Returns fallbackName if name is empty or sanitizes to empty.
func Sanitize(name string, limit int) string {
	name = stripPath(name)

	var b strings.Builder
	for _, r := range name {
		if unicode.IsControl(r) || isForbidden(r) {
			continue
		}
		b.WriteRune(r)
	}
	cleaned := strings.TrimSpace(b.String())
	if cleaned == "" {
		cleaned = fallbackName
	}

	if base := strings.ToUpper(stripExt(cleaned)); reservedWindowsNames[base] {
		cleaned = "_" + cleaned
	}

	if limit > 0 {
		cleaned = truncateRunes(cleaned, limit)
	}
	return cleaned
}

// BuildName renders pattern's {date}/{id}/{channel}/{filename} placeholders,
// reattaches original's extension, and sanitizes the result to limit runes
// (spec §4.6 "{source-date}_{message-id}_{channel-name}_{original-filename}.{ext}").
func BuildName(pattern, date, id, channel, original string, limit int) string {
	vars := map[string]string{
		"date":     date,
		"id":       id,
		"channel":  channel,
		"filename": stripExt(original),
	}
	rendered := namingPlaceholderRe.ReplaceAllStringFunc(pattern, func(token string) string {
		return vars[token[1:len(token)-1]]
	})
	return Sanitize(rendered+extOf(original), limit)
}

func extOf(name string) string {
	if idx := strings.LastIndex(name, "."); idx > 0 {
		return name[idx:]
	}
	return ""
}

func stripPath(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

func isForbidden(r rune) bool {
	switch r {
	case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
		return true
	default:
		return false
	}
}

func stripExt(name string) string {
	if idx := strings.LastIndex(name, "."); idx > 0 {
		return name[:idx]
	}
	return name
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
