// Package transcript cleans raw ASR output before refinement and injection.
package transcript

import "strings"

// Normalize trims the transcript, collapses runs of whitespace into single
// spaces, and removes stray spaces before punctuation. Whisper output often
// carries a leading space per segment and the occasional " ," artifact.
func Normalize(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return ""
	}
	text := strings.Join(fields, " ")

	var b strings.Builder
	b.Grow(len(text))
	for i, r := range text {
		if r == ' ' && i+1 < len(text) && isPunct(text[i+1]) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isPunct(c byte) bool {
	switch c {
	case ',', '.', '!', '?', ';', ':':
		return true
	}
	return false
}
