// Package textnorm cleans inbound user text before it reaches the pipeline.
package textnorm

import (
	"regexp"
	"strings"
)

var spaceRun = regexp.MustCompile(`\s+`)

var markupStripper = strings.NewReplacer("<", "", ">", "")

// Normalize drops angle brackets that would break HTML rendering, then
// collapses every whitespace run into a single space and trims the ends.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	text = markupStripper.Replace(text)
	text = spaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
