package extract

import (
	"regexp"
	"strings"
)

var (
	editorialRe = regexp.MustCompile(`\[[a-zA-Z\s]+\]`)
	blankRunRe  = regexp.MustCompile(`\n{3,}`)

	// endSectionRe matches a MediaWiki heading line that starts the trailing
	// apparatus of an article.
	endSectionRe = regexp.MustCompile(`(?im)^[ \t]*=+[ \t]*(?:see also|references|external links|further reading|notes|citations)[ \t]*=+[ \t]*$`)
)

// Narrative cleans article plain text: citation and editorial markers are
// removed, everything from the first end-of-article heading on is dropped,
// and runs of blank lines are collapsed.
func Narrative(raw string) string {
	if raw == "" {
		return ""
	}

	text := citationRe.ReplaceAllString(raw, "")
	text = editorialRe.ReplaceAllString(text, "")

	if loc := endSectionRe.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}

	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
