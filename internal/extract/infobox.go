// Package extract turns rendered source pages into identity cards and
// cleaned narrative text.
package extract

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"

	"github.com/sells-group/profile-resolver/internal/model"
)

// infoClasses are the class markers of a structured info region. The first
// table carrying any of them is used.
var infoClasses = []string{"infobox", "vcard"}

var (
	citationRe   = regexp.MustCompile(`\[\d+\]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// IdentityCard extracts the header -> data rows of the first info table in
// doc. A page without an info table yields an empty card and no error.
func IdentityCard(doc string) (model.IdentityCard, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse html")
	}

	card := make(model.IdentityCard)
	table := findFirst(root, isInfoTable)
	if table == nil {
		return card, nil
	}

	for _, row := range findAll(table, isElement("tr")) {
		header := findFirst(row, isElement("th"))
		data := findFirst(row, isElement("td"))
		if header == nil || data == nil {
			continue
		}

		key := normalize(textOf(header))
		value := normalize(citationRe.ReplaceAllString(textOf(data), ""))
		if key == "" || value == "" {
			continue
		}
		if _, dup := card[key]; dup {
			continue
		}
		card[key] = value
	}
	return card, nil
}

// normalize replaces non-breaking spaces, collapses whitespace runs and trims.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func isInfoTable(n *html.Node) bool {
	if n.Type != html.ElementNode || n.Data != "table" {
		return false
	}
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, cls := range strings.Fields(a.Val) {
			for _, want := range infoClasses {
				if cls == want {
					return true
				}
			}
		}
	}
	return false
}

func isElement(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == tag
	}
}

// findFirst returns the first descendant of n (depth-first, document order)
// matching pred.
func findFirst(n *html.Node, pred func(*html.Node) bool) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if pred(c) {
			return c
		}
		if found := findFirst(c, pred); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if pred(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

// textOf joins the trimmed text segments under n with single spaces.
// Style and script bodies are skipped.
func textOf(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			if t := strings.TrimSpace(node.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case html.ElementNode:
			if node.Data == "style" || node.Data == "script" {
				return
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}
