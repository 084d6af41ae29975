// Package excerpt turns the HTML body of a self post into a short plain-text
// teaser for the dashboard.
package excerpt

import (
	"strings"
	"unicode"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// DefaultLength is the excerpt length in runes used by the connectors.
const DefaultLength = 280

// FromHTML extracts readable text from an HTML document or fragment and
// truncates it to at most max runes at a word boundary. An empty input
// yields an empty excerpt.
func FromHTML(doc string, max int) string {
	if strings.TrimSpace(doc) == "" {
		return ""
	}
	if max <= 0 {
		max = DefaultLength
	}

	text := ""
	article, err := readability.FromReader(strings.NewReader(doc), nil)
	if err == nil {
		text = collapse(article.TextContent)
	}
	if text == "" {
		text = collapse(PlainText(doc))
	}
	return Truncate(text, max)
}

// PlainText strips tags from an HTML fragment, keeping text nodes and
// turning block boundaries into spaces. Script and style contents are dropped.
func PlainText(fragment string) string {
	z := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or a tokenizer error; either way keep what was read.
			return b.String()
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "p", "br", "div", "li", "pre":
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			case "p", "div", "li", "pre":
				b.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

// Truncate shortens s to at most max runes, cutting at the last space when
// one is available and appending an ellipsis.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:max-1])
	if i := strings.LastIndexFunc(cut, unicode.IsSpace); i > max/2 {
		cut = cut[:i]
	}
	return strings.TrimRightFunc(cut, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}) + "…"
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
