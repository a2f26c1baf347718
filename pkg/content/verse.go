package content

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var errEmptyHTML = errors.New("empty HTML content")

// HTMLFromText renders plain verse as HTML: the text is escaped and every
// line break (CRLF or LF) becomes <br/>.
func HTMLFromText(text string) string {
	escaped := html.EscapeString(text)
	escaped = strings.ReplaceAll(escaped, "\r\n", "<br/>")
	return strings.ReplaceAll(escaped, "\n", "<br/>")
}

// TextFromHTML recovers plain verse from an htmlText rendering.
//
// Two layouts are understood:
//   - couplet markup (div.b holding div.m1 and div.m2 hemistichs), one
//     hemistich per line
//   - anything else, where <br> and block elements separate lines
//
// Blank lines are dropped.
func TextFromHTML(htmlContent string) (string, error) {
	if strings.TrimSpace(htmlContent) == "" {
		return "", errEmptyHTML
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	if couplets := doc.Find("div.b"); couplets.Length() > 0 {
		var lines []string
		couplets.Each(func(_ int, s *goquery.Selection) {
			s.Find(".m1, .m2").Each(func(_ int, h *goquery.Selection) {
				if line := strings.TrimSpace(h.Text()); line != "" {
					lines = append(lines, line)
				}
			})
		})
		if len(lines) > 0 {
			return strings.Join(lines, "\n"), nil
		}
	}

	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	return joinLines(doc.Text()), nil
}

func joinLines(raw string) string {
	parts := strings.Split(raw, "\n")
	lines := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n")
}

// ExtractTitle returns the first heading or <title> in htmlContent, or "".
func ExtractTitle(htmlContent string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return ""
	}
	for _, sel := range []string{"h1", "h2", "title"} {
		if title := strings.TrimSpace(doc.Find(sel).First().Text()); title != "" {
			return title
		}
	}
	return ""
}
