package browser

import (
	"strings"

	"golang.org/x/net/html"
)

var skipText = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"head":     true,
}

// VisibleText extracts the non-empty text lines of an HTML document in
// document order, skipping script and style content. limit <= 0 keeps all.
func VisibleText(doc string, limit int) ([]string, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil, err
	}

	var lines []string
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && skipText[n.Data] {
			return true
		}
		if n.Type == html.TextNode {
			if text := NormalizeSpace(n.Data); text != "" {
				lines = append(lines, text)
				if limit > 0 && len(lines) >= limit {
					return false
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(root)
	return lines, nil
}
