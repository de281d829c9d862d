package extract

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// skippedElements never contribute visible text.
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"head":     true,
	"iframe":   true,
	"svg":      true,
}

// blockElements start a new line in the reconstructed text, approximating
// how the browser lays the document out.
var blockElements = map[string]bool{
	"div": true, "p": true, "li": true, "ul": true, "ol": true,
	"section": true, "article": true, "header": true, "footer": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"tr": true, "table": true, "br": true,
}

// visibleText reconstructs line-oriented visible text from raw HTML, for
// when the live page can no longer answer an inner-text query.
func visibleText(rawHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	var builder strings.Builder
	collectText(doc, &builder)

	// Collapse runs of blank lines left by empty blocks.
	var lines []string
	for _, line := range strings.Split(builder.String(), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func collectText(n *html.Node, builder *strings.Builder) {
	if n.Type == html.CommentNode {
		return
	}
	if n.Type == html.ElementNode {
		name := strings.ToLower(n.Data)
		if skippedElements[name] {
			return
		}
		if blockElements[name] {
			builder.WriteByte('\n')
		}
	}
	if n.Type == html.TextNode {
		text := strings.TrimSpace(n.Data)
		if text != "" {
			builder.WriteString(text)
		}
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, builder)
	}

	if n.Type == html.ElementNode && blockElements[strings.ToLower(n.Data)] {
		builder.WriteByte('\n')
	}
}
