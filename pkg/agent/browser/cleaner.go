package browser

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// cleanedPage is page HTML reduced to the parts useful to a language model.
type cleanedPage struct {
	HTML        string
	Title       string
	Description string
	Truncated   bool
}

var (
	// Removed entirely, children included.
	skippedElements = set("script", "style", "noscript", "iframe", "embed", "object", "svg", "template", "head")

	// Start on their own line so the cleaned markup stays readable.
	blockElements = set("div", "p", "section", "article", "header", "footer", "nav", "main", "aside",
		"h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "li", "table", "tr", "td", "th",
		"form", "fieldset", "blockquote", "pre", "dl", "dt", "dd", "figure")

	voidElements = set("area", "base", "br", "col", "embed", "hr", "img", "input", "link", "meta",
		"param", "source", "track", "wbr")

	globalAttributes = set("id", "class", "role", "aria-label", "aria-describedby", "itemprop")

	tagAttributes = map[string]map[string]bool{
		"a":        set("href", "title"),
		"img":      set("src", "alt"),
		"input":    set("name", "type", "placeholder", "value"),
		"textarea": set("name", "placeholder"),
		"select":   set("name"),
		"option":   set("value", "selected"),
		"button":   set("type", "name"),
		"form":     set("action", "method"),
		"time":     set("datetime"),
		"meta":     set(),
	}
)

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// cleanHTML strips scripts, styles and presentational attributes from
// rawHTML, keeping semantic structure. Output stops after maxLength
// characters of text and tags.
func cleanHTML(rawHTML string, maxLength int) (*cleanedPage, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	c := &cleaner{max: maxLength}
	c.walk(doc, 0)

	return &cleanedPage{
		HTML:        strings.TrimSpace(c.out.String()),
		Title:       findTitle(doc),
		Description: findMetaDescription(doc),
		Truncated:   c.truncated,
	}, nil
}

type cleaner struct {
	out       strings.Builder
	written   int
	max       int
	truncated bool
}

func (c *cleaner) full() bool {
	if c.max > 0 && c.written >= c.max {
		c.truncated = true
	}
	return c.truncated
}

func (c *cleaner) walk(n *html.Node, depth int) {
	if c.full() {
		return
	}

	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return
	case html.TextNode:
		c.text(n.Data)
		return
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if skippedElements[tag] {
			return
		}
		c.element(n, tag, depth)
		return
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.walk(child, depth)
	}
}

func (c *cleaner) text(data string) {
	text := strings.Join(strings.Fields(data), " ")
	if text == "" {
		return
	}
	if c.max > 0 && c.written+len(text) > c.max {
		text = text[:c.max-c.written] + "..."
		c.truncated = true
	}
	c.out.WriteString(text)
	c.written += len(text)
}

func (c *cleaner) element(n *html.Node, tag string, depth int) {
	block := blockElements[tag]
	if block && depth > 0 {
		c.out.WriteString("\n")
		c.out.WriteString(strings.Repeat("  ", depth))
	}

	c.out.WriteString("<" + tag)
	for _, attr := range n.Attr {
		if keepAttribute(tag, attr.Key) {
			fmt.Fprintf(&c.out, ` %s="%s"`, attr.Key, html.EscapeString(attr.Val))
		}
	}
	c.out.WriteString(">")
	c.written += len(tag) + 2

	if voidElements[tag] {
		return
	}

	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.walk(child, depth+1)
	}

	if block {
		c.out.WriteString("\n")
		c.out.WriteString(strings.Repeat("  ", depth))
	}
	c.out.WriteString("</" + tag + ">")
	c.written += len(tag) + 3
}

func keepAttribute(tag, attr string) bool {
	attr = strings.ToLower(attr)
	if globalAttributes[attr] || strings.HasPrefix(attr, "data-") {
		return true
	}
	return tagAttributes[tag][attr]
}

// findElement returns the first element for which match is true.
func findElement(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findTitle(doc *html.Node) string {
	n := findElement(doc, func(n *html.Node) bool { return n.Data == "title" })
	if n == nil || n.FirstChild == nil || n.FirstChild.Type != html.TextNode {
		return ""
	}
	return strings.TrimSpace(n.FirstChild.Data)
}

func findMetaDescription(doc *html.Node) string {
	n := findElement(doc, func(n *html.Node) bool {
		return n.Data == "meta" && attr(n, "name") == "description" && attr(n, "content") != ""
	})
	if n == nil {
		return ""
	}
	return strings.TrimSpace(attr(n, "content"))
}
