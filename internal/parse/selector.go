package parse

import (
	"strings"

	"golang.org/x/net/html"
)

// The parser only needs a small slice of CSS: tag, #id, .class chains,
// [attr] / [attr=val], and the descendant combinator. Selectors are
// compiled once at package init, not per parse.

type simpleSelector struct {
	tag     string
	id      string
	classes []string
	attrKey string
	attrVal string
}

type selector []simpleSelector // descendant chain

func compileSelector(expr string) selector {
	parts := strings.Fields(expr)
	out := make(selector, 0, len(parts))
	for _, p := range parts {
		out = append(out, compileSimple(p))
	}
	return out
}

func compileSimple(expr string) simpleSelector {
	var s simpleSelector

	if idx := strings.IndexByte(expr, '['); idx >= 0 {
		attr := strings.TrimRight(expr[idx+1:], "]")
		expr = expr[:idx]
		if eq := strings.IndexByte(attr, '='); eq >= 0 {
			s.attrKey = attr[:eq]
			s.attrVal = strings.Trim(attr[eq+1:], `"'`)
		} else {
			s.attrKey = attr
		}
	}

	// The leading token (possibly empty) is the tag; then .class and #id
	// tokens alternate.
	i := strings.IndexAny(expr, ".#")
	if i < 0 {
		s.tag = expr
		return s
	}
	s.tag = expr[:i]
	rest := expr[i:]
	for rest != "" {
		marker := rest[0]
		rest = rest[1:]
		var token string
		if j := strings.IndexAny(rest, ".#"); j >= 0 {
			token, rest = rest[:j], rest[j:]
		} else {
			token, rest = rest, ""
		}
		if token == "" {
			continue
		}
		if marker == '.' {
			s.classes = append(s.classes, token)
		} else {
			s.id = token
		}
	}
	return s
}

func (s simpleSelector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.id != "" && attr(n, "id") != s.id {
		return false
	}
	if len(s.classes) > 0 {
		have := strings.Fields(attr(n, "class"))
		for _, want := range s.classes {
			found := false
			for _, c := range have {
				if c == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	if s.attrKey != "" {
		val, ok := lookupAttr(n, s.attrKey)
		if !ok {
			return false
		}
		if s.attrVal != "" && val != s.attrVal {
			return false
		}
	}
	return true
}

// selectAll returns all nodes under root matching the descendant chain.
func selectAll(root *html.Node, sel selector) []*html.Node {
	if len(sel) == 0 {
		return nil
	}
	matches := matchDescendants(root, sel[0])
	for _, step := range sel[1:] {
		var next []*html.Node
		for _, m := range matches {
			next = append(next, matchDescendants(m, step)...)
		}
		matches = next
	}
	return matches
}

func matchDescendants(root *html.Node, s simpleSelector) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if s.matches(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

// selectFirst returns the first match in document order, or nil.
func selectFirst(root *html.Node, sel selector) *html.Node {
	matches := selectAll(root, sel)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// textContent collects and squashes all text under a node.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
