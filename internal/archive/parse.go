package archive

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Manifest is a parsed chat.html. Its blocks keep pointers into the
// document so repair can edit them in place.
type Manifest struct {
	doc    *html.Node
	Blocks []*ParsedBlock
}

// ParsedBlock is one message block read back from a manifest.
type ParsedBlock struct {
	node *html.Node
}

// ParseManifest reads a manifest. A file without the closing footer, as
// left by an interrupted export, parses the same.
func ParseManifest(r io.Reader) (*Manifest, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	m := &Manifest{doc: doc}
	walk(doc, func(n *html.Node) bool {
		if isElement(n, atom.Div) && hasClass(n, classMessage) {
			m.Blocks = append(m.Blocks, &ParsedBlock{node: n})
			return false
		}
		return true
	})
	return m, nil
}

// Render writes the (possibly edited) document back.
func (m *Manifest) Render(w io.Writer) error {
	return html.Render(w, m.doc)
}

// Bytes renders the document into memory.
func (m *Manifest) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Text returns the message text with line breaks restored. Buttons that
// ended up inside the content are ignored.
func (b *ParsedBlock) Text() string {
	content := findFirst(b.node, func(n *html.Node) bool {
		return isElement(n, atom.Div) && hasClass(n, classContent)
	})
	if content == nil {
		return ""
	}

	var sb strings.Builder
	walk(content, func(n *html.Node) bool {
		switch {
		case isElement(n, atom.A) && hasClass(n, classButton):
			return false
		case isElement(n, atom.Br):
			sb.WriteByte('\n')
		case n.Type == html.TextNode:
			sb.WriteString(n.Data)
		}
		return true
	})
	return strings.TrimSpace(sb.String())
}

// Sender returns the author line.
func (b *ParsedBlock) Sender() string {
	n := findFirst(b.node, func(n *html.Node) bool {
		return isElement(n, atom.Div) && hasClass(n, classSender)
	})
	if n == nil {
		return ""
	}
	return strings.TrimSpace(textOf(n))
}

// Out reports whether the block was rendered as an outgoing message.
func (b *ParsedBlock) Out() bool {
	return hasClass(b.node, classSent)
}

// MediaPath returns the media/ relative link of the block, if any.
func (b *ParsedBlock) MediaPath() string {
	if a := b.mediaLink(); a != nil {
		return attr(a, "href")
	}
	return ""
}

// Missing reports whether the block carries the missing-media marker.
func (b *ParsedBlock) Missing() bool {
	return b.missingMarker() != nil
}

// HasPreview reports an inline image preview from media/.
func (b *ParsedBlock) HasPreview() bool {
	return findFirst(b.node, func(n *html.Node) bool {
		return isElement(n, atom.Img) && strings.HasPrefix(attr(n, "src"), mediaPrefix)
	}) != nil
}

func (b *ParsedBlock) mediaLink() *html.Node {
	return findFirst(b.node, func(n *html.Node) bool {
		return isElement(n, atom.A) && strings.HasPrefix(attr(n, "href"), mediaPrefix)
	})
}

// missingMarker is a button without a target.
func (b *ParsedBlock) missingMarker() *html.Node {
	return findFirst(b.node, func(n *html.Node) bool {
		return isElement(n, atom.A) && hasClass(n, classButton) && !hasAttr(n, "href")
	})
}

func (b *ParsedBlock) timestamp() *html.Node {
	return findFirst(b.node, func(n *html.Node) bool {
		return isElement(n, atom.Div) && hasClass(n, classTimestamp)
	})
}

// walk visits n and its descendants depth first; fn returning false
// skips the children of that node.
func walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findFirst(n *html.Node, pred func(*html.Node) bool) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) bool {
		if found != nil {
			return false
		}
		if pred(c) {
			found = c
			return false
		}
		return true
	})
	return found
}

func isElement(n *html.Node, a atom.Atom) bool {
	return n.Type == html.ElementNode && n.DataAtom == a
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		return true
	})
	return sb.String()
}

func setText(n *html.Node, s string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(text(s))
}
