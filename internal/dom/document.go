// Package dom holds the document tree a page load renders into.
//
// A Document is safe for concurrent use: panels fetch and write
// independently, so every read and write takes the document lock. Writes
// that target an element which no longer exists, or a document that has been
// closed, fail with ErrMissing or ErrClosed instead of silently recreating
// the element. That is the stale-write guard late responses rely on.
package dom

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	// ErrMissing is returned when the target element is not in the document.
	ErrMissing = errors.New("dom: element not found")
	// ErrClosed is returned for writes into a document whose page load ended.
	ErrClosed = errors.New("dom: document closed")
)

// Document is a mutable HTML tree addressed by element id.
type Document struct {
	mu     sync.RWMutex
	root   *html.Node
	closed bool
}

// Parse builds a Document from a full HTML page.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Close detaches the document. Reads keep working; writes fail with ErrClosed.
func (d *Document) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Closed reports whether Close has been called.
func (d *Document) Closed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

// Has reports whether an element with the given id exists.
func (d *Document) Has(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return findByID(d.root, id) != nil
}

// Count returns how many elements carry the given id. A well-formed
// document has at most one.
func (d *Document) Count(id string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	walk(d.root, func(node *html.Node) bool {
		if node.Type == html.ElementNode && getAttr(node, "id") == id {
			n++
		}
		return true
	})
	return n
}

// IDsWithAttr returns the ids of all elements carrying attribute key with
// value val, in document order.
func (d *Document) IDsWithAttr(key, val string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var ids []string
	walk(d.root, func(node *html.Node) bool {
		if node.Type != html.ElementNode {
			return true
		}
		if v, ok := lookupAttr(node, key); ok && v == val {
			ids = append(ids, getAttr(node, "id"))
		}
		return true
	})
	return ids
}

// Attr returns the value of attribute key on element id.
func (d *Document) Attr(id, key string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := findByID(d.root, id)
	if n == nil {
		return "", false
	}
	return lookupAttr(n, key)
}

// Text returns the concatenated text content of element id.
func (d *Document) Text(id string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := findByID(d.root, id)
	if n == nil {
		return "", false
	}
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String(), true
}

// HTML returns the rendered inner HTML of element id.
func (d *Document) HTML(id string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := findByID(d.root, id)
	if n == nil {
		return "", false
	}
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", false
		}
	}
	return buf.String(), true
}

// OuterHTML returns the rendered element id including its own tag.
func (d *Document) OuterHTML(id string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := findByID(d.root, id)
	if n == nil {
		return "", false
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", false
	}
	return buf.String(), true
}

// HasClass reports whether element id carries the CSS class.
func (d *Document) HasClass(id, class string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := findByID(d.root, id)
	if n == nil {
		return false
	}
	for _, c := range strings.Fields(getAttr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

// SetText replaces the children of element id with a single text node.
func (d *Document) SetText(id, text string) error {
	return d.mutate(id, func(n *html.Node) error {
		removeChildren(n)
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
		return nil
	})
}

// SetHTML replaces the children of element id with the parsed fragment.
func (d *Document) SetHTML(id, fragment string) error {
	return d.mutate(id, func(n *html.Node) error {
		nodes, err := html.ParseFragment(strings.NewReader(fragment), n)
		if err != nil {
			return fmt.Errorf("parsing fragment for #%s: %w", id, err)
		}
		removeChildren(n)
		for _, c := range nodes {
			n.AppendChild(c)
		}
		return nil
	})
}

// PrependHTML inserts the parsed fragment before the first child of element id.
func (d *Document) PrependHTML(id, fragment string) error {
	return d.mutate(id, func(n *html.Node) error {
		nodes, err := html.ParseFragment(strings.NewReader(fragment), n)
		if err != nil {
			return fmt.Errorf("parsing fragment for #%s: %w", id, err)
		}
		first := n.FirstChild
		for _, c := range nodes {
			if first == nil {
				n.AppendChild(c)
			} else {
				n.InsertBefore(c, first)
			}
		}
		return nil
	})
}

// AppendBody appends the parsed fragment to the document body.
func (d *Document) AppendBody(fragment string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	body := findByAtom(d.root, atom.Body)
	if body == nil {
		return fmt.Errorf("%w: body", ErrMissing)
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return fmt.Errorf("parsing body fragment: %w", err)
	}
	for _, c := range nodes {
		body.AppendChild(c)
	}
	return nil
}

// Remove detaches element id from the tree.
func (d *Document) Remove(id string) error {
	return d.mutate(id, func(n *html.Node) error {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
		return nil
	})
}

// SetAttr sets attribute key on element id.
func (d *Document) SetAttr(id, key, val string) error {
	return d.mutate(id, func(n *html.Node) error {
		setAttr(n, key, val)
		return nil
	})
}

// RemoveAttr deletes attribute key from element id.
func (d *Document) RemoveAttr(id, key string) error {
	return d.mutate(id, func(n *html.Node) error {
		removeAttr(n, key)
		return nil
	})
}

// AddClass adds a CSS class to element id.
func (d *Document) AddClass(id, class string) error {
	return d.mutate(id, func(n *html.Node) error {
		classes := strings.Fields(getAttr(n, "class"))
		for _, c := range classes {
			if c == class {
				return nil
			}
		}
		setAttr(n, "class", strings.Join(append(classes, class), " "))
		return nil
	})
}

// RemoveClass removes a CSS class from element id.
func (d *Document) RemoveClass(id, class string) error {
	return d.mutate(id, func(n *html.Node) error {
		classes := strings.Fields(getAttr(n, "class"))
		kept := classes[:0]
		for _, c := range classes {
			if c != class {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			removeAttr(n, "class")
		} else {
			setAttr(n, "class", strings.Join(kept, " "))
		}
		return nil
	})
}

// SetBodyAttr sets an attribute on the body element.
func (d *Document) SetBodyAttr(key, val string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	body := findByAtom(d.root, atom.Body)
	if body == nil {
		return fmt.Errorf("%w: body", ErrMissing)
	}
	setAttr(body, key, val)
	return nil
}

// RemoveBodyAttr deletes an attribute from the body element.
func (d *Document) RemoveBodyAttr(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	body := findByAtom(d.root, atom.Body)
	if body == nil {
		return fmt.Errorf("%w: body", ErrMissing)
	}
	removeAttr(body, key)
	return nil
}

// BodyAttr reads an attribute of the body element.
func (d *Document) BodyAttr(key string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	body := findByAtom(d.root, atom.Body)
	if body == nil {
		return "", false
	}
	return lookupAttr(body, key)
}

// Render writes the whole document as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return html.Render(w, d.root)
}

// String renders the document to a string.
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

func (d *Document) mutate(id string, fn func(*html.Node) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	n := findByID(d.root, id)
	if n == nil {
		return fmt.Errorf("%w: #%s", ErrMissing, id)
	}
	return fn(n)
}

// walk visits n and its descendants depth-first until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func findByID(root *html.Node, id string) *html.Node {
	if id == "" {
		return nil
	}
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && getAttr(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	return found
}

func findByAtom(root *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == a {
			found = n
			return false
		}
		return true
	})
	return found
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func getAttr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}
