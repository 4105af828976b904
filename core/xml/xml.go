// Package xml provides a namespace-aware XML document tree and XPath access
// on top of xmlquery.
//
// Security Notes:
//   - XXE (External Entity) attacks are mitigated because xmlquery parses with
//     Go's encoding/xml, which never fetches external entities.
package xml

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/FocuswithJustin/n42kit/core/errors"
)

// Document represents a parsed XML document.
type Document struct {
	root *xmlquery.Node
}

// Node represents an XML element.
type Node struct {
	node *xmlquery.Node
}

// Parse parses XML data and returns a Document.
func Parse(data []byte) (*Document, error) {
	root, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, &errors.ParseError{Format: "XML", Message: err.Error(), Err: err}
	}
	return &Document{root: root}, nil
}

// Root returns the root element of the document.
func (d *Document) Root() *Node {
	if d.root == nil {
		return nil
	}
	for child := d.root.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			return &Node{node: child}
		}
	}
	return nil
}

// XPath executes an XPath query and returns matching element nodes.
func (d *Document) XPath(expr string) ([]*Node, error) {
	if _, err := xpath.Compile(expr); err != nil {
		return nil, fmt.Errorf("invalid xpath: %w", err)
	}

	nodes, err := xmlquery.QueryAll(d.root, expr)
	if err != nil {
		return nil, fmt.Errorf("xpath query failed: %w", err)
	}

	result := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Type == xmlquery.ElementNode {
			result = append(result, &Node{node: n})
		}
	}
	return result, nil
}

// Evaluate runs a compiled expression against the document and returns its
// value: float64 for numeric expressions, bool, string, or a node iterator.
func (d *Document) Evaluate(expr *xpath.Expr) interface{} {
	return expr.Evaluate(xmlquery.CreateXPathNavigator(d.root))
}

// Count evaluates a compiled expression that yields a number, typically
// count(...), and returns it as an int.
func (d *Document) Count(expr *xpath.Expr) (int, error) {
	switch v := d.Evaluate(expr).(type) {
	case float64:
		return int(v), nil
	case *xpath.NodeIterator:
		n := 0
		for v.MoveNext() {
			n++
		}
		return n, nil
	default:
		return 0, fmt.Errorf("xpath %q is not numeric", expr.String())
	}
}

// LocalName returns the element name without prefix.
func (n *Node) LocalName() string {
	if n.node == nil {
		return ""
	}
	return n.node.Data
}

// Namespace returns the resolved namespace URI of the element.
func (n *Node) Namespace() string {
	if n.node == nil {
		return ""
	}
	return n.node.NamespaceURI
}

// Is reports whether the element has the given namespace and local name.
func (n *Node) Is(namespace, local string) bool {
	return n.node != nil && n.node.Data == local && n.node.NamespaceURI == namespace
}

// QualifiedName returns "{namespace}local", the Clark notation.
func (n *Node) QualifiedName() string {
	if n.Namespace() == "" {
		return n.LocalName()
	}
	return "{" + n.Namespace() + "}" + n.LocalName()
}

// Text returns the text content of the node and its descendants.
func (n *Node) Text() string {
	if n.node == nil {
		return ""
	}
	return n.node.InnerText()
}

// TrimmedText returns Text with surrounding whitespace removed.
func (n *Node) TrimmedText() string {
	return strings.TrimSpace(n.Text())
}

// Children returns the child element nodes.
func (n *Node) Children() []*Node {
	if n.node == nil {
		return nil
	}

	var children []*Node
	for child := n.node.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			children = append(children, &Node{node: child})
		}
	}
	return children
}

// ChildrenNamed returns the direct child elements with the given namespace
// and local name, in document order.
func (n *Node) ChildrenNamed(namespace, local string) []*Node {
	if n.node == nil {
		return nil
	}

	var children []*Node
	for child := n.node.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode && child.Data == local && child.NamespaceURI == namespace {
			children = append(children, &Node{node: child})
		}
	}
	return children
}

// Attributes returns all unprefixed attributes of the node.
func (n *Node) Attributes() map[string]string {
	if n.node == nil {
		return nil
	}

	attrs := make(map[string]string)
	for _, attr := range n.node.Attr {
		if attr.Name.Space == "" && attr.Name.Local != "xmlns" {
			attrs[attr.Name.Local] = attr.Value
		}
	}
	return attrs
}

// Attr returns the value of a specific attribute.
func (n *Node) Attr(name string) string {
	if n.node == nil {
		return ""
	}
	return n.node.SelectAttr(name)
}

// HasAttr reports whether the attribute is present, even if empty.
func (n *Node) HasAttr(name string) bool {
	if n.node == nil {
		return false
	}
	for _, attr := range n.node.Attr {
		if attr.Name.Local == name && attr.Name.Space == "" {
			return true
		}
	}
	return false
}
