package codec

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const prettyIndent = "  "

type nodeKind int

const (
	elementNode nodeKind = iota
	textNode
	commentNode
	procInstNode
)

// xmlNode is a minimal document tree. Names keep their original prefixes
// (saml:, samlp:) because the tree is built from raw tokens.
type xmlNode struct {
	kind     nodeKind
	name     string
	attrs    []xml.Attr
	text     string
	children []*xmlNode
}

// parseXML parses a document with exactly one root element. Whitespace-only
// text nodes are dropped; comments and processing instructions outside the
// root are ignored. DTDs are rejected.
func parseXML(s string) (*xmlNode, error) {
	d := xml.NewDecoder(strings.NewReader(s))
	d.Strict = true
	// The input is already decoded text; a declared charset must not be applied twice.
	d.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }

	var (
		root   *xmlNode
		stack  []*xmlNode
		scopes []*nsScope
	)
	for {
		tok, err := d.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &xmlNode{kind: elementNode, name: qualifiedName(t.Name)}
			var parent *nsScope
			if len(scopes) > 0 {
				parent = scopes[len(scopes)-1]
			}
			scope, err := newNSScope(parent, n.name, t.Attr)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineOf(d), err)
			}
			if !scope.declares(t.Name.Space) {
				return nil, fmt.Errorf("line %d: namespace prefix %q on <%s> is not declared", lineOf(d), t.Name.Space, n.name)
			}
			for _, a := range t.Attr {
				if a.Name.Space != "xmlns" && !scope.declares(a.Name.Space) {
					return nil, fmt.Errorf("line %d: namespace prefix %q on attribute %s is not declared", lineOf(d), a.Name.Space, qualifiedName(a.Name))
				}
			}
			n.attrs = append(n.attrs, t.Attr...)
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("line %d: multiple root elements (<%s> after <%s>)", lineOf(d), n.name, root.name)
				}
				root = n
			} else {
				top := stack[len(stack)-1]
				top.children = append(top.children, n)
			}
			stack = append(stack, n)
			scopes = append(scopes, scope)

		case xml.EndElement:
			name := qualifiedName(t.Name)
			if len(stack) == 0 {
				return nil, fmt.Errorf("line %d: unexpected end element </%s>", lineOf(d), name)
			}
			top := stack[len(stack)-1]
			if top.name != name {
				return nil, fmt.Errorf("line %d: end element </%s> does not match start element <%s>", lineOf(d), name, top.name)
			}
			stack = stack[:len(stack)-1]
			scopes = scopes[:len(scopes)-1]

		case xml.CharData:
			text := string(t)
			if len(stack) == 0 {
				if strings.TrimSpace(text) != "" {
					return nil, fmt.Errorf("line %d: text is not allowed outside the root element", lineOf(d))
				}
				continue
			}
			if strings.TrimSpace(text) == "" {
				continue
			}
			top := stack[len(stack)-1]
			if last := lastChild(top); last != nil && last.kind == textNode {
				last.text += text
				continue
			}
			top.children = append(top.children, &xmlNode{kind: textNode, text: text})

		case xml.Comment:
			if len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			top.children = append(top.children, &xmlNode{kind: commentNode, text: string(t)})

		case xml.ProcInst:
			if t.Target == "xml" || len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			top.children = append(top.children, &xmlNode{kind: procInstNode, name: t.Target, text: string(t.Inst)})

		case xml.Directive:
			return nil, fmt.Errorf("line %d: DTD is prohibited in this document", lineOf(d))
		}
	}

	if len(stack) > 0 {
		return nil, fmt.Errorf("unexpected end of document: element <%s> is not closed", stack[len(stack)-1].name)
	}
	if root == nil {
		return nil, errors.New("root element is missing")
	}
	return root, nil
}

// nsScope holds the prefixes declared on one element, chained to its parent.
type nsScope struct {
	prefixes map[string]bool
	parent   *nsScope
}

// newNSScope collects the xmlns:p declarations of an element and rejects
// repeated attribute names.
func newNSScope(parent *nsScope, element string, attrs []xml.Attr) (*nsScope, error) {
	scope := &nsScope{parent: parent}
	seen := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		qn := qualifiedName(a.Name)
		if seen[qn] {
			return nil, fmt.Errorf("duplicate attribute %s on <%s>", qn, element)
		}
		seen[qn] = true
		if a.Name.Space == "xmlns" {
			if scope.prefixes == nil {
				scope.prefixes = make(map[string]bool)
			}
			scope.prefixes[a.Name.Local] = true
		}
	}
	return scope, nil
}

// declares reports whether prefix is bound here or in an ancestor. The empty
// prefix and "xml" are always bound.
func (s *nsScope) declares(prefix string) bool {
	if prefix == "" || prefix == "xml" {
		return true
	}
	for ; s != nil; s = s.parent {
		if s.prefixes[prefix] {
			return true
		}
	}
	return false
}

func lineOf(d *xml.Decoder) int {
	line, _ := d.InputPos()
	return line
}

func lastChild(n *xmlNode) *xmlNode {
	if len(n.children) == 0 {
		return nil
	}
	return n.children[len(n.children)-1]
}

func qualifiedName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

// compactXML serializes without declaration, indentation or line breaks.
func compactXML(root *xmlNode) string {
	var b strings.Builder
	writeNode(&b, root, 0, false)
	return b.String()
}

// prettyXML serializes with two-space indentation and every attribute on its
// own line. Indentation is suspended inside elements with mixed content.
func prettyXML(root *xmlNode) string {
	var b strings.Builder
	writeNode(&b, root, 0, true)
	return b.String()
}

func writeNode(b *strings.Builder, n *xmlNode, depth int, indent bool) {
	switch n.kind {
	case textNode:
		writeEscapedText(b, n.text)
	case commentNode:
		b.WriteString("<!--")
		b.WriteString(n.text)
		b.WriteString("-->")
	case procInstNode:
		b.WriteString("<?")
		b.WriteString(n.name)
		if n.text != "" {
			b.WriteByte(' ')
			b.WriteString(n.text)
		}
		b.WriteString("?>")
	case elementNode:
		writeElement(b, n, depth, indent)
	}
}

func writeElement(b *strings.Builder, n *xmlNode, depth int, indent bool) {
	b.WriteByte('<')
	b.WriteString(n.name)
	for _, a := range n.attrs {
		if indent {
			b.WriteByte('\n')
			b.WriteString(strings.Repeat(prettyIndent, depth+1))
		} else {
			b.WriteByte(' ')
		}
		b.WriteString(qualifiedName(a.Name))
		b.WriteString(`="`)
		writeEscapedAttr(b, a.Value)
		b.WriteByte('"')
	}
	if len(n.children) == 0 {
		b.WriteString(" />")
		return
	}
	b.WriteByte('>')

	childIndent := indent && !hasText(n)
	for _, c := range n.children {
		if childIndent {
			b.WriteByte('\n')
			b.WriteString(strings.Repeat(prettyIndent, depth+1))
		}
		writeNode(b, c, depth+1, childIndent)
	}
	if childIndent {
		b.WriteByte('\n')
		b.WriteString(strings.Repeat(prettyIndent, depth))
	}
	b.WriteString("</")
	b.WriteString(n.name)
	b.WriteByte('>')
}

func hasText(n *xmlNode) bool {
	for _, c := range n.children {
		if c.kind == textNode {
			return true
		}
	}
	return false
}

func writeEscapedText(b *strings.Builder, s string) {
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '\r':
			b.WriteString("&#xD;")
		default:
			b.WriteRune(r)
		}
	}
}

func writeEscapedAttr(b *strings.Builder, s string) {
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		case '\t':
			b.WriteString("&#x9;")
		case '\n':
			b.WriteString("&#xA;")
		case '\r':
			b.WriteString("&#xD;")
		default:
			b.WriteRune(r)
		}
	}
}
