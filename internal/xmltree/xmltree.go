// Package xmltree parses XML documents into an order-preserving element tree
// and serializes them back.
//
// The tree keeps attribute order, child order, and inter-element whitespace
// (as element text and tails), so documents survive a parse/edit/serialize
// cycle with their original formatting intact wherever they were not edited.
// Comments and processing instructions are discarded.
package xmltree

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Attr is a single element attribute.
type Attr struct {
	Key   string
	Value string
}

// Element is one node of the document tree. Text holds character data between
// the start tag and the first child; Tail holds character data between this
// element's end tag and the next sibling.
type Element struct {
	Name     string
	Attrs    []Attr
	Children []*Element
	Text     string
	Tail     string
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parse decodes data into an element tree. A leading UTF-8 byte order mark is
// tolerated. Character data outside the root element is dropped.
func Parse(data []byte) (*Element, error) {
	decoder := xml.NewDecoder(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))

	var (
		root  *Element
		stack []*Element
		ns    nsStack
	)

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			ns.push(t.Attr)
			elem := &Element{
				Name:  ns.elementName(t.Name),
				Attrs: ns.attrs(t.Attr),
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("parse xml: multiple root elements")
				}
				root = elem
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, elem)
			}
			stack = append(stack, elem)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
			ns.pop()
		case xml.CharData:
			if len(stack) == 0 {
				continue
			}
			current := stack[len(stack)-1]
			if len(current.Children) == 0 {
				current.Text += string(t)
			} else {
				last := current.Children[len(current.Children)-1]
				last.Tail += string(t)
			}
		}
	}

	if root == nil {
		return nil, errors.New("parse xml: no root element")
	}
	return root, nil
}

// Marshal serializes the tree with a standard XML declaration. Empty elements
// are written self-closing.
func Marshal(root *Element) []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	writeElement(&buf, root)
	return buf.Bytes()
}

func writeElement(buf *bytes.Buffer, e *Element) {
	buf.WriteByte('<')
	buf.WriteString(e.Name)
	for _, attr := range e.Attrs {
		buf.WriteByte(' ')
		buf.WriteString(attr.Key)
		buf.WriteString(`="`)
		buf.WriteString(escapeAttr(attr.Value))
		buf.WriteByte('"')
	}
	if len(e.Children) == 0 && e.Text == "" {
		buf.WriteString("/>")
	} else {
		buf.WriteByte('>')
		buf.WriteString(escapeText(e.Text))
		for _, child := range e.Children {
			writeElement(buf, child)
		}
		buf.WriteString("</")
		buf.WriteString(e.Name)
		buf.WriteByte('>')
	}
	buf.WriteString(escapeText(e.Tail))
}

// Attr returns the value of the named attribute, or "" when absent.
func (e *Element) Attr(key string) string {
	for _, attr := range e.Attrs {
		if attr.Key == key {
			return attr.Value
		}
	}
	return ""
}

// SetAttr replaces the named attribute in place, appending it when absent.
func (e *Element) SetAttr(key, value string) {
	for i := range e.Attrs {
		if e.Attrs[i].Key == key {
			e.Attrs[i].Value = value
			return
		}
	}
	e.Attrs = append(e.Attrs, Attr{Key: key, Value: value})
}

// FindAll returns the direct children with the given element name.
func (e *Element) FindAll(name string) []*Element {
	var out []*Element
	for _, child := range e.Children {
		if child.Name == name {
			out = append(out, child)
		}
	}
	return out
}

// Remove deletes the given child, matched by identity. It reports whether the
// child was found.
func (e *Element) Remove(child *Element) bool {
	for i, c := range e.Children {
		if c == child {
			e.Children = append(e.Children[:i], e.Children[i+1:]...)
			return true
		}
	}
	return false
}

// Append adds child as the last child of e.
func (e *Element) Append(child *Element) {
	e.Children = append(e.Children, child)
}

// nsStack rebuilds prefixed names from the decoder's URI-resolved ones so the
// serializer can write namespaced documents back the way they arrived.
type nsStack struct {
	frames []nsFrame
}

type nsFrame struct {
	defaultURI    string
	hasDefault    bool
	prefixByURI   map[string]string
	declaredCount int
}

func (s *nsStack) push(attrs []xml.Attr) {
	frame := nsFrame{}
	for _, attr := range attrs {
		switch {
		case attr.Name.Space == "" && attr.Name.Local == "xmlns":
			frame.defaultURI = attr.Value
			frame.hasDefault = true
			frame.declaredCount++
		case attr.Name.Space == "xmlns":
			if frame.prefixByURI == nil {
				frame.prefixByURI = make(map[string]string)
			}
			frame.prefixByURI[attr.Value] = attr.Name.Local
			frame.declaredCount++
		}
	}
	s.frames = append(s.frames, frame)
}

func (s *nsStack) pop() {
	if len(s.frames) > 0 {
		s.frames = s.frames[:len(s.frames)-1]
	}
}

func (s *nsStack) elementName(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	for i := len(s.frames) - 1; i >= 0; i-- {
		frame := s.frames[i]
		if frame.hasDefault && frame.defaultURI == name.Space {
			return name.Local
		}
		if prefix, ok := frame.prefixByURI[name.Space]; ok {
			return prefix + ":" + name.Local
		}
	}
	return name.Local
}

func (s *nsStack) attrName(name xml.Name) string {
	switch {
	case name.Space == "" && name.Local == "xmlns":
		return "xmlns"
	case name.Space == "xmlns":
		return "xmlns:" + name.Local
	case name.Space == "":
		return name.Local
	}
	for i := len(s.frames) - 1; i >= 0; i-- {
		if prefix, ok := s.frames[i].prefixByURI[name.Space]; ok {
			return prefix + ":" + name.Local
		}
	}
	return name.Local
}

func (s *nsStack) attrs(attrs []xml.Attr) []Attr {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]Attr, 0, len(attrs))
	for _, attr := range attrs {
		out = append(out, Attr{Key: s.attrName(attr.Name), Value: attr.Value})
	}
	return out
}

var (
	textEscaper = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	)
	attrEscaper = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"\n", "&#10;",
		"\t", "&#9;",
		"\r", "&#13;",
	)
)

func escapeText(s string) string {
	if !strings.ContainsAny(s, "&<>") {
		return s
	}
	return textEscaper.Replace(s)
}

func escapeAttr(s string) string {
	if !strings.ContainsAny(s, "&<>\"\n\t\r") {
		return s
	}
	return attrEscaper.Replace(s)
}
