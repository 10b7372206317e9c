package integration

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
)

// textKey holds character data of an element that also has attributes or children.
const textKey = "_"

type xmlNode struct {
	name     string
	children map[string]any
	text     strings.Builder
}

func (n *xmlNode) value() any {
	text := strings.TrimSpace(n.text.String())
	if len(n.children) == 0 {
		return text
	}
	if text != "" {
		n.children[textKey] = text
	}
	return n.children
}

func addChild(m map[string]any, name string, v any) {
	existing, ok := m[name]
	if !ok {
		m[name] = v
		return
	}
	if list, isList := existing.([]any); isList {
		m[name] = append(list, v)
		return
	}
	m[name] = []any{existing, v}
}

// DecodeXML converts a document into nested maps keyed by element name.
// Attributes merge into their element's map, repeated elements become
// slices, and namespace prefixes are dropped. lowerTags lower-cases names.
func DecodeXML(data []byte, lowerTags bool) (map[string]any, error) {
	norm := func(s string) string {
		if lowerTags {
			return strings.ToLower(s)
		}
		return s
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	root := &xmlNode{children: map[string]any{}}
	stack := []*xmlNode{root}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &xmlNode{name: norm(t.Name.Local), children: map[string]any{}}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
					continue
				}
				n.children[norm(a.Name.Local)] = a.Value
			}
			stack = append(stack, n)
		case xml.CharData:
			stack[len(stack)-1].text.Write(t)
		case xml.EndElement:
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			addChild(stack[len(stack)-1].children, n.name, n.value())
		}
	}
	if len(stack) != 1 {
		return nil, fmt.Errorf("decoding xml: unexpected end of document")
	}
	return root.children, nil
}

// EncodeXML renders v under a root element. Map keys are emitted in sorted
// order and slices repeat their parent element name.
func EncodeXML(root string, v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := encodeXMLValue(enc, root, v); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeXMLValue(enc *xml.Encoder, name string, v any) error {
	start := xml.StartElement{Name: xml.Name{Local: name}}
	switch x := v.(type) {
	case Record:
		return encodeXMLValue(enc, name, map[string]any(x))
	case map[string]any:
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == textKey {
				if err := enc.EncodeToken(xml.CharData(FormatScalar(x[k]))); err != nil {
					return err
				}
				continue
			}
			if err := encodeXMLValue(enc, k, x[k]); err != nil {
				return err
			}
		}
		return enc.EncodeToken(start.End())
	case []any:
		for _, item := range x {
			if err := encodeXMLValue(enc, name, item); err != nil {
				return err
			}
		}
		return nil
	case []map[string]any:
		for _, item := range x {
			if err := encodeXMLValue(enc, name, item); err != nil {
				return err
			}
		}
		return nil
	case nil:
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		return enc.EncodeToken(start.End())
	default:
		return enc.EncodeElement(FormatScalar(x), start)
	}
}

// FormatScalar renders a JSON scalar as text, printing whole floats as integers.
func FormatScalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(x)
	}
}
