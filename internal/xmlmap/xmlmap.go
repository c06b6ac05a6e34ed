// Package xmlmap decodes XML documents into generic map/slice trees.
//
// Element names keep their namespace prefix ("wfs:FeatureType"), attributes are stored under
// AttrPrefix+name and mixed text under TextKey. An element without attributes or children
// collapses to its text. Repeated children become []any; names selected by Options.ForceArray
// are always []any, even for a single occurrence.
package xmlmap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

const (
	AttrPrefix = "@_"
	TextKey    = "#text"
)

var ErrEmptyDocument = errors.New("xmlmap: document has no root element")

type Options struct {
	// ForceArray receives the local element name
	ForceArray func(local string) bool
}

// ForceNames builds a ForceArray predicate over local element names
func ForceNames(names ...string) func(string) bool {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(local string) bool {
		_, ok := set[local]
		return ok
	}
}

type frame struct {
	name string
	m    map[string]any
	text strings.Builder
}

func DecodeBytes(b []byte, opts Options) (map[string]any, error) {
	return Decode(bytes.NewReader(b), opts)
}

func Decode(r io.Reader, opts Options) (map[string]any, error) {
	d := xml.NewDecoder(r)
	d.CharsetReader = charsetReader

	var (
		stack []*frame
		root  map[string]any
	)
	for {
		tok, err := d.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("xml token: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if root != nil && len(stack) == 0 {
				return nil, errors.New("xmlmap: multiple root elements")
			}
			f := &frame{name: qname(t.Name), m: map[string]any{}}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
					continue
				}
				f.m[AttrPrefix+qname(a.Name)] = a.Value
			}
			stack = append(stack, f)
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("xmlmap: unexpected end element %q", qname(t.Name))
			}
			f := stack[len(stack)-1]
			if name := qname(t.Name); name != f.name {
				return nil, fmt.Errorf("xmlmap: element %q closed by %q", f.name, name)
			}
			stack = stack[:len(stack)-1]
			val := f.value()
			if len(stack) == 0 {
				root = map[string]any{f.name: val}
				continue
			}
			attach(stack[len(stack)-1].m, f.name, val, opts)
		}
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("xmlmap: unclosed element %q", stack[len(stack)-1].name)
	}
	if root == nil {
		return nil, ErrEmptyDocument
	}
	return root, nil
}

func (f *frame) value() any {
	text := strings.TrimSpace(f.text.String())
	if len(f.m) == 0 {
		return text
	}
	if text != "" {
		f.m[TextKey] = text
	}
	return f.m
}

func attach(parent map[string]any, name string, val any, opts Options) {
	force := opts.ForceArray != nil && opts.ForceArray(Local(name))
	existing, ok := parent[name]
	switch {
	case !ok && force:
		parent[name] = []any{val}
	case !ok:
		parent[name] = val
	default:
		if arr, isArr := existing.([]any); isArr {
			parent[name] = append(arr, val)
		} else {
			parent[name] = []any{existing, val}
		}
	}
}

func qname(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("xml charset %q: %w", label, err)
	}
	return enc.NewDecoder().Reader(input), nil
}
