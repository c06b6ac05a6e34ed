package xmlmap

import "strings"

// Local strips a namespace prefix: "gml:Point" -> "Point", "@_gml:id" -> "id"
func Local(name string) string {
	name = strings.TrimPrefix(name, AttrPrefix)
	if i := strings.LastIndex(name, ":"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Lookup returns the value of the first candidate key present in m. If no candidate matches
// exactly, any key whose local name equals a candidate's local name is accepted.
func Lookup(m map[string]any, candidates ...string) (any, bool) {
	if m == nil {
		return nil, false
	}
	for _, c := range candidates {
		if v, ok := m[c]; ok {
			return v, true
		}
	}
	for _, c := range candidates {
		want := Local(c)
		attr := strings.HasPrefix(c, AttrPrefix)
		for k, v := range m {
			if strings.HasPrefix(k, AttrPrefix) == attr && Local(k) == want {
				return v, true
			}
		}
	}
	return nil, false
}

func LookupMap(m map[string]any, candidates ...string) (map[string]any, bool) {
	v, ok := Lookup(m, candidates...)
	if !ok {
		return nil, false
	}
	mm, ok := v.(map[string]any)
	return mm, ok
}

// LookupAll returns the candidate's value as a slice regardless of cardinality
func LookupAll(m map[string]any, candidates ...string) []any {
	v, ok := Lookup(m, candidates...)
	if !ok {
		return nil
	}
	return Items(v)
}

func LookupText(m map[string]any, candidates ...string) string {
	v, ok := Lookup(m, candidates...)
	if !ok {
		return ""
	}
	return Text(v)
}

func Items(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}

// Text returns the character content of a collapsed or attributed element
func Text(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		if s, ok := t[TextKey].(string); ok {
			return strings.TrimSpace(s)
		}
	case []any:
		if len(t) > 0 {
			return Text(t[0])
		}
	}
	return ""
}

func Attr(m map[string]any, name string) string {
	v, ok := Lookup(m, AttrPrefix+name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// Root unwraps a decoded document to its single root element
func Root(doc map[string]any) (string, map[string]any, bool) {
	if len(doc) != 1 {
		return "", nil, false
	}
	for k, v := range doc {
		m, ok := v.(map[string]any)
		return k, m, ok
	}
	return "", nil, false
}
