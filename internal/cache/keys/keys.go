package keys

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/wfs-ingest/internal/core/model"
)

// Sep terminates the layer segment so a layer prefix never matches a longer layer id
const Sep = "|"

const maxFilterTextLen = 160

// LayerPrefix is the prefix shared by every layer-scoped key
func LayerPrefix(layer string) string {
	return sanitizeLayer(strings.TrimSpace(layer)) + Sep
}

func MetadataKey(layer string) string {
	return LayerPrefix(layer) + "meta"
}

func FeatureKey(layer string, bbox *model.BBox) string {
	return LayerPrefix(layer) + "fc:" + bboxPart(bbox)
}

type ResponseParams struct {
	Format     string
	BBox       *model.BBox
	Count      int
	StartIndex int
	Filter     string
	SortBy     string
	SortOrder  model.SortOrder
}

// ResponseKey covers every parameter that changes the upstream request
func ResponseKey(layer string, p ResponseParams) string {
	filterText := normalizeFilters(p.Filter)
	filterSafe := sanitizeForKey(filterText)
	if len(filterSafe) > maxFilterTextLen {
		filterSafe = filterSafe[:maxFilterTextLen]
	}
	sort := ""
	if s := strings.TrimSpace(p.SortBy); s != "" {
		sort = sanitizeForKey(s) + "_" + string(p.SortOrder)
	}
	sum := xxhash.Sum64String(filterText)
	return fmt.Sprintf("%sraw:%s:%s:n=%d:s=%d:sort=%s:filters=%s:f=%016x",
		LayerPrefix(layer),
		sanitizeForKey(strings.ToLower(strings.TrimSpace(p.Format))),
		bboxPart(p.BBox),
		p.Count, p.StartIndex, sort, filterSafe, sum)
}

// GeometryKey identifies an extracted geometry by its canonical source encoding
func GeometryKey(canonical []byte, swapped bool) string {
	return fmt.Sprintf("g:%t:%016x:%d", swapped, xxhash.Sum64(canonical), len(canonical))
}

func bboxPart(b *model.BBox) string {
	if b == nil {
		return "all"
	}
	srid := b.SRID
	if srid == "" {
		srid = model.WGS84
	}
	return strings.Join([]string{
		ftoa(b.X1), ftoa(b.Y1), ftoa(b.X2), ftoa(b.Y2), sanitizeForKey(srid),
	}, ",")
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}

var punctSpace = regexp.MustCompile(`\s*([=<>!\.,\(\)/])\s*`)

func normalizeFilters(s string) string {
	if s == "" {
		return ""
	}
	s = collapseASCIIWhitespace(strings.TrimSpace(s))
	return punctSpace.ReplaceAllString(s, "$1")
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case isASCIISpace(r):
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || r == '=' || r == '.':
			out = r
		default:
			// Any other rune (including non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func sanitizeLayer(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case isASCIISpace(r):
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || r == '.':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if isASCIISpace(r) {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isASCIISpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
