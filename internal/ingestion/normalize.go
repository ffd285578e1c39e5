package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// StripHTML removes tags and decodes the handful of entities that show
// up in storefront descriptions. Unknown entities pass through as-is.
func StripHTML(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
			b.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	out := b.String()
	for entity, repl := range htmlEntities {
		out = strings.ReplaceAll(out, entity, repl)
	}
	return out
}

var htmlEntities = map[string]string{
	"&amp;":  "&",
	"&lt;":   "<",
	"&gt;":   ">",
	"&quot;": `"`,
	"&#39;":  "'",
	"&nbsp;": " ",
}

// CollapseWhitespace folds any whitespace run into a single space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// attributeAliases maps upstream attribute spellings onto the taxonomy
// the retriever boosts against.
var attributeAliases = map[string]string{
	"marca":        "brand",
	"fabricante":   "brand",
	"amperios":     "amperage",
	"amperaje":     "amperage",
	"corriente":    "amperage",
	"voltios":      "voltage",
	"voltaje":      "voltage",
	"tension":      "voltage",
	"tensión":      "voltage",
	"polos":        "poles",
	"numero_polos": "poles",
	"curva":        "curve",
	"categoria":    "category",
	"categoría":    "category",
	"rubro":        "category",
	"precio":       "price",
	"existencias":  "stock",
}

// volatileAttributes change on every commercial update without altering
// what the record is about. They are stored but never hashed or
// embedded, so a price move is an upsert with no embedding call.
var volatileAttributes = map[string]bool{
	"price": true,
	"stock": true,
}

// NormalizeAttributes lowercases keys, applies the taxonomy aliases,
// and trims string values. Later duplicates win, matching upstream
// export order.
func NormalizeAttributes(attrs map[string]any) map[string]any {
	if len(attrs) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(attrs))
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		norm := strings.ToLower(strings.TrimSpace(k))
		if alias, ok := attributeAliases[norm]; ok {
			norm = alias
		}
		if norm == "" {
			continue
		}
		v := attrs[k]
		if s, ok := v.(string); ok {
			v = CollapseWhitespace(s)
		}
		out[norm] = v
	}
	return out
}

// ContentHash fingerprints the retrievable content of a record. Two
// records hash equal exactly when re-embedding would be a no-op, so
// the hash doubles as the embed-skip test during reconciliation.
func ContentHash(title, body string, attrs map[string]any) string {
	h := sha256.New()
	h.Write([]byte(CollapseWhitespace(title)))
	h.Write([]byte{0})
	h.Write([]byte(CollapseWhitespace(body)))
	h.Write([]byte{0})

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		if volatileAttributes[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{1})
		raw, err := json.Marshal(attrs[k])
		if err != nil {
			raw = []byte(fmt.Sprint(attrs[k]))
		}
		h.Write(raw)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// BuildEmbedText composes the text sent to the embedder: title first,
// then sorted attributes, then the body, matching the weighting the
// lexical index gives each zone.
func BuildEmbedText(title, body string, attrs map[string]any) string {
	var parts []string
	if t := CollapseWhitespace(title); t != "" {
		parts = append(parts, t)
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		if volatileAttributes[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, attrs[k]))
	}
	if b := CollapseWhitespace(body); b != "" {
		parts = append(parts, b)
	}
	return strings.Join(parts, "\n")
}

// Slug turns a heading into a stable id fragment: folded, lowercase,
// non-alphanumerics collapsed to single dashes.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case r >= 'à' && r <= 'ÿ':
			b.WriteRune(foldSlugRune(r))
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func foldSlugRune(r rune) rune {
	switch r {
	case 'á', 'à', 'ä', 'â':
		return 'a'
	case 'é', 'è', 'ë', 'ê':
		return 'e'
	case 'í', 'ì', 'ï', 'î':
		return 'i'
	case 'ó', 'ò', 'ö', 'ô':
		return 'o'
	case 'ú', 'ù', 'ü', 'û':
		return 'u'
	case 'ñ':
		return 'n'
	default:
		return r
	}
}
