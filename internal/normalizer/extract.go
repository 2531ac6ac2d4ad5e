package normalizer

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// Raw is one record of a parsed Tally response. Keys keep Tally's upper-case
// names; attributes carry a leading "-" and element text sits under "#text".
type Raw map[string]any

var (
	numericPrefix  = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)`)
	currencyTokens = regexp.MustCompile(`(?i)(inr|rs\.?)`)
	textKeys       = []string{"#text", "_", "text"}
)

// lookup finds key in m, falling back to a case-insensitive match
func lookup(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// Get follows a "/" separated path. Lists met along the way resolve to their
// first element.
func (r Raw) Get(path string) any {
	var cur any = map[string]any(r)
	for _, seg := range strings.Split(path, "/") {
		if list, ok := cur.([]any); ok {
			if len(list) == 0 {
				return nil
			}
			cur = list[0]
		}
		m, ok := asMap(cur)
		if !ok {
			return nil
		}
		cur, ok = lookup(m, seg)
		if !ok {
			return nil
		}
	}
	return cur
}

// Text returns the first non-empty text among keys
func (r Raw) Text(keys ...string) string {
	for _, k := range keys {
		if s := ExtractText(r.Get(k)); s != "" {
			return s
		}
	}
	return ""
}

// Texts returns every non-empty text value at path
func (r Raw) Texts(path string) []string {
	var out []string
	for _, v := range MaybeArray(r.Get(path)) {
		if s := ExtractText(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Number returns the first key that parses to a non-zero amount
func (r Raw) Number(keys ...string) decimal.Decimal {
	for _, k := range keys {
		if d := ParseAmount(r.Get(k)); !d.IsZero() {
			return d
		}
	}
	return decimal.Zero
}

func (r Raw) Int(keys ...string) int64 {
	return r.Number(keys...).IntPart()
}

// Bool is true when the first present key holds a truthy value
func (r Raw) Bool(keys ...string) bool {
	for _, k := range keys {
		if v := r.Get(k); v != nil {
			return ParseBool(v)
		}
	}
	return false
}

// List returns the records under the first present key, coercing a bare
// object into a one element list
func (r Raw) List(keys ...string) []Raw {
	for _, k := range keys {
		v := r.Get(k)
		if v == nil {
			continue
		}
		var out []Raw
		for _, item := range MaybeArray(v) {
			if m, ok := asMap(item); ok {
				out = append(out, Raw(m))
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Raw:
		return m, true
	default:
		return nil, false
	}
}

// ExtractText reduces a node to trimmed text: strings as-is, wrappers through
// their text key or nested NAME, lists through their first element.
func ExtractText(node any) string {
	switch v := node.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []any:
		if len(v) == 0 {
			return ""
		}
		return ExtractText(v[0])
	case map[string]any, Raw:
		m, _ := asMap(v)
		for _, k := range textKeys {
			if inner, ok := m[k]; ok {
				return ExtractText(inner)
			}
		}
		if inner, ok := lookup(m, "NAME"); ok {
			return ExtractText(inner)
		}
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// ParseAmount reads Tally's formatted amounts. Thousands separators, currency
// symbols and unit suffixes are ignored; a trailing Cr, parentheses or a
// leading minus make the value negative. Anything unparseable is zero.
func ParseAmount(node any) decimal.Decimal {
	return parseAmountString(ExtractText(node))
}

func parseAmountString(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	negative := false
	upper := strings.ToUpper(s)
	switch {
	case strings.HasSuffix(upper, "CR"):
		negative = true
		s = s[:len(s)-2]
	case strings.HasSuffix(upper, "DR"):
		s = s[:len(s)-2]
	}
	s = currencyTokens.ReplaceAllString(s, "")

	var b strings.Builder
	for _, r := range s {
		if r == ',' || unicode.IsSpace(r) || unicode.Is(unicode.Sc, r) {
			continue
		}
		b.WriteRune(r)
	}
	s = b.String()

	if strings.HasPrefix(s, "(") {
		negative = !negative
		s = strings.NewReplacer("(", "", ")", "").Replace(s)
	}
	switch {
	case strings.HasPrefix(s, "-"):
		negative = !negative
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	match := numericPrefix.FindString(s)
	if match == "" {
		return decimal.Zero
	}
	match = strings.TrimSuffix(match, ".")
	if strings.HasPrefix(match, ".") {
		match = "0" + match
	}
	d, err := decimal.NewFromString(match)
	if err != nil {
		return decimal.Zero
	}
	if negative {
		return d.Neg()
	}
	return d
}

// ParseBool accepts Tally's Yes/No as well as true/1/on
func ParseBool(node any) bool {
	switch strings.ToLower(ExtractText(node)) {
	case "yes", "true", "1", "on", "y":
		return true
	default:
		return false
	}
}

// MaybeArray coerces a bare value into a one element list
func MaybeArray(node any) []any {
	switch v := node.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []map[string]any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	default:
		return []any{v}
	}
}

// Find does a breadth-first search for the shallowest node named tag
func Find(tree any, tag string) (any, bool) {
	queue := []any{tree}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		switch v := node.(type) {
		case []any:
			queue = append(queue, v...)
		default:
			m, ok := asMap(v)
			if !ok {
				continue
			}
			if found, ok := lookup(m, tag); ok {
				return found, true
			}
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				queue = append(queue, m[k])
			}
		}
	}
	return nil, false
}

// Collection returns the records under tag. A missing tag reports false so the
// caller can treat it as no data for the entity.
func Collection(tree any, tag string) ([]Raw, bool) {
	node, ok := Find(tree, tag)
	if !ok {
		return nil, false
	}
	var out []Raw
	for _, item := range MaybeArray(node) {
		if m, ok := asMap(item); ok {
			out = append(out, Raw(m))
		}
	}
	return out, true
}

// FormatDate turns Tally's YYYYMMDD (and the d-Mon-yyyy display form) into
// YYYY-MM-DD. Unknown formats are returned trimmed.
func FormatDate(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"20060102", "2-Jan-2006", "2-Jan-06", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}
