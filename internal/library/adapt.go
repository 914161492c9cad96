package library

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/franz/shelfdb/internal/util"
)

// Adapters for the built-in fields. Each returns the stored form of a user
// value, or nil when the value clears the field.

func invalidValue(field string, v any, err error) error {
	return fmt.Errorf("%w: %v for %s: %v", util.ErrInvalidValue, v, field, err)
}

func adaptString(v any) (any, error) {
	if v == nil {
		return "", nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, invalidValue("text", v, err)
	}
	return strings.TrimSpace(s), nil
}

func adaptTitle(v any) (any, error) {
	s, err := adaptString(v)
	if err != nil {
		return nil, err
	}
	if s == "" {
		return "Unknown", nil
	}
	return s, nil
}

// adaptName is used for series and publisher; empty clears the field
func adaptName(v any) (any, error) {
	s, err := adaptString(v)
	if err != nil || s == "" {
		return nil, err
	}
	return strings.Join(strings.Fields(s.(string)), " "), nil
}

func adaptComments(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, invalidValue("comments", v, err)
	}
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return s, nil
}

func adaptUUID(v any) (any, error) {
	s, err := adaptString(v)
	if err != nil {
		return nil, err
	}
	if s == "" {
		return nil, invalidValue("uuid", v, fmt.Errorf("empty"))
	}
	return s, nil
}

// adaptIndex reads a series index; nil means 1
func adaptIndex(v any) (any, error) {
	if v == nil {
		return 1.0, nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return 1.0, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil, invalidValue("series_index", v, err)
	}
	return f, nil
}

func adaptBool(v any) (any, error) {
	if v == nil {
		return false, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return nil, invalidValue("bool", v, err)
	}
	return b, nil
}

// adaptDate parses a date. When optional, nil stores the undefined date.
func adaptDate(v any, optional bool) (any, error) {
	if v == nil || v == "" {
		if optional {
			return undefinedDate, nil
		}
		return nil, invalidValue("date", v, fmt.Errorf("a date is required"))
	}
	if t, ok := util.ParseTimestamp(v); ok {
		return t, nil
	}
	t, err := cast.ToTimeE(v)
	if err != nil {
		return nil, invalidValue("date", v, err)
	}
	return t.UTC(), nil
}

// adaptRating accepts 0..10. Zero clears the rating.
func adaptRating(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil, invalidValue("rating", v, err)
	}
	if f < 0 || f > 10 {
		return nil, invalidValue("rating", v, fmt.Errorf("out of range 0..10"))
	}
	if n := int64(f); n != 0 {
		return n, nil
	}
	return nil, nil
}

func toList(v any, sep string) ([]string, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return strings.Split(x, sep), nil
	case []string:
		return x, nil
	}
	return cast.ToStringSliceE(v)
}

// adaptAuthors splits on "&" when given one string. A book always has at
// least one author.
func (l *Library) adaptAuthors(v any) (any, error) {
	parts, err := toList(v, "&")
	if err != nil {
		return nil, invalidValue("authors", v, err)
	}
	names := splitNames(parts)
	if len(names) == 0 {
		names = []string{"Unknown"}
	}
	return names, nil
}

func (l *Library) adaptTags(v any) (any, error) {
	parts, err := toList(v, l.opts.Separator)
	if err != nil {
		return nil, invalidValue("tags", v, err)
	}
	return splitNames(parts), nil
}

func (l *Library) adaptLanguages(v any) (any, error) {
	parts, err := toList(v, l.opts.Separator)
	if err != nil {
		return nil, invalidValue("languages", v, err)
	}
	codes := splitNames(parts)
	for i, c := range codes {
		codes[i] = strings.ToLower(c)
	}
	return codes, nil
}

// adaptIdentifiers takes a map or "type:value,type:value". Types are
// lowercased; ':' and ',' are stripped from types and ',' from values.
func adaptIdentifiers(v any) (any, error) {
	raw := map[string]string{}
	switch x := v.(type) {
	case nil:
	case map[string]string:
		raw = x
	case string:
		for _, pair := range strings.Split(x, ",") {
			typ, val, ok := strings.Cut(pair, ":")
			if !ok {
				if strings.TrimSpace(pair) == "" {
					continue
				}
				return nil, invalidValue("identifiers", v, fmt.Errorf("%q is not type:value", pair))
			}
			raw[typ] = val
		}
	default:
		m, err := cast.ToStringMapStringE(v)
		if err != nil {
			return nil, invalidValue("identifiers", v, err)
		}
		raw = m
	}

	out := make(map[string]string, len(raw))
	clean := strings.NewReplacer(":", "", ",", "")
	for typ, val := range raw {
		typ = strings.ToLower(strings.TrimSpace(clean.Replace(typ)))
		val = strings.TrimSpace(strings.ReplaceAll(val, ",", "|"))
		if typ == "" || val == "" {
			continue
		}
		out[typ] = val
	}
	return out, nil
}

// formatIdentifiers renders identifiers as "type:value" pairs in type order
func formatIdentifiers(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ":" + m[k]
	}
	return strings.Join(parts, ",")
}

// displayString renders a field value for templates and listings
func displayString(key string, v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []string:
		if key == "authors" {
			return strings.Join(x, " & ")
		}
		return strings.Join(x, ", ")
	case time.Time:
		if x.Equal(undefinedDate) {
			return ""
		}
		return x.Local().Format("2006-01-02")
	case bool:
		if x {
			return "Yes"
		}
		return "No"
	case map[string]string:
		return formatIdentifiers(x)
	}
	return cast.ToString(v)
}
