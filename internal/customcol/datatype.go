package customcol

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/franz/shelfdb/internal/util"
	"github.com/spf13/cast"
)

// Datatype is one of the column kinds a user can create. Each kind knows
// its storage type and how to adapt user input.
type Datatype interface {
	Name() string
	// Normalized kinds intern values in a value table and link books to them.
	Normalized() bool
	SQLType() string
	// Adapt converts user input to the stored form. nil means "no value".
	Adapt(col *Column, v any) (any, error)
	sealed()
}

type (
	Rating      struct{}
	Text        struct{}
	Comments    struct{}
	Datetime    struct{}
	Int         struct{}
	Float       struct{}
	Bool        struct{}
	Series      struct{}
	Composite   struct{ Template string }
	Enumeration struct{ Values []string }
)

// ParseDatatype maps a registry datatype string to its kind. display
// supplies the composite template and enumeration values.
func ParseDatatype(name string, display map[string]any) (Datatype, error) {
	switch name {
	case "rating":
		return Rating{}, nil
	case "text":
		return Text{}, nil
	case "comments":
		return Comments{}, nil
	case "datetime":
		return Datetime{}, nil
	case "int":
		return Int{}, nil
	case "float":
		return Float{}, nil
	case "bool":
		return Bool{}, nil
	case "series":
		return Series{}, nil
	case "composite":
		return Composite{Template: cast.ToString(display["composite_template"])}, nil
	case "enumeration":
		return Enumeration{Values: cast.ToStringSlice(display["enum_values"])}, nil
	}
	return nil, fmt.Errorf("%w: unknown datatype %q", util.ErrCustomColumnConflict, name)
}

func (Rating) Name() string      { return "rating" }
func (Text) Name() string        { return "text" }
func (Comments) Name() string    { return "comments" }
func (Datetime) Name() string    { return "datetime" }
func (Int) Name() string         { return "int" }
func (Float) Name() string       { return "float" }
func (Bool) Name() string        { return "bool" }
func (Series) Name() string      { return "series" }
func (Composite) Name() string   { return "composite" }
func (Enumeration) Name() string { return "enumeration" }

func (Rating) Normalized() bool      { return true }
func (Text) Normalized() bool        { return true }
func (Comments) Normalized() bool    { return false }
func (Datetime) Normalized() bool    { return false }
func (Int) Normalized() bool         { return false }
func (Float) Normalized() bool       { return false }
func (Bool) Normalized() bool        { return false }
func (Series) Normalized() bool      { return true }
func (Composite) Normalized() bool   { return false }
func (Enumeration) Normalized() bool { return true }

func (Rating) SQLType() string      { return "INT" }
func (Text) SQLType() string        { return "TEXT" }
func (Comments) SQLType() string    { return "TEXT" }
func (Datetime) SQLType() string    { return "timestamp" }
func (Int) SQLType() string         { return "INT" }
func (Float) SQLType() string       { return "REAL" }
func (Bool) SQLType() string        { return "BOOL" }
func (Series) SQLType() string      { return "TEXT" }
func (Composite) SQLType() string   { return "TEXT" }
func (Enumeration) SQLType() string { return "TEXT" }

func (Rating) sealed()      {}
func (Text) sealed()        {}
func (Comments) sealed()    {}
func (Datetime) sealed()    {}
func (Int) sealed()         {}
func (Float) sealed()       {}
func (Bool) sealed()        {}
func (Series) sealed()      {}
func (Composite) sealed()   {}
func (Enumeration) sealed() {}

func invalid(col *Column, v any, err error) error {
	return fmt.Errorf("%w: %v for column %s: %v", util.ErrInvalidValue, v, col.Label, err)
}

func isNone(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		return s == "" || strings.EqualFold(s, "none")
	}
	return false
}

// cleanText trims and collapses internal whitespace
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (Text) Adapt(col *Column, v any) (any, error) {
	if col.IsMultiple {
		return adaptList(col, v)
	}
	return adaptScalarText(v), nil
}

func adaptScalarText(v any) any {
	if v == nil {
		return nil
	}
	s := cleanText(cast.ToString(v))
	if s == "" {
		return nil
	}
	return s
}

func adaptList(col *Column, v any) (any, error) {
	var items []string
	switch x := v.(type) {
	case nil:
		return []string{}, nil
	case string:
		items = strings.Split(x, col.separator())
	case []string:
		items = x
	case []any:
		items = cast.ToStringSlice(x)
	default:
		return nil, invalid(col, v, fmt.Errorf("unsupported type %T", v))
	}
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = cleanText(item)
		key := strings.ToLower(item)
		if item == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out, nil
}

func (Comments) Adapt(col *Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	s := cast.ToString(v)
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return s, nil
}

// Datetime input is parsed as local time and stored in UTC
func (Datetime) Adapt(col *Column, v any) (any, error) {
	if isNone(v) {
		return nil, nil
	}
	if t, ok := v.(time.Time); ok {
		return t.UTC(), nil
	}
	t, err := cast.ToTimeInDefaultLocationE(v, time.Local)
	if err != nil {
		return nil, invalid(col, v, err)
	}
	return t.UTC(), nil
}

func (Bool) Adapt(col *Column, v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "none", "":
			return nil, nil
		}
	}
	n, err := parseInt(v)
	if err != nil {
		return nil, invalid(col, v, err)
	}
	return n != 0, nil
}

// parseInt reads strings in base 10 so "08" is eight
func parseInt(v any) (int64, error) {
	if s, ok := v.(string); ok {
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	}
	return cast.ToInt64E(v)
}

func (Int) Adapt(col *Column, v any) (any, error) {
	if isNone(v) {
		return nil, nil
	}
	n, err := parseInt(v)
	if err != nil {
		return nil, invalid(col, v, err)
	}
	return n, nil
}

func (Float) Adapt(col *Column, v any) (any, error) {
	if isNone(v) {
		return nil, nil
	}
	var f float64
	var err error
	if s, ok := v.(string); ok {
		f, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
	} else {
		f, err = cast.ToFloat64E(v)
	}
	if err != nil {
		return nil, invalid(col, v, err)
	}
	return f, nil
}

// Rating values are clamped to 0..10; zero means no rating
func (Rating) Adapt(col *Column, v any) (any, error) {
	if isNone(v) {
		return nil, nil
	}
	var f float64
	var err error
	if s, ok := v.(string); ok {
		f, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
	} else {
		f, err = cast.ToFloat64E(v)
	}
	if err != nil {
		return nil, invalid(col, v, err)
	}
	n := int64(f)
	if n < 0 {
		n = 0
	}
	if n > 10 {
		n = 10
	}
	if n == 0 {
		return nil, nil
	}
	return n, nil
}

func (e Enumeration) Adapt(col *Column, v any) (any, error) {
	s := adaptScalarText(v)
	if s == nil {
		return nil, nil
	}
	if len(e.Values) > 0 {
		for _, allowed := range e.Values {
			if allowed == s {
				return s, nil
			}
		}
		return nil, invalid(col, v, fmt.Errorf("not one of %v", e.Values))
	}
	return s, nil
}

func (Series) Adapt(col *Column, v any) (any, error) {
	return adaptScalarText(v), nil
}

func (Composite) Adapt(col *Column, v any) (any, error) {
	return nil, invalid(col, v, fmt.Errorf("composite columns are computed"))
}
