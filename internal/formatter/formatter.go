// Package formatter evaluates the templates behind composite columns.
//
// A template is plain text with {field} references. A reference may carry a
// format after a colon:
//
//	{series_index:05.2f}      number format
//	{series:|[|]}             prefix and suffix, only when the value is set
//	{tags:uppercase()}        a builtin or library function applied to the value
package formatter

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Getter resolves field keys for one book
type Getter interface {
	FieldValue(key string) (string, error)
}

// GetterFunc adapts a function to Getter
type GetterFunc func(key string) (string, error)

func (f GetterFunc) FieldValue(key string) (string, error) { return f(key) }

// Func is a template function. The field value is passed as args[0].
type Func func(args []string) (string, error)

// Formatter renders templates with the builtin functions plus those of one
// library
type Formatter struct {
	funcs *Functions
	libID string
}

// New returns a formatter using the user functions registered for libID
func New(funcs *Functions, libID string) *Formatter {
	if funcs == nil {
		funcs = NewFunctions()
	}
	return &Formatter{funcs: funcs, libID: libID}
}

// SafeFormat renders template and returns errorValue instead of failing
func (f *Formatter) SafeFormat(template string, get Getter, errorValue string) string {
	out, err := f.Format(template, get)
	if err != nil {
		return errorValue
	}
	return out
}

// Format renders template
func (f *Formatter) Format(template string, get Getter) (string, error) {
	var b strings.Builder
	for i := 0; i < len(template); {
		c := template[i]
		if c != '{' {
			b.WriteByte(c)
			i++
			continue
		}
		end := matchingBrace(template, i)
		if end < 0 {
			return "", fmt.Errorf("unterminated reference at offset %d", i)
		}
		s, err := f.reference(template[i+1:end], get)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
		i = end + 1
	}
	return b.String(), nil
}

func matchingBrace(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func (f *Formatter) reference(ref string, get Getter) (string, error) {
	key, spec, _ := strings.Cut(ref, ":")
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("empty field reference")
	}
	value, err := get.FieldValue(strings.ToLower(key))
	if err != nil {
		return "", err
	}
	return f.applySpec(value, spec)
}

func (f *Formatter) applySpec(value, spec string) (string, error) {
	switch {
	case spec == "":
		return value, nil
	case strings.HasPrefix(spec, "|"):
		parts := strings.SplitN(spec[1:], "|", 2)
		if value == "" {
			return "", nil
		}
		suffix := ""
		if len(parts) == 2 {
			suffix = parts[1]
		}
		return parts[0] + value + suffix, nil
	case strings.HasSuffix(spec, ")"):
		name, argStr, ok := strings.Cut(spec[:len(spec)-1], "(")
		if !ok {
			return "", fmt.Errorf("malformed function call %q", spec)
		}
		fn, ok := f.lookup(strings.TrimSpace(name))
		if !ok {
			return "", fmt.Errorf("unknown function %q", name)
		}
		args := []string{value}
		if strings.TrimSpace(argStr) != "" {
			for _, a := range strings.Split(argStr, ",") {
				args = append(args, strings.Trim(strings.TrimSpace(a), `'"`))
			}
		}
		return fn(args)
	default:
		return formatNumber(value, spec)
	}
}

func (f *Formatter) lookup(name string) (Func, bool) {
	if fn, ok := f.funcs.Get(f.libID, name); ok {
		return fn, true
	}
	fn, ok := builtins[name]
	return fn, ok
}

// formatNumber applies a printf style spec such as 05.2f or d
func formatNumber(value, spec string) (string, error) {
	if value == "" {
		return "", nil
	}
	verb := spec[len(spec)-1]
	switch verb {
	case 'd':
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return "", fmt.Errorf("%q is not a number", value)
		}
		return fmt.Sprintf("%"+spec, int64(n)), nil
	case 'f', 'e', 'g':
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return "", fmt.Errorf("%q is not a number", value)
		}
		return fmt.Sprintf("%"+spec, n), nil
	case 's':
		return fmt.Sprintf("%"+spec, value), nil
	}
	return "", fmt.Errorf("unsupported format %q", spec)
}

var builtins = map[string]Func{
	"uppercase": func(a []string) (string, error) { return strings.ToUpper(a[0]), nil },
	"lowercase": func(a []string) (string, error) { return strings.ToLower(a[0]), nil },
	"titlecase": func(a []string) (string, error) { return cases.Title(language.Und).String(a[0]), nil },
	"capitalize": func(a []string) (string, error) {
		r := []rune(a[0])
		if len(r) == 0 {
			return "", nil
		}
		return string(unicode.ToUpper(r[0])) + strings.ToLower(string(r[1:])), nil
	},
	"ifempty": func(a []string) (string, error) {
		if a[0] == "" && len(a) > 1 {
			return a[1], nil
		}
		return a[0], nil
	},
	"shorten": func(a []string) (string, error) {
		if len(a) < 4 {
			return "", fmt.Errorf("shorten needs left, middle and right")
		}
		left, err1 := strconv.Atoi(a[1])
		right, err2 := strconv.Atoi(a[3])
		if err1 != nil || err2 != nil {
			return "", fmt.Errorf("shorten needs numeric lengths")
		}
		r := []rune(a[0])
		if len(r) <= left+right+len([]rune(a[2])) {
			return a[0], nil
		}
		return string(r[:left]) + a[2] + string(r[len(r)-right:]), nil
	},
}

// Functions holds the user template functions of every open library, keyed
// by library id
type Functions struct {
	mu   sync.RWMutex
	libs map[string]map[string]Func
}

// NewFunctions returns an empty registry
func NewFunctions() *Functions {
	return &Functions{libs: make(map[string]map[string]Func)}
}

// Load replaces the functions of libID
func (r *Functions) Load(libID string, funcs map[string]Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := make(map[string]Func, len(funcs))
	for k, v := range funcs {
		m[k] = v
	}
	r.libs[libID] = m
}

// Unload forgets the functions of libID
func (r *Functions) Unload(libID string) {
	r.mu.Lock()
	delete(r.libs, libID)
	r.mu.Unlock()
}

// Get finds a function of libID
func (r *Functions) Get(libID, name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.libs[libID][name]
	return fn, ok
}

// Evaluation tracks the composite columns being rendered for one read. A
// composite that is reached again while it is still being rendered yields
// the empty string, which is how cycles between columns are broken.
type Evaluation struct {
	f      *Formatter
	active map[string]bool
}

// NewEvaluation starts a read
func (f *Formatter) NewEvaluation() *Evaluation {
	return &Evaluation{f: f, active: make(map[string]bool)}
}

// Composite renders the template of column key
func (e *Evaluation) Composite(key, template string, get Getter, errorValue string) string {
	if e.active[key] {
		return ""
	}
	e.active[key] = true
	defer delete(e.active, key)
	return e.f.SafeFormat(template, get, errorValue)
}
