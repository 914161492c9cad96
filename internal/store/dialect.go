package store

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/franz/shelfdb/internal/sortname"
	"github.com/franz/shelfdb/internal/util"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"modernc.org/sqlite"
)

// BooksListFilter is the dynamic filter slot consulted by books_list_filter()
const BooksListFilter = "books_list_filter"

var dialectOnce sync.Once

// registerDialect installs collations and functions into the driver. The
// driver registry is process wide, so this runs once.
func registerDialect() {
	dialectOnce.Do(func() {
		must := func(name string, err error) {
			if err != nil {
				util.ErrorLog("Failed to register SQL function %s: %v", name, err)
			}
		}

		must("PYNOCASE", sqlite.RegisterCollationUtf8("PYNOCASE", pyNoCase))
		must("icucollate", sqlite.RegisterCollationUtf8("icucollate", icuCollate))

		must("title_sort", sqlite.RegisterDeterministicScalarFunction("title_sort", 1, titleSortFunc))
		must("author_to_author_sort", sqlite.RegisterDeterministicScalarFunction("author_to_author_sort", 1, authorSortFunc))
		must("uuid4", sqlite.RegisterScalarFunction("uuid4", 0, uuid4Func))
		must("books_list_filter", sqlite.RegisterScalarFunction("books_list_filter", 1, booksListFilterFunc))
		must("dynamic_filter", sqlite.RegisterScalarFunction("dynamic_filter", 2, dynamicFilterFunc))

		aggregates := []struct {
			name  string
			nargs int32
			make  func() sqlite.AggregateFunction
		}{
			{"sortconcat", 2, func() sqlite.AggregateFunction { return &sortConcat{sep: ","} }},
			{"sortconcat_bar", 2, func() sqlite.AggregateFunction { return &sortConcat{sep: "|"} }},
			{"sortconcat_amper", 2, func() sqlite.AggregateFunction { return &sortConcat{sep: "&"} }},
			{"identifiers_concat", 2, func() sqlite.AggregateFunction { return &identifiersConcat{} }},
			{"concat", 2, func() sqlite.AggregateFunction { return &concat{} }},
			{"aum_sortconcat", 4, func() sqlite.AggregateFunction { return &aumSortConcat{} }},
		}
		for _, a := range aggregates {
			mk := a.make
			must(a.name, sqlite.RegisterFunction(a.name, &sqlite.FunctionImpl{
				NArgs:         a.nargs,
				Deterministic: true,
				MakeAggregate: func(ctx sqlite.FunctionContext) (sqlite.AggregateFunction, error) {
					return mk(), nil
				},
			}))
		}
	})
}

// pyNoCase compares case-folded UTF-8 strings. Casers are stateful, so
// each call gets its own.
func pyNoCase(l, r string) int {
	return strings.Compare(cases.Fold().String(l), cases.Fold().String(r))
}

var (
	collatorMu sync.Mutex
	collator   = collate.New(language.Und)
)

// SetCollationLanguage selects the locale used by the icucollate collation
func SetCollationLanguage(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("invalid collation language %q: %w", lang, err)
	}
	collatorMu.Lock()
	collator = collate.New(tag)
	collatorMu.Unlock()
	return nil
}

func icuCollate(l, r string) int {
	collatorMu.Lock()
	defer collatorMu.Unlock()
	return collator.CompareString(l, r)
}

func textArg(v driver.Value) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case []byte:
		return string(x), true
	default:
		return fmt.Sprint(x), true
	}
}

func intArg(v driver.Value) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func titleSortFunc(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	s, ok := textArg(args[0])
	if !ok {
		return nil, nil
	}
	return sortname.TitleSort(s, ""), nil
}

func authorSortFunc(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	s, ok := textArg(args[0])
	if !ok {
		return nil, nil
	}
	return sortname.AuthorSort(s), nil
}

func uuid4Func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	return uuid.NewString(), nil
}

var (
	filtersMu sync.RWMutex
	filters   = map[string]map[int64]struct{}{}
)

// SetDynamicFilter installs the set of book ids matched by
// dynamic_filter(name, book). A nil ids removes the filter.
func SetDynamicFilter(name string, ids []int64) {
	filtersMu.Lock()
	defer filtersMu.Unlock()
	if ids == nil {
		delete(filters, name)
		return
	}
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	filters[name] = set
}

func filterMatch(name string, book int64) (match, installed bool) {
	filtersMu.RLock()
	defer filtersMu.RUnlock()
	set, ok := filters[name]
	if !ok {
		return false, false
	}
	_, match = set[book]
	return match, true
}

// books_list_filter(book) is 1 unless a restriction has been installed
func booksListFilterFunc(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	book, ok := intArg(args[0])
	if !ok {
		return int64(1), nil
	}
	match, installed := filterMatch(BooksListFilter, book)
	if !installed || match {
		return int64(1), nil
	}
	return int64(0), nil
}

func dynamicFilterFunc(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	name, _ := textArg(args[0])
	book, ok := intArg(args[1])
	if !ok {
		return int64(0), nil
	}
	if match, _ := filterMatch(name, book); match {
		return int64(1), nil
	}
	return int64(0), nil
}

// sortConcat collects values keyed by an index and joins them in key order
type sortConcat struct {
	sep    string
	values map[int64]string
}

func (a *sortConcat) Step(ctx *sqlite.FunctionContext, args []driver.Value) error {
	ndx, ok := intArg(args[0])
	v, vok := textArg(args[1])
	if !ok || !vok {
		return nil
	}
	if a.values == nil {
		a.values = make(map[int64]string)
	}
	a.values[ndx] = v
	return nil
}

func (a *sortConcat) WindowInverse(ctx *sqlite.FunctionContext, args []driver.Value) error {
	if ndx, ok := intArg(args[0]); ok {
		delete(a.values, ndx)
	}
	return nil
}

func (a *sortConcat) WindowValue(ctx *sqlite.FunctionContext) (driver.Value, error) {
	if len(a.values) == 0 {
		return nil, nil
	}
	return strings.Join(orderedValues(a.values), a.sep), nil
}

func (a *sortConcat) Final(ctx *sqlite.FunctionContext) {}

func orderedValues(m map[int64]string) []string {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}

// identifiersConcat joins "scheme:value" pairs with commas
type identifiersConcat struct {
	parts []string
}

func (a *identifiersConcat) Step(ctx *sqlite.FunctionContext, args []driver.Value) error {
	k, kok := textArg(args[0])
	v, vok := textArg(args[1])
	if kok && vok {
		a.parts = append(a.parts, k+":"+v)
	}
	return nil
}

func (a *identifiersConcat) WindowInverse(ctx *sqlite.FunctionContext, args []driver.Value) error {
	if len(a.parts) > 0 {
		a.parts = a.parts[1:]
	}
	return nil
}

func (a *identifiersConcat) WindowValue(ctx *sqlite.FunctionContext) (driver.Value, error) {
	return strings.Join(a.parts, ","), nil
}

func (a *identifiersConcat) Final(ctx *sqlite.FunctionContext) {}

// concat joins non-null values with the separator given as first argument
type concat struct {
	sep   string
	parts []string
}

func (a *concat) Step(ctx *sqlite.FunctionContext, args []driver.Value) error {
	if sep, ok := textArg(args[0]); ok {
		a.sep = sep
	}
	if v, ok := textArg(args[1]); ok {
		a.parts = append(a.parts, v)
	}
	return nil
}

func (a *concat) WindowInverse(ctx *sqlite.FunctionContext, args []driver.Value) error {
	if len(a.parts) > 0 {
		a.parts = a.parts[1:]
	}
	return nil
}

func (a *concat) WindowValue(ctx *sqlite.FunctionContext) (driver.Value, error) {
	if len(a.parts) == 0 {
		return nil, nil
	}
	return strings.Join(a.parts, a.sep), nil
}

func (a *concat) Final(ctx *sqlite.FunctionContext) {}

// aumSortConcat encodes authors as name:::sort:::link joined by :#:
type aumSortConcat struct {
	values map[int64]string
}

func (a *aumSortConcat) Step(ctx *sqlite.FunctionContext, args []driver.Value) error {
	ndx, ok := intArg(args[0])
	if !ok {
		return nil
	}
	name, _ := textArg(args[1])
	srt, _ := textArg(args[2])
	link, _ := textArg(args[3])
	if a.values == nil {
		a.values = make(map[int64]string)
	}
	a.values[ndx] = name + ":::" + srt + ":::" + link
	return nil
}

func (a *aumSortConcat) WindowInverse(ctx *sqlite.FunctionContext, args []driver.Value) error {
	if ndx, ok := intArg(args[0]); ok {
		delete(a.values, ndx)
	}
	return nil
}

func (a *aumSortConcat) WindowValue(ctx *sqlite.FunctionContext) (driver.Value, error) {
	if len(a.values) == 0 {
		return nil, nil
	}
	return strings.Join(orderedValues(a.values), ":#:"), nil
}

func (a *aumSortConcat) Final(ctx *sqlite.FunctionContext) {}
