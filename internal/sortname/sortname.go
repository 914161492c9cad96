package sortname

import (
	"regexp"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"golang.org/x/text/language"
)

// Author sort copy methods
const (
	MethodInvert  = "invert"
	MethodCopy    = "copy"
	MethodComma   = "comma"
	MethodNoComma = "nocomma"
)

// Rules configures how sort strings are derived from titles and author names
type Rules struct {
	AuthorCopyMethod   string
	AuthorPrefixes     []string
	AuthorSuffixes     []string
	AuthorCopyWords    []string
	UseSurnamePrefixes bool
	SurnamePrefixes    []string

	// TitleArticles maps an ISO 639-3 language code to its leading articles.
	TitleArticles map[string][]string
	// StrictlyAlphabetic disables article handling for titles.
	StrictlyAlphabetic bool
	DefaultLanguage    string

	patterns map[string]*regexp.Regexp
}

// DefaultRules returns the stock rule set
func DefaultRules() *Rules {
	r := &Rules{
		AuthorCopyMethod: MethodComma,
		AuthorPrefixes:   []string{"Mr", "Mrs", "Ms", "Dr", "Prof"},
		AuthorSuffixes: []string{"Jr", "Sr", "Inc", "Ph.D", "Phd", "MD", "M.D",
			"I", "II", "III", "IV", "Junior", "Senior"},
		AuthorCopyWords: []string{"Agency", "Corporation", "Company", "Co.", "Council",
			"Committee", "Inc.", "Institute", "National", "Society", "Club", "Team",
			"Software", "Games", "Entertainment", "Media", "Studios"},
		SurnamePrefixes: []string{"da", "de", "di", "la", "le", "van", "von", "der"},
		TitleArticles: map[string][]string{
			"eng": {"A", "The", "An"},
			"fra": {"Le", "La", "Les", "L'", "Un", "Une", "Des", "De la", "De", "D'"},
			"deu": {"Der", "Die", "Das", "Den", "Dem", "Des", "Ein", "Eine", "Einen", "Einem", "Eines"},
			"spa": {"El", "La", "Lo", "Los", "Las", "Un", "Una", "Unos", "Unas"},
			"ita": {"Lo", "Il", "L'", "La", "Gli", "I", "Le", "Uno", "Un", "Un'", "Una"},
			"nld": {"De", "Het", "Een", "'n", "'s", "Ene", "Ener", "Enes", "Den", "Der", "Des"},
			"por": {"A", "O", "Os", "As", "Um", "Uns", "Uma", "Umas"},
			"swe": {"En", "Ett", "Det", "Den", "De"},
			"dan": {"En", "Et", "Den", "Det", "De"},
			"nor": {"En", "Et", "Ei", "Den", "Det", "De"},
		},
		DefaultLanguage: "eng",
	}
	r.compile()
	return r
}

var current atomic.Pointer[Rules]

func init() {
	current.Store(DefaultRules())
}

// SetDefault replaces the rule set used by the package-level functions
func SetDefault(r *Rules) {
	if r == nil {
		r = DefaultRules()
	}
	r.compile()
	current.Store(r)
}

// Default returns the rule set used by the package-level functions
func Default() *Rules {
	return current.Load()
}

// AuthorSort converts "First Last" to "Last, First" with the default rules
func AuthorSort(author string) string {
	return current.Load().AuthorSort(author)
}

// TitleSort moves a leading article to the end with the default rules
func TitleSort(title, lang string) string {
	return current.Load().TitleSort(title, lang)
}

func (r *Rules) compile() {
	r.patterns = make(map[string]*regexp.Regexp, len(r.TitleArticles))
	for lang, articles := range r.TitleArticles {
		if len(articles) == 0 {
			continue
		}
		alts := make([]string, 0, len(articles))
		for _, a := range articles {
			q := regexp.QuoteMeta(a)
			if strings.HasSuffix(a, "'") {
				alts = append(alts, q+`\s*`)
			} else {
				alts = append(alts, q+`\s+`)
			}
		}
		r.patterns[lang] = regexp.MustCompile(`(?i)^(` + strings.Join(alts, "|") + `)`)
	}
}

var bracketed = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]|\{[^}]*\}`)

// AuthorSort derives the sort form of a single author name
func (r *Rules) AuthorSort(author string) string {
	if author == "" {
		return ""
	}
	method := r.AuthorCopyMethod
	if method == "" {
		method = MethodInvert
	}
	if method == MethodCopy {
		return author
	}

	stripped := strings.TrimSpace(bracketed.ReplaceAllString(author, ""))
	if method == MethodComma && strings.Contains(stripped, ",") {
		return author
	}

	tokens := strings.Fields(stripped)
	if len(tokens) < 2 {
		return author
	}

	copyWords := lowerSet(r.AuthorCopyWords, false)
	for _, tok := range tokens {
		if copyWords[strings.ToLower(tok)] {
			return author
		}
	}

	prefixes := lowerSet(r.AuthorPrefixes, true)
	suffixes := lowerSet(r.AuthorSuffixes, true)

	first := 0
	for i, tok := range tokens {
		if !prefixes[normToken(tok)] {
			first = i
			break
		}
	}
	last := len(tokens) - 1
	for i := len(tokens) - 1; i > first; i-- {
		if !suffixes[normToken(tokens[i])] {
			last = i
			break
		}
	}
	suffix := strings.Join(tokens[last+1:], " ")

	if r.UseSurnamePrefixes && last > first {
		surnamePrefixes := lowerSet(r.SurnamePrefixes, false)
		if surnamePrefixes[strings.ToLower(tokens[last-1])] {
			tokens[last-1] += " " + tokens[last]
			last--
		}
	}

	atokens := append([]string{tokens[last]}, tokens[first:last]...)
	numToks := len(atokens)
	if suffix != "" {
		atokens = append(atokens, suffix)
	}
	if method != MethodNoComma && numToks > 1 {
		atokens[0] += ","
	}
	return strings.Join(atokens, " ")
}

func normToken(s string) string {
	return strings.TrimRight(strings.ToLower(s), ".")
}

func lowerSet(words []string, trimDot bool) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		if trimDot {
			set[normToken(w)] = true
		} else {
			set[strings.ToLower(w)] = true
		}
	}
	return set
}

const ignoreStarts = "'\"‘’‚‛“”„‟"

// TitleSort moves a leading article of the title's language to the end:
// "The Hobbit" becomes "Hobbit, The".
func (r *Rules) TitleSort(title, lang string) string {
	title = strings.TrimSpace(title)
	if r.StrictlyAlphabetic || title == "" {
		return title
	}
	title = trimIgnoredStart(title)

	pat := r.patterns[r.languageKey(lang)]
	if pat == nil {
		return strings.TrimSpace(title)
	}
	if m := pat.FindStringSubmatch(title); m != nil {
		prep := m[1]
		rest := trimIgnoredStart(title[len(prep):])
		title = rest + ", " + strings.TrimSpace(prep)
	}
	return strings.TrimSpace(title)
}

func trimIgnoredStart(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size > 0 && strings.ContainsRune(ignoreStarts, r) {
		return s[size:]
	}
	return s
}

// languageKey maps "en", "eng" or "en-US" to the ISO 639-3 code used in TitleArticles
func (r *Rules) languageKey(lang string) string {
	if lang == "" {
		lang = r.DefaultLanguage
	}
	if _, ok := r.patterns[lang]; ok {
		return lang
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return r.DefaultLanguage
	}
	base, _ := tag.Base()
	if iso3 := base.ISO3(); iso3 != "" {
		if _, ok := r.patterns[iso3]; ok {
			return iso3
		}
	}
	return r.DefaultLanguage
}
