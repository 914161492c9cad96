package scan

import (
	"regexp"
	"strings"
)

var (
	// "Title - Author" and "Title - Author1 & Author2"
	titleAuthorPattern = regexp.MustCompile(`^(.+?)\s+-\s+(.+)$`)

	// release tags such as "[retail]"
	bracketTag = regexp.MustCompile(`\s*\[[^\]]*\]\s*`)
	spaces     = regexp.MustCompile(`\s+`)
)

// ParseFileName guesses title and authors from a file name without its
// extension. Authors are nil when the name carries none.
func ParseFileName(name string) (string, []string) {
	name = strings.ReplaceAll(name, "_", " ")
	name = bracketTag.ReplaceAllString(name, " ")
	name = strings.TrimSpace(spaces.ReplaceAllString(name, " "))

	m := titleAuthorPattern.FindStringSubmatch(name)
	if m == nil {
		return name, nil
	}
	var authors []string
	for _, a := range strings.Split(m[2], "&") {
		if a = strings.TrimSpace(a); a != "" {
			authors = append(authors, a)
		}
	}
	return strings.TrimSpace(m[1]), authors
}
