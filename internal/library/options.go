package library

import (
	"time"

	"github.com/franz/shelfdb/internal/formatter"
	"github.com/franz/shelfdb/internal/layout"
	"github.com/franz/shelfdb/internal/report"
	"github.com/franz/shelfdb/internal/sortname"
)

// TrashService receives the directories of deleted books and the files of
// removed formats. *trash.Service queues the moves; trash.Direct runs them
// inline.
type TrashService interface {
	DeleteBooks(library string, dirs map[int64]string) []string
	DeleteFiles(library string, bookID int64, paths []string) []string
}

// Options configures how a library is opened
type Options struct {
	UseHardlinks  bool
	NASMode       *bool // nil means detect from the library root
	CaseSensitive *bool // nil means probe the library root

	// Separator splits multi-valued text given as one string. Default ","
	Separator string

	// SortRules replaces the process-wide title and author sort rules
	SortRules *sortname.Rules
	// CollationLanguage is a BCP-47 tag for icucollate. Empty keeps "und"
	CollationLanguage string

	Trash  TrashService        // nil moves deletions to the trash inline
	Events *report.EventLogger // nil disables the audit log
	Images layout.ImageOps     // nil stores cover data as given

	// Functions is the registry of user template functions, shared by every
	// open library. TemplateFunctions are registered under this library's id.
	Functions         *formatter.Functions
	TemplateFunctions map[string]formatter.Func

	// Retention is the default age for ExpireTrash. Default: 14 days
	Retention time.Duration
}

// DefaultOptions returns the options used by the CLI
func DefaultOptions() Options {
	return Options{
		UseHardlinks: true,
		Separator:    ",",
		Retention:    14 * 24 * time.Hour,
	}
}
