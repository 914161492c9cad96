package trash

import "github.com/franz/shelfdb/internal/util"

// Direct moves items into the trash on the calling goroutine. It has the
// same surface as Service for callers that do not run a queue.
type Direct struct {
	Retry *util.RetryConfig
}

// DeleteBooks moves each directory into the trash and logs failures
func (d Direct) DeleteBooks(library string, dirs map[int64]string) []string {
	for _, id := range sortedIDs(dirs) {
		if err := MoveBook(library, id, dirs[id], d.Retry); err != nil {
			util.ErrorLog("Failed to move book %d to trash: %v", id, err)
		}
	}
	return nil
}

// DeleteFiles moves format files of one book into the trash
func (d Direct) DeleteFiles(library string, bookID int64, paths []string) []string {
	for _, p := range paths {
		if err := MoveFormat(library, bookID, p, d.Retry); err != nil {
			util.ErrorLog("Failed to move %s to trash: %v", p, err)
		}
	}
	return nil
}
