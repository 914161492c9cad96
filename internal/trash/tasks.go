package trash

import (
	"context"
	"fmt"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/franz/shelfdb/internal/util"
)

// MoveBookTask moves one book directory into the trash
type MoveBookTask struct {
	Library string `json:"library"`
	BookID  int64  `json:"book_id"`
	Dir     string `json:"dir"`
}

// Config returns the queue configuration for book moves
func (t MoveBookTask) Config() backlite.QueueConfig {
	return moveQueueConfig("trash_move_book")
}

// MoveFormatTask moves one format file into the trash
type MoveFormatTask struct {
	Library string `json:"library"`
	BookID  int64  `json:"book_id"`
	Path    string `json:"path"`
}

// Config returns the queue configuration for format moves
func (t MoveFormatTask) Config() backlite.QueueConfig {
	return moveQueueConfig("trash_move_format")
}

func moveQueueConfig(name string) backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        name,
		MaxAttempts: 3,
		Backoff:     10 * time.Second,
		Timeout:     10 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// ExpireTask removes old entries from one library's trash
type ExpireTask struct {
	Library string `json:"library"`
}

// Config returns the queue configuration for expiry
func (t ExpireTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "trash_expire",
		MaxAttempts: 1,
		Backoff:     time.Minute,
		Timeout:     30 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: true,
		},
	}
}

func (s *Service) processMoveBook(ctx context.Context, task MoveBookTask) error {
	if err := MoveBook(task.Library, task.BookID, task.Dir, s.cfg.Retry); err != nil {
		util.ErrorLog("Failed to move book %d to trash: %v", task.BookID, err)
		return fmt.Errorf("move book %d: %w", task.BookID, err)
	}
	return nil
}

func (s *Service) processMoveFormat(ctx context.Context, task MoveFormatTask) error {
	if err := MoveFormat(task.Library, task.BookID, task.Path, s.cfg.Retry); err != nil {
		util.ErrorLog("Failed to move %s to trash: %v", task.Path, err)
		return fmt.Errorf("move format of book %d: %w", task.BookID, err)
	}
	return nil
}

func (s *Service) processExpire(ctx context.Context, task ExpireTask) error {
	n, err := Expire(task.Library, s.cfg.Retention, time.Now(), s.cfg.Retry)
	if err != nil {
		return fmt.Errorf("expire trash of %s: %w", task.Library, err)
	}
	if n > 0 {
		util.InfoLog("Expired %d trash entries in %s", n, task.Library)
	}
	return nil
}
