package library

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/franz/shelfdb/internal/store"
	"github.com/franz/shelfdb/internal/util"
)

// SetConversionOptions stores opaque conversion settings per book for one
// target format
func (l *Library) SetConversionOptions(format string, options map[int64][]byte) error {
	format = strings.ToUpper(format)
	rows := make([][]any, 0, len(options))
	for _, book := range slices.Sorted(maps.Keys(options)) {
		rows = append(rows, []any{format, book, options[book]})
	}
	if err := l.db.ExecuteMany("INSERT OR REPLACE INTO conversion_options (format, book, data) VALUES (?, ?, ?)", rows); err != nil {
		return fmt.Errorf("failed to store conversion options: %w", err)
	}
	return nil
}

// ConversionOptions returns the stored settings of book for format
func (l *Library) ConversionOptions(book int64, format string) ([]byte, bool, error) {
	var data []byte
	err := l.db.QueryRow("SELECT data FROM conversion_options WHERE book=? AND format=?", book, strings.ToUpper(format)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read conversion options: %w", err)
	}
	return data, true, nil
}

// DeleteConversionOptions drops the settings of books for format
func (l *Library) DeleteConversionOptions(books []int64, format string) error {
	rows := make([][]any, 0, len(books))
	for _, book := range books {
		rows = append(rows, []any{book, strings.ToUpper(format)})
	}
	return l.db.ExecuteMany("DELETE FROM conversion_options WHERE book=? AND format=?", rows)
}

// AddCustomData stores plugin owned values, encoded as JSON, under name.
// With deleteFirst every existing value of name is dropped first.
func (l *Library) AddCustomData(name string, values map[int64]any, deleteFirst bool) error {
	rows := make([][]any, 0, len(values))
	for _, book := range slices.Sorted(maps.Keys(values)) {
		raw, err := json.Marshal(values[book])
		if err != nil {
			return fmt.Errorf("%w: custom data %s of book %d: %v", util.ErrInvalidValue, name, book, err)
		}
		rows = append(rows, []any{book, name, string(raw)})
	}
	return l.db.Transaction(func(tx *store.Tx) error {
		if deleteFirst {
			if _, err := tx.Execute("DELETE FROM books_plugin_data WHERE name=?", name); err != nil {
				return err
			}
		}
		return tx.ExecuteMany("INSERT OR REPLACE INTO books_plugin_data (book, name, val) VALUES (?, ?, ?)", rows)
	})
}

// CustomData returns the values stored under name for books, or for every
// book when books is nil. Books without a value get def.
func (l *Library) CustomData(name string, books []int64, def any) (map[int64]any, error) {
	rows, err := l.db.Query("SELECT book, val FROM books_plugin_data WHERE name=?", name)
	if err != nil {
		return nil, fmt.Errorf("failed to read custom data: %w", err)
	}
	stored := make(map[int64]any)
	for rows.Next() {
		var book int64
		var raw string
		if err := rows.Scan(&book, &raw); err != nil {
			rows.Close()
			return nil, err
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			util.WarnLog("Ignoring undecodable custom data %s of book %d: %v", name, book, err)
			continue
		}
		stored[book] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if books == nil {
		return stored, nil
	}
	out := make(map[int64]any, len(books))
	for _, book := range books {
		if v, ok := stored[book]; ok {
			out[book] = v
		} else {
			out[book] = def
		}
	}
	return out, nil
}

// DeleteCustomData drops the values stored under name for books, or for
// every book when books is nil
func (l *Library) DeleteCustomData(name string, books []int64) error {
	if books == nil {
		_, err := l.db.Execute("DELETE FROM books_plugin_data WHERE name=?", name)
		return err
	}
	rows := make([][]any, 0, len(books))
	for _, book := range books {
		rows = append(rows, []any{book, name})
	}
	return l.db.ExecuteMany("DELETE FROM books_plugin_data WHERE book=? AND name=?", rows)
}

// DirtiedBooks returns the books changed since their metadata was last
// written out
func (l *Library) DirtiedBooks() ([]int64, error) {
	rows, err := l.db.Query("SELECT book FROM metadata_dirtied ORDER BY book")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearDirtied removes books from the dirtied queue
func (l *Library) ClearDirtied(books []int64) error {
	rows := make([][]any, 0, len(books))
	for _, book := range books {
		rows = append(rows, []any{book})
	}
	return l.db.ExecuteMany("DELETE FROM metadata_dirtied WHERE book=?", rows)
}

// ReadPosition is where a user stopped reading a format on a device
type ReadPosition struct {
	Device  string
	CFI     string
	Epoch   float64
	PosFrac float64
}

// SetLastReadPosition records a reading position. An empty cfi forgets it.
func (l *Library) SetLastReadPosition(book int64, format, user, device, cfi string, epoch, posFrac float64) error {
	format = strings.ToUpper(format)
	if cfi == "" {
		_, err := l.db.Execute("DELETE FROM last_read_positions WHERE user=? AND device=? AND book=? AND format=?",
			user, device, book, format)
		return err
	}
	_, err := l.db.Execute(`INSERT OR REPLACE INTO last_read_positions (book, format, user, device, cfi, epoch, pos_frac)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, book, format, user, device, cfi, epoch, posFrac)
	if err != nil {
		return fmt.Errorf("failed to store read position: %w", err)
	}
	return nil
}

// LastReadPositions returns the positions of user in a format, newest first
func (l *Library) LastReadPositions(book int64, format, user string) ([]ReadPosition, error) {
	rows, err := l.db.Query(`SELECT device, cfi, epoch, pos_frac FROM last_read_positions
		WHERE book=? AND format=? AND user=? ORDER BY epoch DESC`, book, strings.ToUpper(format), user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReadPosition
	for rows.Next() {
		var p ReadPosition
		if err := rows.Scan(&p.Device, &p.CFI, &p.Epoch, &p.PosFrac); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetDynamicFilter installs the named set of book ids that the SQL function
// dynamic_filter(name, book) matches. nil removes the filter.
func (l *Library) SetDynamicFilter(name string, books []int64) {
	store.SetDynamicFilter(name, books)
}
