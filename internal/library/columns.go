package library

import (
	"fmt"

	"github.com/franz/shelfdb/internal/customcol"
	"github.com/franz/shelfdb/internal/report"
	"github.com/franz/shelfdb/internal/util"
)

// CustomColumns returns every custom column, ordered by id
func (l *Library) CustomColumns() []*customcol.Column {
	return l.cols.Columns()
}

// CustomColumn looks a custom column up by label
func (l *Library) CustomColumn(label string) (*customcol.Column, bool) {
	return l.cols.ByLabel(label)
}

// CreateCustomColumn adds a custom column. It is usable at once; every
// book's modification date is refreshed on the next open.
func (l *Library) CreateCustomColumn(label, name, datatype string, isMultiple, isEditable bool, display map[string]any) (*customcol.Column, error) {
	col, err := l.cols.Create(label, name, datatype, isMultiple, isEditable, display)
	if err != nil {
		return nil, err
	}
	l.events.LogColumn(report.EventColumnCreate, l.root, label, datatype)

	l.fieldsMu.Lock()
	l.registerColumn(col)
	l.fieldsMu.Unlock()

	if t, ok := l.cat.Get(col.Key()); ok {
		err := l.cat.Write([]string{col.Key()}, func() error {
			return t.Read(l.db)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load column %s: %w", col.Key(), err)
		}
	}
	if err := l.prefs.Set(dirtyDatesPref, true); err != nil {
		util.WarnLog("Failed to flag modification dates for refresh: %v", err)
	}
	return col, nil
}

// DeleteCustomColumn hides a custom column at once. Its tables are dropped
// on the next open.
func (l *Library) DeleteCustomColumn(label string) error {
	col, ok := l.cols.ByLabel(label)
	if !ok {
		return fmt.Errorf("custom column %q: %w", label, util.ErrNotFound)
	}
	if err := l.cols.MarkForDelete(label); err != nil {
		return err
	}
	l.fieldsMu.Lock()
	l.unregisterColumn(col.Key())
	l.fieldsMu.Unlock()
	l.events.LogColumn(report.EventColumnDelete, l.root, label, col.Datatype.Name())
	util.InfoLog("Custom column #%s marked for deletion", label)
	return nil
}

// SetCustomColumnMetadata changes the display name and display settings of
// a column. A composite column picks up its new template immediately.
func (l *Library) SetCustomColumnMetadata(label, name string, display map[string]any) error {
	if err := l.cols.SetMetadata(label, name, display); err != nil {
		return err
	}
	col, ok := l.cols.ByLabel(label)
	if !ok {
		return nil
	}
	if _, isComposite := col.Datatype.(customcol.Composite); isComposite {
		l.fieldsMu.Lock()
		l.registerColumn(col)
		l.fieldsMu.Unlock()
	}
	return nil
}
