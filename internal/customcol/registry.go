package customcol

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/franz/shelfdb/internal/fieldmeta"
	"github.com/franz/shelfdb/internal/store"
	"github.com/franz/shelfdb/internal/util"
)

var labelPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidLabel reports whether label can name a custom column
func ValidLabel(label string) bool {
	return labelPattern.MatchString(label)
}

// Column is one row of the custom_columns registry
type Column struct {
	ID         int
	Label      string
	Name       string
	Datatype   Datatype
	IsMultiple bool
	IsEditable bool
	Normalized bool
	Display    map[string]any

	sep string
}

// Key returns the field key used by the rest of the library ("#label")
func (c *Column) Key() string {
	return fieldmeta.CustomKey(c.Label)
}

// Table is the value table backing the column
func (c *Column) Table() string {
	return tableName(c.ID)
}

// LinkTable is the book to value link table. Only normalised columns have one.
func (c *Column) LinkTable() string {
	if !c.Normalized {
		return ""
	}
	return linkTableName(c.ID)
}

// HasExtra reports whether the link table stores a series index
func (c *Column) HasExtra() bool {
	_, ok := c.Datatype.(Series)
	return ok
}

// Adapt converts user input to the column's stored form
func (c *Column) Adapt(v any) (any, error) {
	return c.Datatype.Adapt(c, v)
}

func (c *Column) separator() string {
	if c.sep == "" {
		return ","
	}
	return c.sep
}

// Registry holds the custom column definitions of one library
type Registry struct {
	db        *store.Store
	fields    *fieldmeta.Metadata
	separator string

	mu      sync.RWMutex
	byID    map[int]*Column
	byLabel map[string]*Column

	// dirty is set when a column was added or found broken; the library then
	// recomputes every last-modified date on the next open.
	dirty bool
}

// Load runs the startup sequence: drop columns marked for deletion, read the
// registry, then install the TEMP cascade trigger.
func Load(db *store.Store, fields *fieldmeta.Metadata, separator string) (*Registry, error) {
	r := &Registry{
		db:        db,
		fields:    fields,
		separator: separator,
		byID:      make(map[int]*Column),
		byLabel:   make(map[string]*Column),
	}

	if err := r.purgeMarked(); err != nil {
		return nil, err
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	if err := r.installDeleteTrigger(); err != nil {
		return nil, err
	}
	db.OnReopen(r.installDeleteTrigger)
	return r, nil
}

func (r *Registry) purgeMarked() error {
	rows, err := r.db.Query("SELECT id, label FROM custom_columns WHERE mark_for_delete=1")
	if err != nil {
		return fmt.Errorf("failed to read custom columns: %w", err)
	}
	type marked struct {
		id    int
		label string
	}
	var doomed []marked
	for rows.Next() {
		var m marked
		if err := rows.Scan(&m.id, &m.label); err != nil {
			rows.Close()
			return err
		}
		doomed = append(doomed, m)
	}
	rows.Close()
	if len(doomed) == 0 {
		return nil
	}

	return r.db.Transaction(func(tx *store.Tx) error {
		for _, m := range doomed {
			util.InfoLog("Dropping deleted custom column #%s", m.label)
			for _, stmt := range dropStatements(m.id) {
				if _, err := tx.Execute(stmt); err != nil {
					return fmt.Errorf("failed to drop column %d: %w", m.id, err)
				}
			}
			if _, err := tx.Execute("DELETE FROM custom_columns WHERE id=?", m.id); err != nil {
				return err
			}
		}
		return nil
	})
}

type registryRow struct {
	id                               int
	label, name, datatype, display   string
	isMultiple, editable, normalized bool
}

func (r *Registry) reload() error {
	rows, err := r.db.Query(`SELECT id, label, name, datatype, is_multiple, editable, display, normalized
		FROM custom_columns WHERE mark_for_delete=0 ORDER BY id`)
	if err != nil {
		return fmt.Errorf("failed to read custom columns: %w", err)
	}
	var loaded []registryRow
	for rows.Next() {
		var row registryRow
		if err := rows.Scan(&row.id, &row.label, &row.name, &row.datatype, &row.isMultiple,
			&row.editable, &row.display, &row.normalized); err != nil {
			rows.Close()
			return err
		}
		loaded = append(loaded, row)
	}
	rows.Close()

	existing, err := r.existingTables()
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[int]*Column)
	r.byLabel = make(map[string]*Column)
	r.fields.RemoveCustomFields()

	for _, row := range loaded {
		col, err := r.columnFromRow(row)
		if err != nil {
			util.WarnLog("Skipping custom column %q: %v", row.label, err)
			r.dirty = true
			continue
		}
		if _, ok := col.Datatype.(Composite); !ok {
			if !existing[col.Table()] || (col.Normalized && !existing[col.LinkTable()]) {
				util.WarnLog("Skipping custom column #%s: %v: backing table missing",
					col.Label, util.ErrCustomColumnConflict)
				r.dirty = true
				continue
			}
		}
		if err := r.fields.AddCustomField(col.Label, col.Name, col.Datatype.Name(), col.ID,
			col.IsMultiple, col.IsEditable, col.Display); err != nil {
			util.WarnLog("Skipping custom column #%s: %v", col.Label, err)
			r.dirty = true
			continue
		}
		r.byID[col.ID] = col
		r.byLabel[col.Label] = col
	}
	return nil
}

func (r *Registry) columnFromRow(row registryRow) (*Column, error) {
	if !ValidLabel(row.label) {
		return nil, fmt.Errorf("%w: invalid label", util.ErrCustomColumnConflict)
	}
	display := map[string]any{}
	if row.display != "" {
		if err := json.Unmarshal([]byte(row.display), &display); err != nil {
			return nil, fmt.Errorf("%w: bad display JSON: %v", util.ErrCustomColumnConflict, err)
		}
	}
	dt, err := ParseDatatype(row.datatype, display)
	if err != nil {
		return nil, err
	}
	return &Column{
		ID:         row.id,
		Label:      row.label,
		Name:       row.name,
		Datatype:   dt,
		IsMultiple: row.isMultiple,
		IsEditable: row.editable,
		Normalized: dt.Normalized(),
		Display:    display,
		sep:        r.separator,
	}, nil
}

func (r *Registry) existingTables() (map[string]bool, error) {
	rows, err := r.db.Query("SELECT name FROM sqlite_master WHERE type='table'")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names[name] = true
	}
	return names, rows.Err()
}

func (r *Registry) installDeleteTrigger() error {
	if _, err := r.db.Execute("DROP TRIGGER IF EXISTS temp.custom_books_delete_trg"); err != nil {
		return fmt.Errorf("failed to drop custom delete trigger: %w", err)
	}
	sql := deleteTriggerSQL(r.Columns())
	if sql == "" {
		return nil
	}
	if _, err := r.db.Execute(sql); err != nil {
		return fmt.Errorf("failed to create custom delete trigger: %w", err)
	}
	return nil
}

// Create adds a column and its backing objects
func (r *Registry) Create(label, name, datatype string, isMultiple, isEditable bool, display map[string]any) (*Column, error) {
	if !ValidLabel(label) {
		return nil, fmt.Errorf("%w: label %q must match %s", util.ErrCustomColumnConflict, label, labelPattern)
	}
	if display == nil {
		display = map[string]any{}
	}
	dt, err := ParseDatatype(datatype, display)
	if err != nil {
		return nil, err
	}
	if _, ok := dt.(Comments); ok {
		isMultiple = false
	}
	if _, ok := dt.(Composite); ok {
		isEditable = false
	}

	r.mu.RLock()
	_, exists := r.byLabel[label]
	r.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: column %q already exists", util.ErrCustomColumnConflict, label)
	}
	if _, ok := r.fields.Get(label); ok {
		return nil, fmt.Errorf("%w: %q is a built-in field", util.ErrCustomColumnConflict, label)
	}

	displayJSON, err := json.Marshal(display)
	if err != nil {
		return nil, fmt.Errorf("%w: display: %v", util.ErrInvalidValue, err)
	}

	var id int
	err = r.db.Transaction(func(tx *store.Tx) error {
		var n int
		if err := tx.QueryRow("SELECT COUNT(*) FROM custom_columns WHERE label=?", label).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: label %q is still registered (pending delete?)", util.ErrCustomColumnConflict, label)
		}
		if _, err := tx.Execute(`INSERT INTO custom_columns
			(label, name, datatype, is_multiple, editable, display, normalized)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			label, name, dt.Name(), isMultiple, isEditable, string(displayJSON), dt.Normalized()); err != nil {
			return err
		}
		id = int(tx.LastInsertRowID())
		for _, stmt := range createStatements(id, dt, isMultiple) {
			if _, err := tx.Execute(stmt); err != nil {
				return fmt.Errorf("failed to create backing objects: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	col := &Column{
		ID:         id,
		Label:      label,
		Name:       name,
		Datatype:   dt,
		IsMultiple: isMultiple,
		IsEditable: isEditable,
		Normalized: dt.Normalized(),
		Display:    display,
		sep:        r.separator,
	}
	if err := r.fields.AddCustomField(label, name, dt.Name(), id, isMultiple, isEditable, display); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.byID[id] = col
	r.byLabel[label] = col
	r.dirty = true
	r.mu.Unlock()

	if err := r.installDeleteTrigger(); err != nil {
		return nil, err
	}
	util.InfoLog("Created custom column #%s (%s)", label, dt.Name())
	return col, nil
}

// MarkForDelete flags a column; its objects are dropped on the next open.
// The column disappears from this registry immediately.
func (r *Registry) MarkForDelete(label string) error {
	col, ok := r.ByLabel(label)
	if !ok {
		return fmt.Errorf("custom column %q: %w", label, util.ErrNotFound)
	}
	if _, err := r.db.Execute("UPDATE custom_columns SET mark_for_delete=1 WHERE id=?", col.ID); err != nil {
		return fmt.Errorf("failed to mark column for delete: %w", err)
	}
	r.mu.Lock()
	delete(r.byID, col.ID)
	delete(r.byLabel, col.Label)
	r.mu.Unlock()
	r.fields.RemoveField(col.Key())
	return nil
}

// SetMetadata changes a column's display name and display dict
func (r *Registry) SetMetadata(label, name string, display map[string]any) error {
	col, ok := r.ByLabel(label)
	if !ok {
		return fmt.Errorf("custom column %q: %w", label, util.ErrNotFound)
	}
	if display == nil {
		display = col.Display
	}
	dt, err := ParseDatatype(col.Datatype.Name(), display)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(display)
	if err != nil {
		return fmt.Errorf("%w: display: %v", util.ErrInvalidValue, err)
	}
	if _, err := r.db.Execute("UPDATE custom_columns SET name=?, display=? WHERE id=?", name, string(raw), col.ID); err != nil {
		return err
	}
	r.mu.Lock()
	col.Name = name
	col.Display = display
	col.Datatype = dt
	r.mu.Unlock()
	return nil
}

// ByLabel looks a column up by label
func (r *Registry) ByLabel(label string) (*Column, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byLabel[label]
	return c, ok
}

// Columns returns every live column ordered by id
func (r *Registry) Columns() []*Column {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cols := make([]*Column, 0, len(r.byID))
	for _, c := range r.byID {
		cols = append(cols, c)
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].ID < cols[j].ID })
	return cols
}

// Dirty reports whether last-modified dates need recomputing
func (r *Registry) Dirty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dirty
}
