package prefs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/franz/shelfdb/internal/store"
	"github.com/franz/shelfdb/internal/util"
	"golang.org/x/text/encoding/charmap"
)

// BackupName is the human-editable side file written next to metadata.db
const BackupName = "metadata_db_prefs_backup.json"

const namespacePrefix = "namespaced:"

// Prefs is a key to JSON value store backed by the preferences table.
// The whole table is cached on load; reads never touch the database.
type Prefs struct {
	db store.DB

	mu       sync.RWMutex
	values   map[string]any
	raw      map[string]string
	defaults map[string]any

	disabled atomic.Bool
	writes   atomic.Int64
}

// Load reads every preference row into memory
func Load(db store.DB) (*Prefs, error) {
	p := &Prefs{
		db:       db,
		values:   make(map[string]any),
		raw:      make(map[string]string),
		defaults: make(map[string]any),
	}

	rows, err := db.Query("SELECT key, val FROM preferences")
	if err != nil {
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}
	type kv struct{ key, val string }
	var loaded []kv
	for rows.Next() {
		var r kv
		if err := rows.Scan(&r.key, &r.val); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		loaded = append(loaded, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, r := range loaded {
		v, err := decodeRaw(r.val)
		if err != nil {
			util.WarnLog("Ignoring unreadable preference %q: %v", r.key, err)
			continue
		}
		p.values[r.key] = v
		p.raw[r.key] = r.val
	}
	return p, nil
}

// decodeRaw parses a stored value. Rows written by old versions may hold
// cp1252 bytes instead of UTF-8.
func decodeRaw(raw string) (any, error) {
	if !utf8.ValidString(raw) {
		decoded, err := charmap.Windows1252.NewDecoder().String(raw)
		if err != nil {
			return nil, fmt.Errorf("legacy decode: %w", err)
		}
		raw = decoded
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Serialize renders v the way it is stored: sorted keys, two-space indent
func Serialize(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// normalize round-trips v through JSON so cached values have the same shape
// as values loaded from disk.
func normalize(raw string) (any, error) {
	var v any
	err := json.Unmarshal([]byte(raw), &v)
	return v, err
}

// SetDefault registers the value Get returns for a missing key
func (p *Prefs) SetDefault(key string, v any) {
	p.mu.Lock()
	p.defaults[key] = v
	p.mu.Unlock()
}

// Get returns the stored value, the registered default, or nil
func (p *Prefs) Get(key string) any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if v, ok := p.values[key]; ok {
		return v
	}
	return p.defaults[key]
}

// Has reports whether key is stored
func (p *Prefs) Has(key string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.values[key]
	return ok
}

// GetInto decodes the stored value of key into dst. Returns util.ErrNotFound
// when the key is neither stored nor defaulted.
func (p *Prefs) GetInto(key string, dst any) error {
	p.mu.RLock()
	raw, ok := p.raw[key]
	def, hasDef := p.defaults[key]
	p.mu.RUnlock()

	if !ok {
		if !hasDef {
			return fmt.Errorf("preference %q: %w", key, util.ErrNotFound)
		}
		s, err := Serialize(def)
		if err != nil {
			return err
		}
		raw = s
	}
	return json.Unmarshal([]byte(raw), dst)
}

// Set stores v under key. Nothing is written when the serialized value is
// unchanged.
func (p *Prefs) Set(key string, v any) error {
	return p.set(p.db, key, v)
}

func (p *Prefs) set(db store.DB, key string, v any) error {
	if p.disabled.Load() {
		return nil
	}
	raw, err := Serialize(v)
	if err != nil {
		return fmt.Errorf("preference %q: %w: %v", key, util.ErrInvalidValue, err)
	}

	p.mu.RLock()
	current, ok := p.raw[key]
	p.mu.RUnlock()
	if ok && current == raw {
		return nil
	}

	if _, err := db.Execute("INSERT OR REPLACE INTO preferences (key, val) VALUES (?, ?)", key, raw); err != nil {
		return fmt.Errorf("failed to write preference %q: %w", key, err)
	}
	p.writes.Add(1)

	norm, err := normalize(raw)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.values[key] = norm
	p.raw[key] = raw
	p.mu.Unlock()
	return nil
}

// SetMany stores several values in one transaction
func (p *Prefs) SetMany(values map[string]any) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return p.db.Transaction(func(tx *store.Tx) error {
		for _, k := range keys {
			if err := p.set(tx, k, values[k]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes key
func (p *Prefs) Delete(key string) error {
	if p.disabled.Load() {
		return nil
	}
	if _, err := p.db.Execute("DELETE FROM preferences WHERE key=?", key); err != nil {
		return fmt.Errorf("failed to delete preference %q: %w", key, err)
	}
	p.mu.Lock()
	delete(p.values, key)
	delete(p.raw, key)
	p.mu.Unlock()
	return nil
}

func namespacedKey(ns, key string) (string, error) {
	if strings.Contains(ns, ":") || strings.Contains(key, ":") {
		return "", fmt.Errorf("%w: colons are not allowed in namespace %q or key %q", util.ErrInvalidValue, ns, key)
	}
	return namespacePrefix + ns + ":" + key, nil
}

// GetNamespaced reads key within namespace ns
func (p *Prefs) GetNamespaced(ns, key string) (any, error) {
	k, err := namespacedKey(ns, key)
	if err != nil {
		return nil, err
	}
	return p.Get(k), nil
}

// SetNamespaced writes key within namespace ns
func (p *Prefs) SetNamespaced(ns, key string, v any) error {
	k, err := namespacedKey(ns, key)
	if err != nil {
		return err
	}
	return p.Set(k, v)
}

// DisableSetting turns every write into a no-op while on is true
func (p *Prefs) DisableSetting(on bool) {
	p.disabled.Store(on)
}

// Writes returns the number of rows written since Load
func (p *Prefs) Writes() int64 {
	return p.writes.Load()
}

// Keys returns the stored keys in sorted order
func (p *Prefs) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of every stored value
func (p *Prefs) Snapshot() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]any, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

// WriteSerialized writes every preference to dir/metadata_db_prefs_backup.json
func (p *Prefs) WriteSerialized(dir string) error {
	raw, err := Serialize(p.Snapshot())
	if err != nil {
		return err
	}
	path := filepath.Join(dir, BackupName)
	tmp := path + ".part"
	if err := os.WriteFile(tmp, []byte(raw), 0644); err != nil {
		return util.NewFSError(tmp, err)
	}
	if err := util.RetryableRename(tmp, path, util.LibraryRetryConfig()); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// ReadSerialized reads dir/metadata_db_prefs_backup.json
func ReadSerialized(dir string) (map[string]any, error) {
	path := filepath.Join(dir, BackupName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, util.NewFSError(path, err)
	}
	if !utf8.Valid(data) {
		if data, err = charmap.Windows1252.NewDecoder().Bytes(data); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
	}
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if values == nil {
		return nil, errors.New("preferences backup is empty")
	}
	return values, nil
}
