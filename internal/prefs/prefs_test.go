package prefs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/franz/shelfdb/internal/store"
	"github.com/franz/shelfdb/internal/util"
)

func setupPrefs(t *testing.T) (*store.Store, *Prefs) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), store.DBName))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	p, err := Load(s)
	if err != nil {
		t.Fatalf("failed to load prefs: %v", err)
	}
	return s, p
}

func TestSetIsIdempotent(t *testing.T) {
	_, p := setupPrefs(t)

	v := map[string]any{"b": 2, "a": []string{"x", "y"}}
	if err := p.Set("grouped_search_terms", v); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := p.Set("grouped_search_terms", v); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if p.Writes() != 1 {
		t.Errorf("expected exactly one write, got %d", p.Writes())
	}

	if err := p.Set("grouped_search_terms", map[string]any{"b": 3}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if p.Writes() != 2 {
		t.Errorf("expected a second write after change, got %d", p.Writes())
	}
}

func TestSerializeSortsKeys(t *testing.T) {
	got, err := Serialize(map[string]any{"zeta": 1, "alpha": "<b>"})
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	want := "{\n  \"alpha\": \"<b>\",\n  \"zeta\": 1\n}"
	if got != want {
		t.Errorf("Serialize = %q, want %q", got, want)
	}
}

func TestGetDefaultsAndReload(t *testing.T) {
	s, p := setupPrefs(t)

	p.SetDefault("field_metadata", map[string]any{})
	if v := p.Get("field_metadata"); v == nil {
		t.Error("expected default value")
	}
	if v := p.Get("missing"); v != nil {
		t.Errorf("expected nil for unknown key, got %v", v)
	}

	if err := p.Set("user_categories", map[string]any{"Favs": []any{"x"}}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	reloaded, err := Load(s)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	var cats map[string][]string
	if err := reloaded.GetInto("user_categories", &cats); err != nil {
		t.Fatalf("GetInto failed: %v", err)
	}
	if len(cats["Favs"]) != 1 || cats["Favs"][0] != "x" {
		t.Errorf("unexpected reloaded value %v", cats)
	}

	var none int
	if err := reloaded.GetInto("nope", &none); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s, p := setupPrefs(t)

	p.Set("k", 1)
	if err := p.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if p.Has("k") {
		t.Error("key still cached after delete")
	}
	var n int
	s.QueryRow("SELECT COUNT(*) FROM preferences WHERE key='k'").Scan(&n)
	if n != 0 {
		t.Error("row still present after delete")
	}
}

func TestNamespaced(t *testing.T) {
	s, p := setupPrefs(t)

	if err := p.SetNamespaced("plugin", "opt", true); err != nil {
		t.Fatalf("SetNamespaced failed: %v", err)
	}
	v, err := p.GetNamespaced("plugin", "opt")
	if err != nil || v != true {
		t.Errorf("GetNamespaced = %v, %v", v, err)
	}

	var n int
	s.QueryRow("SELECT COUNT(*) FROM preferences WHERE key='namespaced:plugin:opt'").Scan(&n)
	if n != 1 {
		t.Error("namespaced key not stored under the namespaced: prefix")
	}

	tests := []struct{ ns, key string }{
		{"a:b", "k"},
		{"ns", "k:v"},
	}
	for _, tt := range tests {
		if err := p.SetNamespaced(tt.ns, tt.key, 1); !errors.Is(err, util.ErrInvalidValue) {
			t.Errorf("SetNamespaced(%q, %q) = %v, want ErrInvalidValue", tt.ns, tt.key, err)
		}
	}
}

func TestDisableSetting(t *testing.T) {
	_, p := setupPrefs(t)

	p.DisableSetting(true)
	p.Set("k", "v")
	if p.Has("k") || p.Writes() != 0 {
		t.Error("write happened while setting was disabled")
	}
	p.DisableSetting(false)
	p.Set("k", "v")
	if !p.Has("k") {
		t.Error("write did not happen after re-enabling")
	}
}

func TestLegacyBytestring(t *testing.T) {
	s, _ := setupPrefs(t)

	// "café" in cp1252 inside a JSON string
	raw := "\"caf\xe9\""
	if _, err := s.Execute("INSERT INTO preferences (key, val) VALUES (?, ?)", "legacy", raw); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	p, err := Load(s)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if v := p.Get("legacy"); v != "café" {
		t.Errorf("legacy value = %q, want %q", v, "café")
	}
}

func TestSerializedRoundTrip(t *testing.T) {
	_, p := setupPrefs(t)
	dir := t.TempDir()

	p.SetMany(map[string]any{"a": 1.0, "b": "two"})
	if err := p.WriteSerialized(dir); err != nil {
		t.Fatalf("WriteSerialized failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, BackupName))
	if err != nil {
		t.Fatalf("backup not written: %v", err)
	}
	if !strings.Contains(string(data), "\"b\": \"two\"") {
		t.Errorf("unexpected backup content: %s", data)
	}

	values, err := ReadSerialized(dir)
	if err != nil {
		t.Fatalf("ReadSerialized failed: %v", err)
	}
	if values["a"] != 1.0 || values["b"] != "two" {
		t.Errorf("unexpected values %v", values)
	}

	if _, err := ReadSerialized(t.TempDir()); !errors.Is(err, util.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing backup, got %v", err)
	}
}
