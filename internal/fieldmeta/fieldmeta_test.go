package fieldmeta

import (
	"errors"
	"testing"

	"github.com/franz/shelfdb/internal/util"
)

func TestBuiltins(t *testing.T) {
	m := New()

	tests := []struct {
		key      string
		datatype string
		multiple bool
	}{
		{"authors", "text", true},
		{"tags", "text", true},
		{"series", "series", false},
		{"rating", "rating", false},
		{"timestamp", "datetime", false},
	}

	for _, tt := range tests {
		f, ok := m.Get(tt.key)
		if !ok {
			t.Errorf("missing built-in field %s", tt.key)
			continue
		}
		if f.Datatype != tt.datatype {
			t.Errorf("%s datatype = %s, want %s", tt.key, f.Datatype, tt.datatype)
		}
		if (f.IsMultiple != nil) != tt.multiple {
			t.Errorf("%s multiple = %v, want %v", tt.key, f.IsMultiple != nil, tt.multiple)
		}
	}
}

func TestSearchTermToFieldKey(t *testing.T) {
	m := New()

	tests := map[string]string{
		"author":  "authors",
		"Tag":     "tags",
		"date":    "timestamp",
		"unknown": "unknown",
	}
	for term, want := range tests {
		if got := m.SearchTermToFieldKey(term); got != want {
			t.Errorf("SearchTermToFieldKey(%q) = %q, want %q", term, got, want)
		}
	}
}

func TestAddAndRemoveCustomField(t *testing.T) {
	m := New()

	if err := m.AddCustomField("mycol", "My Column", "text", 3, true, true, map[string]any{}); err != nil {
		t.Fatalf("AddCustomField failed: %v", err)
	}
	f, ok := m.Get("#mycol")
	if !ok {
		t.Fatal("custom field not registered")
	}
	if f.Table != "custom_column_3" || f.IsMultiple == nil || !f.IsCategory {
		t.Errorf("unexpected field %+v", f)
	}
	if m.SearchTermToFieldKey("#mycol") != "#mycol" {
		t.Error("custom search term not registered")
	}

	err := m.AddCustomField("mycol", "Again", "int", 4, false, true, nil)
	if !errors.Is(err, util.ErrCustomColumnConflict) {
		t.Errorf("expected conflict for duplicate label, got %v", err)
	}

	m.RemoveCustomFields()
	if _, ok := m.Get("#mycol"); ok {
		t.Error("custom field survived RemoveCustomFields")
	}
	if len(m.CustomFieldKeys()) != 0 {
		t.Error("custom keys not cleared")
	}
	if _, ok := m.Get("authors"); !ok {
		t.Error("built-in removed by RemoveCustomFields")
	}
}
