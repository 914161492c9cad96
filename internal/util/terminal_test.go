package util

import "testing"

func TestGetTerminalWidth(t *testing.T) {
	t.Setenv("COLUMNS", "132")
	if w := GetTerminalWidth(); w != 132 {
		t.Errorf("expected $COLUMNS to win, got %d", w)
	}
	t.Setenv("COLUMNS", "wide")
	if w := GetTerminalWidth(); w <= 0 {
		t.Errorf("expected a positive fallback width, got %d", w)
	}
}
