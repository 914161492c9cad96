package util

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDetectFilesystemCaseSensitivity(t *testing.T) {
	tempDir := t.TempDir()

	caseSensitive, err := DetectFilesystemCaseSensitivity(tempDir)
	if err != nil {
		t.Fatalf("DetectFilesystemCaseSensitivity failed: %v", err)
	}

	upper := filepath.Join(tempDir, "Smith")
	if err := os.Mkdir(upper, 0755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	_, err = os.Stat(filepath.Join(tempDir, "smith"))
	collides := err == nil

	if caseSensitive == collides {
		t.Errorf("Detected caseSensitive=%v but lowercase lookup collides=%v", caseSensitive, collides)
	}

	// The probe file must not be left behind
	entries, _ := os.ReadDir(tempDir)
	if len(entries) != 1 {
		t.Errorf("Expected only the test dir to remain, found %d entries", len(entries))
	}
}

func TestPathsEqual(t *testing.T) {
	testCases := []struct {
		name          string
		path1, path2  string
		caseSensitive bool
		expected      bool
	}{
		{"sensitive exact", "Smith/Foo (1)", "Smith/Foo (1)", true, true},
		{"sensitive differs in case", "smith/Foo (1)", "Smith/Foo (1)", true, false},
		{"insensitive differs in case", "smith/Foo (1)", "Smith/Foo (1)", false, true},
		{"insensitive different book", "Smith/Foo (1)", "Smith/Foo (2)", false, false},
		{"trailing slash cleaned", "Smith/Foo (1)/", "Smith/Foo (1)", true, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PathsEqual(tc.path1, tc.path2, tc.caseSensitive); got != tc.expected {
				t.Errorf("PathsEqual(%q, %q, %v) = %v, expected %v",
					tc.path1, tc.path2, tc.caseSensitive, got, tc.expected)
			}
		})
	}
}

func TestIsWithin(t *testing.T) {
	root := t.TempDir()

	testCases := []struct {
		name     string
		path     string
		expected bool
	}{
		{"book dir", filepath.Join(root, "A B", "Hello (1)"), true},
		{"root itself", root, false},
		{"parent of root", filepath.Dir(root), false},
		{"sibling with shared prefix", root + "-other", false},
		{"escapes via dotdot", filepath.Join(root, "A B", "..", ".."), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsWithin(root, tc.path, true); got != tc.expected {
				t.Errorf("IsWithin(%q) = %v, expected %v", tc.path, got, tc.expected)
			}
		})
	}
}

func TestIsDirEmpty(t *testing.T) {
	dir := t.TempDir()

	empty, err := IsDirEmpty(dir)
	if err != nil || !empty {
		t.Fatalf("Expected fresh dir to be empty, got %v, %v", empty, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "cover.jpg"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	empty, err = IsDirEmpty(dir)
	if err != nil || empty {
		t.Errorf("Expected dir with cover to be non-empty, got %v, %v", empty, err)
	}

	empty, err = IsDirEmpty(filepath.Join(dir, "missing"))
	if err != nil || !empty {
		t.Errorf("Expected missing dir to count as empty, got %v, %v", empty, err)
	}
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.epub")
	if err := os.WriteFile(path, []byte("abc"), 0644); err != nil {
		t.Fatal(err)
	}

	sum, err := HashFile(path, LibraryRetryConfig())
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if sum != want {
		t.Errorf("Expected %s, got %s", want, sum)
	}
}

func TestSQLiteURI(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix paths")
	}
	tests := []struct {
		path     string
		expected string
	}{
		{"/lib/metadata.db", "file:///lib/metadata.db?mode=rw"},
		{"/Books?v=1#x/metadata.db", "file:///Books%3Fv=1%23x/metadata.db?mode=rw"},
		{"/50% off/metadata.db", "file:///50%25%20off/metadata.db?mode=rw"},
	}
	for _, tt := range tests {
		if got := SQLiteURI(tt.path, "mode=rw"); got != tt.expected {
			t.Errorf("SQLiteURI(%q) = %q, want %q", tt.path, got, tt.expected)
		}
	}
}
