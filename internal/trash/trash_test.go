package trash

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeBook(t *testing.T, library, rel string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(library, rel)
	require.NoError(t, os.MkdirAll(dir, 0755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestMoveBookAndTakeBack(t *testing.T) {
	lib := t.TempDir()
	dir := makeBook(t, lib, "Author/Title (1)", map[string]string{"Title - Author.epub": "epub", "cover.jpg": "img"})
	require.NoError(t, WriteMetadata(dir, []byte(`{"title":"Title"}`)))

	require.NoError(t, MoveBook(lib, 1, dir, nil))
	assert.NoDirExists(t, dir)
	assert.NoDirExists(t, filepath.Join(lib, "Author"), "empty author dir should be pruned")

	entries, err := List(lib)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, KindBook, entries[0].Kind)
	assert.Equal(t, int64(1), entries[0].BookID)
	assert.Equal(t, []string{"Title - Author.epub", "cover.jpg"}, entries[0].Files)

	meta, err := ReadMetadata(lib, 1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Title"}`, string(meta))

	dest := filepath.Join(lib, "Author", "Title (1)")
	require.NoError(t, TakeBook(lib, 1, dest, nil))
	assert.FileExists(t, filepath.Join(dest, "Title - Author.epub"))
	assert.NoFileExists(t, filepath.Join(dest, MetadataName))

	entries, err = List(lib)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMoveBookRejectsOutsidePaths(t *testing.T) {
	lib := t.TempDir()
	outside := makeBook(t, t.TempDir(), "x", map[string]string{"a.txt": "a"})

	err := MoveBook(lib, 1, outside, nil)
	require.Error(t, err)
	assert.DirExists(t, outside)
}

func TestMoveBookReplacesOlderEntry(t *testing.T) {
	lib := t.TempDir()
	first := makeBook(t, lib, "A/B (7)", map[string]string{"old.txt": "old"})
	require.NoError(t, MoveBook(lib, 7, first, nil))
	second := makeBook(t, lib, "A/B (7)", map[string]string{"new.txt": "new"})
	require.NoError(t, MoveBook(lib, 7, second, nil))

	entries, err := List(lib)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"new.txt"}, entries[0].Files)
}

func TestFormatEntries(t *testing.T) {
	lib := t.TempDir()
	dir := makeBook(t, lib, "A/B (3)", map[string]string{"B - A.epub": "e", "B - A.pdf": "p"})

	require.NoError(t, MoveFormat(lib, 3, filepath.Join(dir, "B - A.pdf"), nil))
	assert.NoFileExists(t, filepath.Join(dir, "B - A.pdf"))
	assert.FileExists(t, filepath.Join(dir, "B - A.epub"))

	path, ok := FormatFile(lib, 3, "PDF")
	require.True(t, ok)
	assert.Equal(t, "B - A.pdf", filepath.Base(path))
	_, ok = FormatFile(lib, 3, "EPUB")
	assert.False(t, ok)

	entries, err := List(lib)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, KindFormat, entries[0].Kind)

	require.NoError(t, DropFormat(lib, path, nil))
	entries, err = List(lib)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExpire(t *testing.T) {
	lib := t.TempDir()
	old := makeBook(t, lib, "A/Old (1)", map[string]string{"f.txt": "1"})
	fresh := makeBook(t, lib, "A/Fresh (2)", map[string]string{"f.txt": "2"})
	require.NoError(t, MoveBook(lib, 1, old, nil))
	require.NoError(t, MoveBook(lib, 2, fresh, nil))

	past := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(entryDir(lib, KindBook, 1), past, past))

	n, err := Expire(lib, 14*24*time.Hour, time.Now(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := List(lib)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].BookID)

	require.NoError(t, Empty(lib, nil))
	assert.NoDirExists(t, Root(lib))
}

func TestServiceMovesInBackground(t *testing.T) {
	lib := t.TempDir()
	cfg := DefaultConfig()
	cfg.StateDir = t.TempDir()
	cfg.Workers = 1

	svc, err := NewService(cfg)
	require.NoError(t, err)
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop(context.Background())

	dir := makeBook(t, lib, "A/B (5)", map[string]string{"B - A.txt": "text", "B - A.epub": "epub"})
	ids := svc.DeleteFiles(lib, 5, []string{filepath.Join(dir, "B - A.txt")})
	require.Len(t, ids, 1)
	require.NoError(t, svc.Wait(ctx, ids))
	assert.NoFileExists(t, filepath.Join(dir, "B - A.txt"))

	ids = svc.DeleteBooks(lib, map[int64]string{5: dir})
	require.Len(t, ids, 1)
	require.NoError(t, svc.Wait(ctx, ids))

	assert.NoDirExists(t, dir)
	entries, err := List(lib)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, KindBook, entries[0].Kind)
	assert.Equal(t, []string{"B - A.epub"}, entries[0].Files)
	assert.Equal(t, KindFormat, entries[1].Kind)
}

func TestServiceRejectsBadSchedule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StateDir = t.TempDir()
	cfg.ExpireSchedule = "not a schedule"
	_, err := NewService(cfg)
	assert.Error(t, err)
}

func TestQueueLoggerPairs(t *testing.T) {
	assert.Equal(t, " id=3 queue=q", kv([]any{"id", 3, "queue", "q"}))
	assert.Equal(t, " odd", kv([]any{"odd"}))
	assert.Equal(t, "", kv(nil))
}

func TestDirectMovesInline(t *testing.T) {
	lib := t.TempDir()
	dir := makeBook(t, lib, "A/B (9)", map[string]string{"B - A.epub": "e", "B - A.pdf": "p"})

	d := Direct{}
	assert.Nil(t, d.DeleteFiles(lib, 9, []string{filepath.Join(dir, "B - A.pdf")}))
	_, ok := FormatFile(lib, 9, "pdf")
	assert.True(t, ok)

	assert.Nil(t, d.DeleteBooks(lib, map[int64]string{9: dir}))
	assert.NoDirExists(t, dir)
	entries, err := List(lib)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}
