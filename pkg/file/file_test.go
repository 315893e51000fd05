package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimExt(t *testing.T) {
	assert.Equal(t, "movie", TrimExt("/media/movie.srt"))
	assert.Equal(t, "movie.en", TrimExt("movie.en.srt"))
	assert.Equal(t, ".hidden", TrimExt(".hidden"))
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.srt")

	require.NoError(t, WriteAtomic(path, []byte("first"), 0o644))
	require.NoError(t, WriteAtomic(path, []byte("second"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFindRecentAfter(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.srt")
	newPath := filepath.Join(dir, "sub", "new.srt")
	require.NoError(t, WriteAtomic(oldPath, []byte("x"), 0o644))
	require.NoError(t, WriteAtomic(newPath, []byte("y"), 0o644))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past.Add(-time.Hour), past.Add(-time.Hour)))

	found, err := FindRecentAfter(dir, past)
	require.NoError(t, err)
	assert.Equal(t, []string{newPath}, found)
}
