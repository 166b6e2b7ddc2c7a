package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingWriter(t *testing.T) {
	t.Run("appends without rotation below the limit", func(t *testing.T) {
		name := filepath.Join(t.TempDir(), "app.log")
		w, err := NewRotatingWriter(name, 1, 0, false)
		require.NoError(t, err)

		_, err = w.Write([]byte("one\n"))
		require.NoError(t, err)
		_, err = w.Write([]byte("two\n"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		data, err := os.ReadFile(name)
		require.NoError(t, err)
		assert.Equal(t, "one\ntwo\n", string(data))
	})

	t.Run("rotates past max size", func(t *testing.T) {
		dir := t.TempDir()
		name := filepath.Join(dir, "app.log")
		w, err := NewRotatingWriter(name, 1, 0, false)
		require.NoError(t, err)

		big := []byte(strings.Repeat("x", 700*1024))
		_, err = w.Write(big)
		require.NoError(t, err)
		_, err = w.Write(big)
		require.NoError(t, err)
		require.NoError(t, w.Close())

		matches, err := filepath.Glob(name + ".*")
		require.NoError(t, err)
		assert.Len(t, matches, 1)

		info, err := os.Stat(name)
		require.NoError(t, err)
		assert.Equal(t, int64(len(big)), info.Size())
	})

	t.Run("zero size disables rotation", func(t *testing.T) {
		name := filepath.Join(t.TempDir(), "app.log")
		w, err := NewRotatingWriter(name, 0, 0, false)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			_, err = w.Write([]byte("line\n"))
			require.NoError(t, err)
		}
		require.NoError(t, w.Close())

		matches, _ := filepath.Glob(name + ".*")
		assert.Empty(t, matches)
	})

	t.Run("write after close fails", func(t *testing.T) {
		w, err := NewRotatingWriter(filepath.Join(t.TempDir(), "app.log"), 1, 0, false)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		_, err = w.Write([]byte("late"))
		assert.ErrorIs(t, err, os.ErrClosed)
	})

	t.Run("prunes old rolled files", func(t *testing.T) {
		dir := t.TempDir()
		name := filepath.Join(dir, "app.log")
		old := name + ".20200101-000000.000"
		require.NoError(t, os.WriteFile(old, []byte("old"), 0o644))
		past := time.Now().AddDate(0, 0, -30)
		require.NoError(t, os.Chtimes(old, past, past))

		w, err := NewRotatingWriter(name, 1, 7, false)
		require.NoError(t, err)
		defer w.Close()

		_, err = os.Stat(old)
		assert.True(t, os.IsNotExist(err))
	})
}
