package prompt

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should fall back to the built-in instruction", func(t *testing.T) {
		src, err := New("")
		require.NoError(t, err)
		t.Cleanup(func() { src.Close() })

		assert.Equal(t, DefaultInstruction, src.Text())
		assert.Contains(t, src.Text(), "Batak")
	})

	t.Run("should load an override file", func(t *testing.T) {
		dir, err := os.MkdirTemp("", "batak-prompt-test")
		require.NoError(t, err)
		t.Cleanup(func() { os.RemoveAll(dir) })

		path := filepath.Join(dir, "prompt.txt")
		require.NoError(t, os.WriteFile(path, []byte("custom instruction"), 0o644))

		src, err := New(path)
		require.NoError(t, err)
		t.Cleanup(func() { src.Close() })

		assert.Equal(t, "custom instruction", src.Text())
	})

	t.Run("should fail when the configured file is missing", func(t *testing.T) {
		_, err := New("/nonexistent/batak-prompt.txt")
		assert.Error(t, err)
	})
}

func TestReload(t *testing.T) {
	t.Run("should pick up edits to the override file", func(t *testing.T) {
		dir, err := os.MkdirTemp("", "batak-prompt-test")
		require.NoError(t, err)
		t.Cleanup(func() { os.RemoveAll(dir) })

		path := filepath.Join(dir, "prompt.txt")
		require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

		src, err := New(path)
		require.NoError(t, err)
		t.Cleanup(func() { src.Close() })

		require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))

		assert.Eventually(t, func() bool {
			return src.Text() == "v2"
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("should ignore other files in the directory", func(t *testing.T) {
		dir, err := os.MkdirTemp("", "batak-prompt-test")
		require.NoError(t, err)
		t.Cleanup(func() { os.RemoveAll(dir) })

		path := filepath.Join(dir, "prompt.txt")
		require.NoError(t, os.WriteFile(path, []byte("stable"), 0o644))

		src, err := New(path)
		require.NoError(t, err)
		t.Cleanup(func() { src.Close() })

		require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("noise"), 0o644))

		time.Sleep(200 * time.Millisecond)
		assert.Equal(t, "stable", src.Text())
	})
}

func TestClose(t *testing.T) {
	t.Run("should be safe to call twice", func(t *testing.T) {
		src, err := New("")
		require.NoError(t, err)

		assert.NoError(t, src.Close())
		assert.NoError(t, src.Close())
	})
}
