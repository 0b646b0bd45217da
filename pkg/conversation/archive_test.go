package conversation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupArchive(t *testing.T) *Archive {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "batak-archive-*")
	require.NoError(t, err)

	archive, err := OpenArchive(filepath.Join(tmpDir, "transcript.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		archive.Close()
		os.RemoveAll(tmpDir)
	})
	return archive
}

func TestArchive(t *testing.T) {
	t.Run("should record and read back a session transcript in order", func(t *testing.T) {
		archive := setupArchive(t)
		rec := archive.Session("sess-1")

		first := NewTurn(RoleUser, "send an email to sam")
		second := NewTurn(RoleAssistant, "done")
		second.ToolCalls = []ToolCall{{
			ID:        "tc-1",
			Name:      "send_email",
			Arguments: map[string]interface{}{"to": "sam@example.com"},
			Result:    "sent",
		}}

		require.NoError(t, rec.Record(first))
		require.NoError(t, rec.Record(second))

		turns, err := archive.Turns("sess-1")
		require.NoError(t, err)
		require.Len(t, turns, 2)

		assert.Equal(t, RoleUser, turns[0].Role)
		assert.Equal(t, "send an email to sam", turns[0].Content)
		assert.Empty(t, turns[0].ToolCalls)

		assert.Equal(t, RoleAssistant, turns[1].Role)
		require.Len(t, turns[1].ToolCalls, 1)
		assert.Equal(t, "send_email", turns[1].ToolCalls[0].Name)
		assert.Equal(t, "sent", turns[1].ToolCalls[0].Result)
	})

	t.Run("should keep sessions separate", func(t *testing.T) {
		archive := setupArchive(t)

		require.NoError(t, archive.Session("a").Record(NewTurn(RoleUser, "one")))
		require.NoError(t, archive.Session("b").Record(NewTurn(RoleUser, "two")))

		turns, err := archive.Turns("a")
		require.NoError(t, err)
		require.Len(t, turns, 1)
		assert.Equal(t, "one", turns[0].Content)
	})

	t.Run("should return nothing for an unknown session", func(t *testing.T) {
		archive := setupArchive(t)

		turns, err := archive.Turns("ghost")
		require.NoError(t, err)
		assert.Empty(t, turns)
	})
}
