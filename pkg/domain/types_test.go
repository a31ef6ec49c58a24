package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentSize_RuneAware(t *testing.T) {
	doc := &Document{Content: "日本語テキスト"}
	assert.Equal(t, 7, doc.Size())
}

func TestNewChunk_MetadataInjection(t *testing.T) {
	parent := map[string]interface{}{"document_name": "a.txt"}
	c := NewChunk("d1_chunk_0000", "d1", "本文", 0, 0, 2, parent)

	assert.Equal(t, "a.txt", c.Metadata["document_name"])
	assert.Equal(t, "d1_chunk_0000", c.Metadata["chunk_id"])
	assert.Equal(t, "d1", c.Metadata["document_id"])
	assert.Equal(t, 0, c.Metadata["chunk_index"])
	assert.Equal(t, 2, c.Metadata["size"])

	// The parent map must stay untouched.
	assert.NotContains(t, parent, "chunk_id")
}

func TestNewSearchHit_ScoreRange(t *testing.T) {
	_, err := NewSearchHit(Chunk{}, 1.2, "a", "/a")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewSearchHit(Chunk{}, -0.1, "a", "/a")
	assert.ErrorIs(t, err, ErrInvalidInput)

	hit, err := NewSearchHit(Chunk{Content: "x"}, 0.5, "a", "/a")
	require.NoError(t, err)
	assert.Equal(t, ResultTypeText, hit.ResultType)
}

func TestNewChatTurn_RejectsUnknownRole(t *testing.T) {
	_, err := NewChatTurn("moderator", "hi")
	assert.ErrorIs(t, err, ErrInvalidInput)

	turn, err := NewChatTurn(RoleUser, "hi")
	require.NoError(t, err)
	assert.False(t, turn.Created.IsZero())
}

func TestChatLog_Eviction(t *testing.T) {
	l := NewChatLog(3)
	for _, content := range []string{"1", "2", "3", "4", "5"} {
		turn, err := NewChatTurn(RoleUser, content)
		require.NoError(t, err)
		l.Append(turn)
	}

	turns := l.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, "3", turns[0].Content)
	assert.Equal(t, "5", turns[2].Content)
}

func TestChatLog_Unbounded(t *testing.T) {
	l := NewChatLog(0)
	for i := 0; i < 20; i++ {
		turn, _ := NewChatTurn(RoleUser, "m")
		l.Append(turn)
	}
	assert.Equal(t, 20, l.Len())

	l.Clear()
	assert.Zero(t, l.Len())
}

func TestChatLog_TurnsReturnsCopy(t *testing.T) {
	l := NewChatLog(5)
	turn, _ := NewChatTurn(RoleUser, "original")
	l.Append(turn)

	turns := l.Turns()
	turns[0].Content = "mutated"
	assert.Equal(t, "original", l.Turns()[0].Content)
}
