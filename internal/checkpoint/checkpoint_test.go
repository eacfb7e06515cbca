package checkpoint

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_WriteThenReadRoundTrips(t *testing.T) {
	s, err := New(t.TempDir(), 0)
	require.NoError(t, err)

	require.NoError(t, s.Write("cognition", "hello world"))
	text, ok := s.Read("cognition")
	require.True(t, ok)
	assert.Equal(t, "hello world", text)
}

func TestStore_ReadOfNeverWrittenKeyReturnsNone(t *testing.T) {
	s, err := New(t.TempDir(), 0)
	require.NoError(t, err)

	_, ok := s.Read("nonexistent")
	assert.False(t, ok)
}

func TestStore_RotatesCurrentIntoPrevious(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 0)
	require.NoError(t, err)

	require.NoError(t, s.Write("cognition", "first"))
	require.NoError(t, s.Write("cognition", "second"))

	prevBytes, err := os.ReadFile(filepath.Join(dir, "cognition.previous"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(prevBytes))

	cur, ok := s.Read("cognition")
	require.True(t, ok)
	assert.Equal(t, "second", cur)
}

func TestStore_HistoryIsReverseChronological(t *testing.T) {
	s, err := New(t.TempDir(), 0)
	require.NoError(t, err)

	require.NoError(t, s.Write("cognition", "v1"))
	require.NoError(t, s.Write("cognition", "v2"))
	require.NoError(t, s.Write("cognition", "v3"))

	hist, err := s.History("cognition", 0)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, "v3", hist[0].Text)
	assert.Equal(t, "v1", hist[2].Text)
}

func TestStore_RetentionBoundsHistoryCount(t *testing.T) {
	s, err := New(t.TempDir(), 2)
	require.NoError(t, err)

	require.NoError(t, s.Write("cognition", "v1"))
	require.NoError(t, s.Write("cognition", "v2"))
	require.NoError(t, s.Write("cognition", "v3"))

	hist, err := s.History("cognition", 0)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestStore_ConcurrentWritesToSameKeySerialize(t *testing.T) {
	s, err := New(t.TempDir(), 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = s.Write("cognition", "value")
		}(i)
	}
	wg.Wait()

	text, ok := s.Read("cognition")
	require.True(t, ok)
	assert.Equal(t, "value", text)
}
