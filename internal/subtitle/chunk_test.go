package subtitle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/srt-translator/internal/errs"
)

func makeEntries(n int) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{
			Index: i + 1,
			Start: Timestamp{Seconds: i},
			End:   Timestamp{Seconds: i, Millis: 500},
			Lines: []string{fmt.Sprintf("line %d", i+1)},
		}
	}
	return entries
}

func TestSplit_Coverage(t *testing.T) {
	for _, n := range []int{0, 1, 5, 179, 180, 181, 360, 1000} {
		for _, size := range []int{1, 7, 180} {
			entries := makeEntries(n)
			chunks, err := Split(entries, size)
			require.NoError(t, err)

			assert.Len(t, chunks, (n+size-1)/size, "n=%d size=%d", n, size)
			for i, c := range chunks {
				assert.Equal(t, i, c.Ordinal)
				assert.LessOrEqual(t, len(c.Entries), size)
				assert.NotEmpty(t, c.Entries)
			}
			if n == 0 {
				assert.Empty(t, Join(chunks))
			} else {
				assert.Equal(t, entries, Join(chunks))
			}
		}
	}
}

func TestSplit_InvalidBlockSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		_, err := Split(makeEntries(3), size)
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.KindConfiguration))
	}
}

func TestSplit_ChunksDoNotAliasFollowingEntries(t *testing.T) {
	chunks, err := Split(makeEntries(4), 2)
	require.NoError(t, err)

	first := append(chunks[0].Entries, Entry{Index: 99})
	assert.Len(t, first, 3)
	assert.Equal(t, 3, chunks[1].Entries[0].Index)
}

func TestChunk_TextAndPreview(t *testing.T) {
	chunks, err := Split(Parse(twoBlocks), DefaultBlockSize)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, twoBlocks+"\n", chunks[0].Text())
	assert.Equal(t, "Hello", chunks[0].Preview(1))
	assert.Equal(t, "Hello\nWorld", chunks[0].Preview(0))
}
