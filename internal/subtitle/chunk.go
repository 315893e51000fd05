package subtitle

import (
	"fmt"

	"github.com/MimeLyc/srt-translator/internal/errs"
)

// DefaultBlockSize is the number of entries per backend call.
const DefaultBlockSize = 180

// Split partitions entries left to right into chunks of at most blockSize
// entries. Only the last chunk may be shorter.
func Split(entries []Entry, blockSize int) ([]Chunk, error) {
	if blockSize < 1 {
		return nil, errs.New(errs.KindConfiguration, fmt.Sprintf("block size must be at least 1, got %d", blockSize))
	}

	chunks := make([]Chunk, 0, (len(entries)+blockSize-1)/blockSize)
	for start := 0; start < len(entries); start += blockSize {
		end := min(start+blockSize, len(entries))
		chunks = append(chunks, Chunk{
			Ordinal: len(chunks),
			Entries: entries[start:end:end],
		})
	}
	return chunks, nil
}

// Join concatenates chunk entries back into document order.
func Join(chunks []Chunk) []Entry {
	var total int
	for _, c := range chunks {
		total += len(c.Entries)
	}
	ret := make([]Entry, 0, total)
	for _, c := range chunks {
		ret = append(ret, c.Entries...)
	}
	return ret
}
