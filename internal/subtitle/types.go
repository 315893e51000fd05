package subtitle

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/language"
)

// Timestamp keeps the four SRT time fields as written so that a
// parse/serialize cycle never normalizes timing.
type Timestamp struct {
	Hours   int
	Minutes int
	Seconds int
	Millis  int
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%02d:%02d:%02d,%03d", t.Hours, t.Minutes, t.Seconds, t.Millis)
}

// Entry is one SubRip block. Start <= End is deliberately not checked.
type Entry struct {
	Index int `json:"index"`
	// RawIndex is the index line as written; it survives leading zeros and
	// values too large for Index.
	RawIndex string    `json:"raw_index,omitempty"`
	Start    Timestamp `json:"start"`
	End      Timestamp `json:"end"`
	Lines    []string  `json:"lines"`
}

// IndexText returns the index line to write back out.
func (e Entry) IndexText() string {
	if e.RawIndex != "" {
		return e.RawIndex
	}
	return strconv.Itoa(e.Index)
}

// SameIndex compares index lines numerically, ignoring leading zeros.
func (e Entry) SameIndex(other Entry) bool {
	return trimZeros(e.IndexText()) == trimZeros(other.IndexText())
}

func trimZeros(s string) string {
	if s = strings.TrimLeft(s, "0"); s == "" {
		return "0"
	}
	return s
}

// Text returns the subtitle lines joined by newlines.
func (e Entry) Text() string {
	return strings.Join(e.Lines, "\n")
}

// WithLines returns a copy of the entry carrying new text and the same index and timing.
func (e Entry) WithLines(lines []string) Entry {
	return Entry{
		Index:    e.Index,
		RawIndex: e.RawIndex,
		Start:    e.Start,
		End:      e.End,
		Lines:    append([]string(nil), lines...),
	}
}

// Document is an ordered SubRip file; entry order is display order.
type Document struct {
	Entries  []Entry
	Language language.Tag
	Path     string
}

func (d Document) Len() int {
	return len(d.Entries)
}

// Chunk is a contiguous run of entries sent to the backend in one call.
type Chunk struct {
	Ordinal int // zero-based position among the document's chunks
	Entries []Entry
}

// Text is the verbatim SRT rendering of the chunk.
func (c Chunk) Text() string {
	return Serialize(c.Entries)
}

// Preview returns the first subtitle lines of the chunk, for progress displays.
func (c Chunk) Preview(maxEntries int) string {
	if maxEntries <= 0 || maxEntries > len(c.Entries) {
		maxEntries = len(c.Entries)
	}
	parts := make([]string, 0, maxEntries)
	for _, e := range c.Entries[:maxEntries] {
		parts = append(parts, e.Text())
	}
	return strings.Join(parts, "\n")
}
