package subtitle

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

var (
	indexPattern     = regexp.MustCompile(`^\d+$`)
	timeRangePattern = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2}),(\d{3})\s*-->\s*(\d{2}):(\d{2}):(\d{2}),(\d{3})$`)
	blockSeparator   = regexp.MustCompile(`\n\s*\n`)
)

// Parse reads SubRip text into entries. Blocks without a numeric index line
// followed by a time range line are dropped silently.
func Parse(raw string) []Entry {
	raw = strings.TrimPrefix(raw, "\uFEFF")
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")

	var entries []Entry
	for _, block := range blockSeparator.Split(raw, -1) {
		entry, ok := parseBlock(block)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

func parseBlock(block string) (Entry, bool) {
	block = strings.TrimSpace(block)
	if block == "" {
		return Entry{}, false
	}
	lines := strings.Split(block, "\n")
	if len(lines) < 2 {
		return Entry{}, false
	}

	indexLine := strings.TrimSpace(lines[0])
	if !indexPattern.MatchString(indexLine) {
		return Entry{}, false
	}
	// out of int range still counts as an index; RawIndex keeps it
	index, _ := strconv.Atoi(indexLine)

	start, end, err := parseTimeRange(strings.TrimSpace(lines[1]))
	if err != nil {
		return Entry{}, false
	}

	return Entry{
		Index:    index,
		RawIndex: indexLine,
		Start:    start,
		End:      end,
		Lines:    append([]string(nil), lines[2:]...),
	}, true
}

// parseTimeRange parses "00:02:16,612 --> 00:02:19,376".
func parseTimeRange(s string) (Timestamp, Timestamp, error) {
	m := timeRangePattern.FindStringSubmatch(s)
	if len(m) != 9 {
		return Timestamp{}, Timestamp{}, fmt.Errorf("invalid time format: %s", s)
	}
	atoi := func(v string) int {
		n, _ := strconv.Atoi(v)
		return n
	}
	start := Timestamp{Hours: atoi(m[1]), Minutes: atoi(m[2]), Seconds: atoi(m[3]), Millis: atoi(m[4])}
	end := Timestamp{Hours: atoi(m[5]), Minutes: atoi(m[6]), Seconds: atoi(m[7]), Millis: atoi(m[8])}
	return start, end, nil
}

// ReadSRTBytes parses in-memory SubRip data and detects its language.
func ReadSRTBytes(data []byte, path string) (*Document, error) {
	entries := Parse(string(data))
	return &Document{
		Entries:  entries,
		Language: DetectLanguage(entries),
		Path:     path,
	}, nil
}

// ReadFile reads and parses an .srt file from disk.
func ReadFile(path string) (*Document, error) {
	if !strings.HasSuffix(strings.ToLower(path), ".srt") {
		return nil, fmt.Errorf("only SRT format subtitle files are supported: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read subtitle file: %w", err)
	}
	return ReadSRTBytes(data, path)
}

// DetectLanguage returns the language most entries are written in.
func DetectLanguage(entries []Entry) language.Tag {
	if len(entries) == 0 {
		return language.Und
	}

	counts := make(map[string]int)
	for _, entry := range entries {
		text := entry.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		lang := whatlanggo.DetectLang(text).Iso6391()
		if lang == "" {
			continue
		}
		counts[lang]++
	}

	var top string
	var topCount int
	for lang, count := range counts {
		if count > topCount || (count == topCount && lang < top) {
			top = lang
			topCount = count
		}
	}
	if top == "" {
		return language.Und
	}
	return language.All.Make(top)
}
