package subtitle

import (
	"strings"
)

// Serialize renders entries as SubRip text: index line, time range line and
// text lines per entry, entries separated by one blank line.
func Serialize(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, entry := range entries {
		if i > 0 {
			sb.WriteString("\n")
		}
		writeEntry(&sb, entry)
	}
	return sb.String()
}

func writeEntry(sb *strings.Builder, entry Entry) {
	sb.WriteString(entry.IndexText())
	sb.WriteString("\n")
	sb.WriteString(entry.Start.String())
	sb.WriteString(" --> ")
	sb.WriteString(entry.End.String())
	sb.WriteString("\n")
	for _, line := range entry.Lines {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
}
