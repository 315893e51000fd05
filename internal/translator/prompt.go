package translator

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// buildSystemPrompt gives the backend the translation rules for one SRT chunk.
func buildSystemPrompt(targetName string, source language.Tag) string {
	var prompt strings.Builder

	prompt.WriteString("You are a professional subtitle translator. ")
	if source != language.Und {
		prompt.WriteString(fmt.Sprintf("The subtitles are written in %s. ", display.English.Tags().Name(source)))
	}
	prompt.WriteString(fmt.Sprintf("Translate the following subtitle block to %s.\n", targetName))
	prompt.WriteString("Keep all subtitle numbers and time codes exactly as they are.\n")
	prompt.WriteString("Keep the same format and structure as the SRT file.\n")
	prompt.WriteString("Translate only the subtitle text, keeping all technical aspects of the file intact.\n")
	prompt.WriteString("Ensure natural and contextually appropriate translations.\n")
	prompt.WriteString("Return exactly the same number of subtitle blocks, in the same order, with no explanations and no markdown.\n")

	return prompt.String()
}

func buildUserPrompt(chunkText string) string {
	return "Original subtitle block:\n" + chunkText
}

// stripFences removes a surrounding markdown code fence, which some models
// add around SRT output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	} else {
		return ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
