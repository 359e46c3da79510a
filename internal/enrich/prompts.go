package enrich

import (
	"fmt"
	"strings"

	"github.com/quillnotes/quill/internal/note"
)

// NoNotesAnswer is returned by Ask when the owner has no notes.
const NoNotesAnswer = "You don't have any notes yet. Create some notes first!"

// AskContextLimit is how many recent notes Ask puts in its prompt.
const AskContextLimit = 20

func summarizePrompt(content string) string {
	return fmt.Sprintf("Please provide a concise summary of the following note in 2-3 sentences. "+
		"Focus on the main points and key takeaways.\n\nNote content:\n%s", content)
}

func tagsPrompt(content string) string {
	return fmt.Sprintf("Analyze the following note and generate 3-5 relevant tags/keywords. "+
		"Return only the tags as a comma-separated list, nothing else.\n\nNote content:\n%s", content)
}

func improvePrompt(content string) string {
	return fmt.Sprintf("Please improve the following note by enhancing clarity, grammar, and tone "+
		"while preserving the original meaning. Keep the same general structure and length."+
		"\n\nOriginal content:\n%s", content)
}

// askContext renders notes as one block, one section per note.
func askContext(notes []note.Note) string {
	sections := make([]string, len(notes))
	for i, n := range notes {
		sections[i] = fmt.Sprintf("Title: %s\nContent: %s\n---", n.Title, n.Content)
	}
	return strings.Join(sections, "\n")
}

func askPrompt(question, context string) string {
	return fmt.Sprintf("Based on the following notes, please answer this question: \"%s\"\n\n"+
		"Notes:\n%s\n\n"+
		"Provide a clear, concise answer based only on the information in the notes. "+
		"If the notes don't contain relevant information, say so. "+
		"Reference which notes you used to answer.", question, context)
}

// referencedTitles returns the titles of notes that appear verbatim in
// answer, in note order and without repeats.
//
// This is a heuristic. A short title such as "Go" matches any answer that
// mentions the word, and a note the model used but paraphrased is missed.
func referencedTitles(answer string, notes []note.Note) []string {
	seen := make(map[string]bool)
	titles := []string{}
	for _, n := range notes {
		if n.Title == "" || seen[n.Title] {
			continue
		}
		if strings.Contains(answer, n.Title) {
			seen[n.Title] = true
			titles = append(titles, n.Title)
		}
	}
	return titles
}
