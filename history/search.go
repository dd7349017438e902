package history

import (
	"strings"

	"golang.org/x/text/cases"
)

// Search returns the thread's messages whose content contains query,
// compared case-insensitively with Unicode case folding.
func (s *Store) Search(threadID, query string) []Message {
	fold := cases.Fold()
	needle := fold.String(query)

	var out []Message
	for _, msg := range s.Messages(threadID) {
		if strings.Contains(fold.String(msg.Content), needle) {
			out = append(out, msg)
		}
	}
	return out
}
