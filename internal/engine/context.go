package engine

import (
	"fmt"
	"strings"
)

// BuildContext renders up to window translated items preceding firstID as
// "{id}. {source} → {translation}" lines under label. It returns "" when no
// item qualifies.
func BuildContext(firstID int, items []Item, window int, label string) string {
	if window <= 0 {
		return ""
	}

	pos := -1
	for i, it := range items {
		if it.ID == firstID {
			pos = i
			break
		}
	}
	if pos <= 0 {
		return ""
	}

	var lines []string
	for _, it := range items[max(0, pos-window):pos] {
		if it.Status != StatusTranslated || strings.TrimSpace(it.TranslatedText) == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%d. %s → %s", it.ID, it.SourceText, it.TranslatedText))
	}
	if len(lines) == 0 {
		return ""
	}
	if label == "" {
		label = DefaultContextLabel
	}
	return label + "\n" + strings.Join(lines, "\n")
}
