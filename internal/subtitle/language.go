package subtitle

import (
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// DetectLanguage returns the most frequent language among the cues, or
// language.Und when nothing could be detected.
func DetectLanguage(cues []Cue) language.Tag {
	if len(cues) == 0 {
		return language.Und
	}

	counts := make(map[string]int)
	for _, cue := range cues {
		if strings.TrimSpace(cue.Text) == "" {
			continue
		}
		if code := whatlanggo.DetectLang(cue.Text).Iso6391(); code != "" {
			counts[code]++
		}
	}

	var (
		topLang  string
		topCount int
	)
	for lang, count := range counts {
		if count > topCount || (count == topCount && lang < topLang) {
			topLang, topCount = lang, count
		}
	}
	if topLang == "" {
		return language.Und
	}

	tag, err := language.Parse(topLang)
	if err != nil {
		return language.Und
	}
	return tag
}
