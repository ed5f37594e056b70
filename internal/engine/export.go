package engine

import (
	"fmt"
	"strings"

	"github.com/MimeLyc/subtitle-batch-translator/internal/subtitle"
)

// Mode selects what an export contains.
type Mode string

const (
	ModeTranslated Mode = "translated"
	ModeBilingual  Mode = "bilingual"
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "translated", "translated-only", "translated_only":
		return ModeTranslated, nil
	case "bilingual":
		return ModeBilingual, nil
	}
	return "", NewError(ErrValidation, fmt.Sprintf("unknown export mode %q", s))
}

// Project turns items into cues for a codec. Translated mode falls back to
// the source text for untranslated items. Bilingual mode writes
// "source\ntranslation" only for translated items that have text.
func Project(items []Item, mode Mode) []subtitle.Cue {
	cues := make([]subtitle.Cue, 0, len(items))
	for _, it := range items {
		cues = append(cues, subtitle.Cue{
			ID:    it.ID,
			Start: it.StartTime,
			End:   it.EndTime,
			Text:  projectText(it, mode),
		})
	}
	return cues
}

func projectText(it Item, mode Mode) string {
	hasTranslation := strings.TrimSpace(it.TranslatedText) != ""
	if mode == ModeBilingual {
		if it.Status == StatusTranslated && hasTranslation {
			return it.SourceText + "\n" + it.TranslatedText
		}
		return it.SourceText
	}
	if hasTranslation {
		return it.TranslatedText
	}
	return it.SourceText
}
