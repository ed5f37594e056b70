package translator

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// namedLanguages are matched by English or native display name, so users
// may say "Vietnamese" or "Tiếng Việt" instead of "vi".
var namedLanguages = []language.Tag{
	language.English, language.Vietnamese, language.Chinese,
	language.SimplifiedChinese, language.TraditionalChinese,
	language.Japanese, language.Korean, language.Thai, language.Indonesian,
	language.Malay, language.Hindi, language.Arabic, language.Turkish,
	language.French, language.German, language.Spanish, language.Italian,
	language.Portuguese, language.BrazilianPortuguese, language.Russian,
	language.Ukrainian, language.Polish, language.Dutch, language.Swedish,
	language.Czech, language.Greek, language.Hebrew, language.Persian,
}

// ResolveLanguage accepts a BCP 47 tag or a display name.
func ResolveLanguage(s string) (language.Tag, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return language.Und, fmt.Errorf("language is empty")
	}
	for _, tag := range namedLanguages {
		if strings.EqualFold(display.English.Tags().Name(tag), s) ||
			strings.EqualFold(display.Self.Name(tag), s) {
			return tag, nil
		}
	}
	if tag, err := language.Parse(s); err == nil {
		return tag, nil
	}
	return language.Und, fmt.Errorf("unknown language %q", s)
}

// LanguageName returns the English name for a tag, or s unchanged when it is not a tag.
func LanguageName(s string) string {
	tag, err := language.Parse(strings.TrimSpace(s))
	if err != nil {
		return s
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return s
}
