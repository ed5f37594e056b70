package subtitle

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	assOverrideTags  = regexp.MustCompile(`\{[^}]*\}`)
	assDefaultFormat = []string{"layer", "start", "end", "style", "name", "marginl", "marginr", "marginv", "effect", "text"}
)

const assHeader = `[Script Info]
Title: Generated by subtitle-batch-translator
ScriptType: v4.00+
WrapStyle: 0
ScaledBorderAndShadow: yes
YCbCr Matrix: None

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Default,Arial,20,&H00FFFFFF,&H000000FF,&H00000000,&H00000000,0,0,0,0,100,100,0,0,1,2,2,2,10,10,10,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`

// ASS is the Advanced SubStation Alpha codec. Only the [Events] section is
// read; styling is dropped and rewritten with a single Default style.
type ASS struct{}

func (ASS) Parse(content string) ([]Cue, error) {
	var (
		cues     []Cue
		inEvents bool
		format   = assDefaultFormat
	)
	for _, raw := range strings.Split(normalizeNewlines(content), "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inEvents = strings.EqualFold(line, "[Events]")
			continue
		}
		if !inEvents {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Format":
			format = format[:0:0]
			for _, col := range strings.Split(value, ",") {
				format = append(format, strings.ToLower(strings.TrimSpace(col)))
			}
		case "Dialogue":
			cue, ok := parseDialogue(value, format)
			if !ok {
				continue
			}
			cue.ID = len(cues) + 1
			cues = append(cues, cue)
		}
	}
	if len(cues) == 0 {
		return nil, fmt.Errorf("ass: %w", ErrNoCues)
	}
	return cues, nil
}

func parseDialogue(value string, format []string) (Cue, bool) {
	// Text is the last column and may itself contain commas.
	fields := strings.SplitN(strings.TrimSpace(value), ",", len(format))
	if len(fields) != len(format) {
		return Cue{}, false
	}
	var (
		cue        Cue
		start, end bool
	)
	for i, col := range format {
		field := fields[i]
		switch col {
		case "start":
			ts, err := ParseTimestamp(field)
			if err != nil {
				return Cue{}, false
			}
			cue.Start, start = ts, true
		case "end":
			ts, err := ParseTimestamp(field)
			if err != nil {
				return Cue{}, false
			}
			cue.End, end = ts, true
		case "text":
			cue.Text = cleanASSText(field)
		}
	}
	return cue, start && end
}

func cleanASSText(s string) string {
	s = assOverrideTags.ReplaceAllString(s, "")
	s = strings.NewReplacer(`\N`, "\n", `\n`, "\n", `\h`, " ").Replace(s)
	return strings.TrimSpace(s)
}

func (ASS) Stringify(cues []Cue) string {
	var b strings.Builder
	b.WriteString(assHeader)
	for _, c := range cues {
		text := strings.ReplaceAll(c.Text, "\n", `\N`)
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n", assClock(c.Start), assClock(c.End), text)
	}
	return b.String()
}

// assClock renders h:mm:ss.cc.
func assClock(t Timestamp) string {
	d := t.Duration()
	if d < 0 {
		d = 0
	}
	cs := d / (10 * time.Millisecond)
	return fmt.Sprintf("%d:%02d:%02d.%02d", cs/360000, cs/6000%60, cs/100%60, cs%100)
}
