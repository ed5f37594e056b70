package subtitle

import (
	"fmt"
	"strings"
)

// VTT is the WebVTT codec.
type VTT struct{}

func (VTT) Parse(content string) ([]Cue, error) {
	var cues []Cue
	for i, block := range splitBlocks(normalizeNewlines(content)) {
		head := strings.TrimSpace(block[0])
		if i == 0 && strings.HasPrefix(head, "WEBVTT") {
			continue
		}
		if strings.HasPrefix(head, "NOTE") || head == "STYLE" || head == "REGION" {
			continue
		}

		lines := block
		if !strings.Contains(lines[0], "-->") {
			// cue identifier
			if len(lines) < 2 {
				continue
			}
			lines = lines[1:]
		}
		start, end, ok := parseTiming(lines[0])
		if !ok {
			continue
		}
		cues = append(cues, Cue{
			ID:    len(cues) + 1,
			Start: start,
			End:   end,
			Text:  strings.Join(lines[1:], "\n"),
		})
	}
	if len(cues) == 0 {
		return nil, fmt.Errorf("vtt: %w", ErrNoCues)
	}
	return cues, nil
}

func (VTT) Stringify(cues []Cue) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n")
	for i, c := range cues {
		fmt.Fprintf(&b, "\n%d\n%s --> %s\n%s\n", i+1, c.Start.clock("."), c.End.clock("."), c.Text)
	}
	return b.String()
}
