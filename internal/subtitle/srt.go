package subtitle

import (
	"fmt"
	"strconv"
	"strings"
)

// SRT is the SubRip codec.
type SRT struct{}

// Parse reads SubRip blocks. The numeric counter of the file is not trusted:
// cues are renumbered 1..N in order. Blocks without a valid timing line are skipped.
func (SRT) Parse(content string) ([]Cue, error) {
	var cues []Cue
	for _, block := range splitBlocks(normalizeNewlines(content)) {
		lines := block
		if _, err := strconv.Atoi(strings.TrimSpace(lines[0])); err == nil && len(lines) > 1 {
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
		return nil, fmt.Errorf("srt: %w", ErrNoCues)
	}
	return cues, nil
}

func (SRT) Stringify(cues []Cue) string {
	blocks := make([]string, 0, len(cues))
	for i, c := range cues {
		blocks = append(blocks, fmt.Sprintf("%d\n%s --> %s\n%s",
			i+1, c.Start.clock(","), c.End.clock(","), c.Text))
	}
	return strings.Join(blocks, "\n\n") + "\n"
}
