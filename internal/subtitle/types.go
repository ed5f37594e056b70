package subtitle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoCues is returned when a document contains no parseable cue.
	ErrNoCues = errors.New("no subtitle cues found")
	// ErrUnsupportedFormat is returned for unknown formats or file extensions.
	ErrUnsupportedFormat = errors.New("unsupported subtitle format")
)

// Format identifies a subtitle file format.
type Format string

const (
	FormatSRT Format = "srt"
	FormatVTT Format = "vtt"
	FormatASS Format = "ass"
)

// Extension returns the file extension including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// Cue is one timed subtitle entry. IDs are dense and 1-based in file order.
type Cue struct {
	ID    int       `json:"id"`
	Start Timestamp `json:"start_time"`
	End   Timestamp `json:"end_time"`
	Text  string    `json:"text"`
}

// Codec converts between a subtitle document and cues.
type Codec interface {
	Parse(content string) ([]Cue, error)
	Stringify(cues []Cue) string
}

// Timestamp is a cue offset. It marshals as "hh:mm:ss,mmm".
type Timestamp time.Duration

func (t Timestamp) Duration() time.Duration {
	return time.Duration(t)
}

func (t Timestamp) String() string {
	return t.clock(",")
}

func (t Timestamp) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Timestamp) UnmarshalText(b []byte) error {
	parsed, err := ParseTimestamp(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Timestamp) clock(sep string) string {
	d := time.Duration(t)
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, sep, ms)
}

// ParseTimestamp accepts "h:mm:ss,mmm", "hh:mm:ss.mmm", "mm:ss.mmm" and the
// two-digit centisecond form used by ASS ("h:mm:ss.cc").
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}

	clock, frac := s, ""
	if i := strings.LastIndexAny(s, ",."); i >= 0 {
		clock, frac = s[:i], s[i+1:]
	}

	parts := strings.Split(clock, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	if len(parts) == 2 {
		parts = append([]string{"0"}, parts...)
	}

	var fields [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || p == "" {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		fields[i] = v
	}
	if fields[1] > 59 || fields[2] > 59 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}

	ms := 0
	if frac != "" {
		if len(frac) > 3 {
			frac = frac[:3]
		}
		v, err := strconv.Atoi(frac)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		for i := len(frac); i < 3; i++ {
			v *= 10
		}
		ms = v
	}

	d := time.Duration(fields[0])*time.Hour +
		time.Duration(fields[1])*time.Minute +
		time.Duration(fields[2])*time.Second +
		time.Duration(ms)*time.Millisecond
	return Timestamp(d), nil
}

// normalizeNewlines strips a UTF-8 BOM and converts CRLF/CR to LF.
func normalizeNewlines(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// splitBlocks splits a document on blank lines.
func splitBlocks(s string) [][]string {
	var (
		blocks  [][]string
		current []string
	)
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				blocks = append(blocks, current)
				current = nil
			}
			continue
		}
		current = append(current, strings.TrimRight(line, " \t"))
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}
	return blocks
}

// parseTiming splits "start --> end [settings]".
func parseTiming(line string) (Timestamp, Timestamp, bool) {
	left, right, ok := strings.Cut(line, "-->")
	if !ok {
		return 0, 0, false
	}
	fields := strings.Fields(right)
	if len(fields) == 0 {
		return 0, 0, false
	}
	start, err := ParseTimestamp(left)
	if err != nil {
		return 0, 0, false
	}
	end, err := ParseTimestamp(fields[0])
	if err != nil {
		return 0, 0, false
	}
	return start, end, true
}
