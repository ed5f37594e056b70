package subtitle

import (
	"fmt"
	"path/filepath"
	"strings"
)

var codecs = map[Format]Codec{
	FormatSRT: SRT{},
	FormatVTT: VTT{},
	FormatASS: ASS{},
}

// Formats lists the supported formats.
func Formats() []Format {
	return []Format{FormatSRT, FormatVTT, FormatASS}
}

// ParseFormat maps a format name or extension ("srt", ".VTT", "ssa") to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".") {
	case "srt":
		return FormatSRT, nil
	case "vtt", "webvtt":
		return FormatVTT, nil
	case "ass", "ssa":
		return FormatASS, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// DetectFormat derives the format from a file name extension.
func DetectFormat(fileName string) (Format, error) {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "", fmt.Errorf("%w: %q has no extension", ErrUnsupportedFormat, fileName)
	}
	return ParseFormat(ext)
}

func CodecFor(f Format) (Codec, error) {
	c, ok := codecs[f]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
	return c, nil
}

func Parse(f Format, content string) ([]Cue, error) {
	c, err := CodecFor(f)
	if err != nil {
		return nil, err
	}
	return c.Parse(content)
}

func Stringify(f Format, cues []Cue) (string, error) {
	c, err := CodecFor(f)
	if err != nil {
		return "", err
	}
	return c.Stringify(cues), nil
}
