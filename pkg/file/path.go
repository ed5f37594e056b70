package file

import (
	"path/filepath"
	"strings"
)

// ReplaceExt swaps the extension of path. ext may be given with or without the dot.
func ReplaceExt(path, ext string) string {
	if path == "" {
		return path
	}
	return filepath.Join(filepath.Dir(path), BaseName(path)+normalizeExt(ext))
}

// BaseName returns the file name of path without directory and extension.
// Dotfiles like ".srt" keep their full name.
func BaseName(path string) string {
	name := filepath.Base(path)
	if lastDot := strings.LastIndex(name, "."); lastDot > 0 {
		return name[:lastDot]
	}
	return name
}

// ExportName builds the download name of a translated subtitle:
// "{base}_{lang}{ext}" or "{base}_bilingual_{lang}{ext}".
func ExportName(fileName, lang, ext string, bilingual bool) string {
	base := BaseName(fileName)
	if base == "" || base == "." {
		base = "subtitles"
	}
	lang = sanitize(lang)

	parts := []string{base}
	if bilingual {
		parts = append(parts, "bilingual")
	}
	if lang != "" {
		parts = append(parts, lang)
	}
	return strings.Join(parts, "_") + normalizeExt(ext)
}

func normalizeExt(ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		return "." + ext
	}
	return ext
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '-'
		}
		return r
	}, s)
}
