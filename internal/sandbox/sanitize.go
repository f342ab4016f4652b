package sandbox

import "strings"

// символы, запрещённые в именах файлов на поддерживаемых ОС
const forbiddenChars = `<>:"|?*\`

// SanitizeSegment удаляет из сегмента пути запрещённые и управляющие символы
func SanitizeSegment(seg string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(forbiddenChars, r) {
			return -1
		}
		return r
	}, seg)
}

// SanitizeName очищает имя файла или папки. Разделители и имена "." и ".." не допускаются.
func SanitizeName(name string) string {
	name = strings.TrimSpace(SanitizeSegment(strings.ReplaceAll(name, "/", "")))
	if name == "." || name == ".." {
		return ""
	}
	return name
}
