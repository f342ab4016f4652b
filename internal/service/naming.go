package service

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"groupdrive/internal/domain"
	"groupdrive/internal/sandbox"
)

var shadowNameRe = regexp.MustCompile(`^(.*)_v(\d+)_(\d+)$`)

// splitExt делит имя на основу и расширение с точкой
func splitExt(name string) (string, string) {
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext), ext
}

// ShadowPath путь удалённого файла в теневом дереве:
// deleted_files/<родитель>/<основа>_v<версия>_<мс эпохи><расширение>
func ShadowPath(originalPath string, version int, at time.Time) string {
	stem, ext := splitExt(path.Base(originalPath))
	name := fmt.Sprintf("%s_v%d_%d%s", stem, version, at.UnixMilli(), ext)
	return path.Join(domain.ShadowPrefix, sandbox.Parent(originalPath), name)
}

// ParseShadowPath обратная операция к ShadowPath
func ParseShadowPath(shadowPath string) (originalPath string, version int, epochMillis int64, err error) {
	rel, ok := strings.CutPrefix(shadowPath, domain.ShadowPrefix+"/")
	if !ok {
		return "", 0, 0, fmt.Errorf("shadow path %q lacks %s/ prefix", shadowPath, domain.ShadowPrefix)
	}
	stem, ext := splitExt(path.Base(rel))
	m := shadowNameRe.FindStringSubmatch(stem)
	if m == nil {
		return "", 0, 0, fmt.Errorf("shadow path %q does not match naming scheme", shadowPath)
	}
	version, err = strconv.Atoi(m[2])
	if err != nil {
		return "", 0, 0, fmt.Errorf("bad version in shadow path %q: %w", shadowPath, err)
	}
	epochMillis, err = strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("bad timestamp in shadow path %q: %w", shadowPath, err)
	}
	return sandbox.Join(sandbox.Parent(rel), m[1]+ext), version, epochMillis, nil
}

// shadowPhysical путь файла внутри корня теневого дерева
func shadowPhysical(shadowPath string) string {
	return strings.TrimPrefix(shadowPath, domain.ShadowPrefix+"/")
}

// RestoredPath имя для восстановления при занятом пути:
// <основа>_restored_v<версия>_<мс эпохи><расширение> в той же папке
func RestoredPath(target string, version int, at time.Time) string {
	stem, ext := splitExt(path.Base(target))
	return sandbox.Join(sandbox.Parent(target), fmt.Sprintf("%s_restored_v%d_%d%s", stem, version, at.UnixMilli(), ext))
}

// maxRestoredVersion наибольшая версия среди имён вида <основа>_restored_v<n>_<ts><расширение>
func maxRestoredVersion(target string, names []string) int {
	stem, ext := splitExt(path.Base(target))
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(stem) + `_restored_v(\d+)_\d+` + regexp.QuoteMeta(ext) + `$`)
	max := 0
	for _, name := range names {
		m := re.FindStringSubmatch(path.Base(name))
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > max {
			max = n
		}
	}
	return max
}

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// ReadableSize размер с двоичными приставками и двумя знаками после запятой
func ReadableSize(size int64) string {
	if size <= 0 {
		return "0 B"
	}
	value := float64(size)
	unit := 0
	for value >= 1024 && unit < len(sizeUnits)-1 {
		value /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", value, sizeUnits[unit])
}
