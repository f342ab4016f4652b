// Package sandbox confines every path the engine touches to a single root directory.
package sandbox

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"groupdrive/internal/domain"
)

// Sandbox резолвит относительные пути внутри корня и выполняет над ними файловые операции
type Sandbox struct {
	fs   afero.Fs
	root string
}

// New создаёт песочницу над fs с корнем root. Корень приводится к абсолютному виду.
func New(fs afero.Fs, root string) (*Sandbox, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: sandbox root is required", domain.ErrInvalidArgument)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox root: %w", err)
	}
	return &Sandbox{fs: fs, root: filepath.Clean(abs)}, nil
}

// NewOs песочница над файловой системой ОС
func NewOs(root string) (*Sandbox, error) {
	return New(afero.NewOsFs(), root)
}

func (s *Sandbox) Root() string { return s.root }

func (s *Sandbox) Fs() afero.Fs { return s.fs }

// Resolve превращает путь клиента в абсолютный путь под корнем.
// Каждый сегмент очищается, затем путь нормализуется, и только после этого проверяется граница корня.
func (s *Sandbox) Resolve(rel string) (string, error) {
	segments := strings.Split(rel, "/")
	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, s.root)
	for _, seg := range segments {
		if seg = SanitizeSegment(seg); seg != "" {
			parts = append(parts, seg)
		}
	}
	abs := filepath.Clean(filepath.Join(parts...))
	if !hasPathPrefix(abs, s.root) {
		return "", fmt.Errorf("%w: %q", domain.ErrSandboxViolation, rel)
	}
	return abs, nil
}

// RelativePath обратная операция к Resolve: путь от корня со слешами, "" для самого корня
func (s *Sandbox) RelativePath(abs string) (string, error) {
	rel, err := filepath.Rel(s.root, filepath.Clean(abs))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSandboxViolation, err)
	}
	if rel == "." {
		return "", nil
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", domain.ErrSandboxViolation, abs)
	}
	return filepath.ToSlash(rel), nil
}

// Clean приводит путь клиента к каноническому относительному виду
func (s *Sandbox) Clean(rel string) (string, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return "", err
	}
	return s.RelativePath(abs)
}

func (s *Sandbox) Stat(rel string) (os.FileInfo, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	return s.fs.Stat(abs)
}

// Exists возвращает false только при отсутствии файла, прочие ошибки пробрасываются
func (s *Sandbox) Exists(rel string) (bool, error) {
	_, err := s.Stat(rel)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ReadDirNames имена элементов каталога без их stat, отсортированные
func (s *Sandbox) ReadDirNames(rel string) ([]string, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(abs)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *Sandbox) Mkdir(rel string) error {
	abs, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	return s.fs.Mkdir(abs, 0o755)
}

func (s *Sandbox) MkdirAll(rel string) error {
	abs, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	return s.fs.MkdirAll(abs, 0o755)
}

// WriteNew создаёт файл и записывает content. Существующий файл не перезаписывается.
func (s *Sandbox) WriteNew(rel string, content io.Reader) (int64, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return 0, err
	}
	f, err := s.fs.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(abs)
		return n, err
	}
	return n, nil
}

func (s *Sandbox) Open(rel string) (afero.File, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	return s.fs.Open(abs)
}

func (s *Sandbox) Remove(rel string) error {
	abs, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	return s.fs.Remove(abs)
}

// Walk обходит поддерево rel. fn получает относительные пути; ошибки отдельных элементов передаются в fn.
func (s *Sandbox) Walk(rel string, fn func(rel string, info os.FileInfo, err error) error) error {
	abs, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	return afero.Walk(s.fs, abs, func(p string, info os.FileInfo, err error) error {
		r, rerr := s.RelativePath(p)
		if rerr != nil {
			return rerr
		}
		return fn(r, info, err)
	})
}

// Move переносит файл между песочницами над одной fs. При невозможности rename файл копируется.
func Move(src *Sandbox, srcRel string, dst *Sandbox, dstRel string) error {
	from, err := src.Resolve(srcRel)
	if err != nil {
		return err
	}
	to, err := dst.Resolve(dstRel)
	if err != nil {
		return err
	}
	if err := dst.fs.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}
	if _, err := src.fs.Stat(from); err != nil {
		return err
	}
	// Имя занимается через O_EXCL, rename затем заменяет только собственную заготовку
	reserved, err := dst.fs.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", domain.ErrConflict, dstRel)
		}
		return err
	}
	reserved.Close()
	if err := src.fs.Rename(from, to); err == nil {
		return nil
	}
	if err := copyAndRemove(src.fs, from, dst.fs, to); err != nil {
		_ = dst.fs.Remove(to)
		return err
	}
	return nil
}

func copyAndRemove(srcFs afero.Fs, from string, dstFs afero.Fs, to string) error {
	in, err := srcFs.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := dstFs.OpenFile(to, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = dstFs.Remove(to)
		return fmt.Errorf("failed to copy file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = dstFs.Remove(to)
		return err
	}
	in.Close()
	if err := srcFs.Remove(from); err != nil {
		_ = dstFs.Remove(to)
		return fmt.Errorf("failed to remove source after copy: %w", err)
	}
	return nil
}

// Join склеивает относительные пути, пустой родитель означает корень
func Join(parent, name string) string {
	if parent == "" {
		return name
	}
	return path.Join(parent, name)
}

// Parent родитель относительного пути, "" для элементов корня
func Parent(rel string) string {
	dir := path.Dir(rel)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

func hasPathPrefix(p, root string) bool {
	if p == root {
		return true
	}
	if root == string(filepath.Separator) {
		return strings.HasPrefix(p, root)
	}
	return strings.HasPrefix(p, root+string(filepath.Separator))
}
