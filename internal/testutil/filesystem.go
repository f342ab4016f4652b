package testutil

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// FaultyFs оборачивает afero.Fs и возвращает ошибку Stat для выбранных имён файлов
type FaultyFs struct {
	afero.Fs

	mu     sync.Mutex
	failed map[string]error
}

func NewFaultyFs(base afero.Fs) *FaultyFs {
	return &FaultyFs{Fs: base, failed: make(map[string]error)}
}

// FailStat заставляет Stat для файлов с базовым именем name возвращать err
func (f *FaultyFs) FailStat(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[name] = err
}

func (f *FaultyFs) Stat(name string) (os.FileInfo, error) {
	f.mu.Lock()
	err, ok := f.failed[filepath.Base(name)]
	f.mu.Unlock()
	if ok {
		return nil, &os.PathError{Op: "stat", Path: name, Err: err}
	}
	return f.Fs.Stat(name)
}
