package service

import (
	"sort"
	"sync"
)

// PathLocker сериализует операции над одними и теми же ключами (путями, записями журнала)
type PathLocker struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

func NewPathLocker() *PathLocker {
	return &PathLocker{locks: make(map[string]*pathLock)}
}

// Lock захватывает все ключи в отсортированном порядке и возвращает функцию освобождения
func (l *PathLocker) Lock(keys ...string) (unlock func()) {
	keys = uniqueSorted(keys)
	held := make([]*pathLock, 0, len(keys))
	for _, key := range keys {
		pl := l.acquire(key)
		pl.mu.Lock()
		held = append(held, pl)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			l.release(keys[i])
		}
	}
}

func (l *PathLocker) acquire(key string) *pathLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl, ok := l.locks[key]
	if !ok {
		pl = &pathLock{}
		l.locks[key] = pl
	}
	pl.refs++
	return pl
}

func (l *PathLocker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl := l.locks[key]
	pl.refs--
	if pl.refs == 0 {
		delete(l.locks, key)
	}
}

// size число удерживаемых или ожидаемых ключей
func (l *PathLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func uniqueSorted(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i == 0 || k != out[n-1] {
			out[n] = k
			n++
		}
	}
	return out[:n]
}

func liveKey(path string) string { return "live:" + path }

func ledgerKey(id string) string { return "ledger:" + id }
