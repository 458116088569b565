package examengine

import (
	"sync"

	"github.com/google/uuid"
)

// LockSet выдаёт мьютекс на каждую попытку. Операции над разными
// попытками не блокируют друг друга. Неиспользуемые мьютексы удаляются.
type LockSet struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewLockSet создает пустой набор блокировок
func NewLockSet() *LockSet {
	return &LockSet{locks: make(map[uuid.UUID]*lockEntry)}
}

// Lock захватывает блокировку попытки и возвращает функцию освобождения
func (s *LockSet) Lock(id uuid.UUID) func() {
	s.mu.Lock()
	entry, ok := s.locks[id]
	if !ok {
		entry = &lockEntry{}
		s.locks[id] = entry
	}
	entry.refs++
	s.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		s.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// Size возвращает число попыток, для которых сейчас есть блокировка
func (s *LockSet) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
