// Package lock предоставляет взаимное исключение операций над счётом одного пользователя.
package lock

import (
	"context"
	"strconv"
	"sync"
)

// Locker захватывает блокировку по ключу пользователя. Возвращённая функция
// освобождает блокировку и должна быть вызвана ровно один раз.
type Locker interface {
	Lock(ctx context.Context, userID int64) (unlock func(), err error)
}

// Memory реализует Locker внутри одного процесса.
type Memory struct {
	mu    sync.Mutex
	locks map[int64]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// NewMemory создаёт блокировщик в памяти процесса.
func NewMemory() *Memory {
	return &Memory{locks: make(map[int64]*entry)}
}

// Lock ждёт освобождения блокировки пользователя или отмены контекста.
func (m *Memory) Lock(ctx context.Context, userID int64) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[userID]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		m.locks[userID] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(userID, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			m.release(userID, e)
		})
	}, nil
}

func (m *Memory) release(userID int64, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.locks, userID)
	}
}

func key(userID int64) string {
	return "pantry:score-lock:" + strconv.FormatInt(userID, 10)
}
