package controller

import (
	"context"
	"sync"
)

// ThreadLocker serialises turns per thread. Waiting honours ctx, and idle
// entries are dropped so the map only holds threads with a turn in flight.
type ThreadLocker struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	slot chan struct{}
	refs int
}

func NewThreadLocker() *ThreadLocker {
	return &ThreadLocker{locks: map[string]*threadLock{}}
}

// Lock blocks until the thread is free or ctx is done. The returned func
// releases the lock and is safe to call more than once.
func (l *ThreadLocker) Lock(ctx context.Context, threadID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[threadID]
	if !ok {
		entry = &threadLock{slot: make(chan struct{}, 1)}
		l.locks[threadID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.slot <- struct{}{}:
	case <-ctx.Done():
		l.release(threadID, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.slot
			l.release(threadID, entry)
		})
	}, nil
}

func (l *ThreadLocker) release(threadID string, entry *threadLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, threadID)
	}
}

func (l *ThreadLocker) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
