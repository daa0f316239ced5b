package router

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// userLocks serializes processing per user. Entries are reference counted
// and removed once nobody holds or waits on them.
type userLocks struct {
	mu sync.Mutex
	m  map[string]*userLock
}

type userLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{m: make(map[string]*userLock)}
}

// Acquire blocks until the user's lock is free or ctx is done.
func (l *userLocks) Acquire(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	ul, ok := l.m[userID]
	if !ok {
		ul = &userLock{sem: semaphore.NewWeighted(1)}
		l.m[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	if err := ul.sem.Acquire(ctx, 1); err != nil {
		l.unref(userID, ul)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ul.sem.Release(1)
			l.unref(userID, ul)
		})
	}, nil
}

func (l *userLocks) unref(userID string, ul *userLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.m, userID)
	}
}

func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
