// Package lock serialises invoice commits that touch the same party.
package lock

import (
	"context"
	"errors"
	"sync"
)

var ErrNotObtained = errors.New("lock not obtained")

// Release gives a lock back. It is safe to call once.
type Release func(ctx context.Context) error

type Locker interface {
	Obtain(ctx context.Context, key string) (Release, error)
}

// LocalLocker is an in-process keyed mutex for single-instance deployments.
// A key's slot lives only while someone holds or waits for it.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: map[string]*slot{}}
}

func (l *LocalLocker) Obtain(ctx context.Context, key string) (Release, error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, s)
		return nil, errors.Join(ErrNotObtained, ctx.Err())
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-s.ch
			l.unref(key, s)
		})
		return nil
	}, nil
}

func (l *LocalLocker) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// held reports how many keys currently have a slot.
func (l *LocalLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
