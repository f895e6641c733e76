// Package lock serialises work on the same content digest when several
// goroutines may touch it, e.g. parallel blob downloads of a manifest that
// lists one layer twice.
package lock

import (
	"context"
	"sync"

	"github.com/opencontainers/go-digest"
)

// Locker blocks until the lock for a digest is acquired or ctx is done.
type Locker interface {
	AcquireLock(ctx context.Context, digest digest.Digest) (Lock, error)
}

// Lock represents an acquired lock that must be released
type Lock interface {
	Release() error
}

// DigestLocker is an in-process Locker. Entries are dropped once nobody holds
// or waits for them, so the map does not grow with the number of digests seen.
type DigestLocker struct {
	mu    sync.Mutex
	slots map[digest.Digest]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewDigestLocker() *DigestLocker {
	return &DigestLocker{slots: make(map[digest.Digest]*slot)}
}

func (l *DigestLocker) AcquireLock(ctx context.Context, dgst digest.Digest) (Lock, error) {
	l.mu.Lock()
	s, ok := l.slots[dgst]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[dgst] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return &digestLock{locker: l, digest: dgst, slot: s}, nil
	case <-ctx.Done():
		l.unref(dgst, s)
		return nil, ctx.Err()
	}
}

func (l *DigestLocker) unref(dgst digest.Digest, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, dgst)
	}
}

type digestLock struct {
	locker *DigestLocker
	digest digest.Digest
	slot   *slot
	once   sync.Once
}

func (l *digestLock) Release() error {
	l.once.Do(func() {
		<-l.slot.ch
		l.locker.unref(l.digest, l.slot)
	})
	return nil
}

// NoOpLocker hands out locks that never block. Used for sequential runs.
type NoOpLocker struct{}

func NewNoOpLocker() *NoOpLocker {
	return &NoOpLocker{}
}

func (l *NoOpLocker) AcquireLock(ctx context.Context, digest digest.Digest) (Lock, error) {
	return noopLock{}, nil
}

type noopLock struct{}

func (noopLock) Release() error {
	return nil
}
