package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
)

func TestDigestLockerSerialisesSameDigest(t *testing.T) {
	locker := NewDigestLocker()
	dgst := digest.FromString("layer")

	var (
		active  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := locker.AcquireLock(context.Background(), dgst)
			if err != nil {
				t.Errorf("AcquireLock failed: %v", err)
				return
			}
			n := active.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			_ = l.Release()
		}()
	}
	wg.Wait()

	if maxSeen.Load() != 1 {
		t.Errorf("observed %d concurrent holders, want 1", maxSeen.Load())
	}
	if len(locker.slots) != 0 {
		t.Errorf("locker kept %d slots after release", len(locker.slots))
	}
}

func TestDigestLockerIndependentDigests(t *testing.T) {
	locker := NewDigestLocker()

	a, err := locker.AcquireLock(context.Background(), digest.FromString("a"))
	if err != nil {
		t.Fatalf("AcquireLock(a) failed: %v", err)
	}
	defer a.Release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	b, err := locker.AcquireLock(ctx, digest.FromString("b"))
	if err != nil {
		t.Fatalf("AcquireLock(b) should not block on a: %v", err)
	}
	_ = b.Release()
}

func TestDigestLockerContextCancel(t *testing.T) {
	locker := NewDigestLocker()
	dgst := digest.FromString("busy")

	held, err := locker.AcquireLock(context.Background(), dgst)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := locker.AcquireLock(ctx, dgst); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("AcquireLock error = %v, want deadline exceeded", err)
	}

	_ = held.Release()
	_ = held.Release()

	if len(locker.slots) != 0 {
		t.Errorf("locker kept %d slots after release", len(locker.slots))
	}
}
