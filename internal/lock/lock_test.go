package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestKeyedMutex_Serializes(t *testing.T) {
	defer goleak.VerifyNone(t)

	k := NewKeyedMutex()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), "item-1")
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max holders = %d, want 1", maxInside)
	}
	if k.size() != 0 {
		t.Errorf("idle keys retained: %d", k.size())
	}
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := NewKeyedMutex()
	unlockA, _ := k.Lock(context.Background(), "a")
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := k.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("lock on another key blocked: %v", err)
	}
	unlockB()
}

func TestKeyedMutex_ContextCancel(t *testing.T) {
	k := NewKeyedMutex()
	unlock, _ := k.Lock(context.Background(), "a")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := k.Lock(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	unlock()
	unlock()
	if k.size() != 0 {
		t.Errorf("keys retained after release: %d", k.size())
	}
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("STUDYLOOP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STUDYLOOP_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, RedisConfig{Addr: addr}, 5*time.Second)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer r.Close()

	unlock, err := r.Lock(ctx, "test-key")
	if err != nil {
		t.Fatal(err)
	}
	short, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if _, err := r.Lock(short, "test-key"); err == nil {
		t.Fatal("second lock should not be granted while held")
	}
	unlock()

	unlock2, err := r.Lock(ctx, "test-key")
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	unlock2()
}
