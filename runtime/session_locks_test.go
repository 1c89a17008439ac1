package runtime

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestSessionLocksSerializeWithinSession(t *testing.T) {
	locks := sessionLocks{locks: make(map[string]*sessionLock)}

	unlock := locks.lock("session-1")

	entered := make(chan struct{})
	done := make(chan struct{})
	go func() {
		u := locks.lock("session-1")
		close(entered)
		u()
		close(done)
	}()

	select {
	case <-entered:
		t.Fatal("second caller entered while the session lock was held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	<-done
}

func TestSessionLocksEvictIdleEntries(t *testing.T) {
	locks := sessionLocks{locks: make(map[string]*sessionLock)}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			unlock := locks.lock(fmt.Sprintf("session-%d", n%5))
			unlock()
		}(i)
	}
	wg.Wait()

	locks.mu.Lock()
	remaining := len(locks.locks)
	locks.mu.Unlock()
	if remaining != 0 {
		t.Errorf("got %d lock entries after all sessions released, want 0", remaining)
	}
}
