package admission

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestQuotaGuardSerializesPerOrder(t *testing.T) {
	guard := NewQuotaGuard()
	orderID := uuid.New()

	const goroutines = 100
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := guard.Lock(orderID)
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != goroutines {
		t.Fatalf("expected %d increments, got %d", goroutines, counter)
	}
}

func TestQuotaGuardIndependentOrders(t *testing.T) {
	guard := NewQuotaGuard()
	first := uuid.New()
	second := uuid.New()

	unlockFirst := guard.Lock(first)
	defer unlockFirst()

	done := make(chan struct{})
	go func() {
		unlock := guard.Lock(second)
		unlock()
		close(done)
	}()

	<-done
}

func TestQuotaGuardReleasesEntry(t *testing.T) {
	guard := NewQuotaGuard()
	orderID := uuid.New()

	unlock := guard.Lock(orderID)
	unlock()

	guard.mu.Lock()
	remaining := len(guard.locks)
	guard.mu.Unlock()

	if remaining != 0 {
		t.Fatalf("expected no retained entries, got %d", remaining)
	}
}
