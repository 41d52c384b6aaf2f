package nonce

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestConsumeExactlyOnce(t *testing.T) {
	r := NewRegistry(NewMemoryStore())

	n, err := r.Issue("GET /api/data", time.Minute)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if !strings.HasPrefix(string(n), "0x") || len(n) != 66 {
		t.Fatalf("unexpected nonce shape: %s", n)
	}

	ok, err := r.Consume("GET /api/data", n)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if !ok {
		t.Fatal("first consume should succeed")
	}

	ok, err = r.Consume("GET /api/data", n)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if ok {
		t.Fatal("second consume must fail")
	}
}

func TestPeekDoesNotRedeem(t *testing.T) {
	r := NewRegistry(NewMemoryStore())

	n, err := r.Issue("GET /api/data", time.Minute)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		ok, err := r.Peek("GET /api/data", n)
		if err != nil {
			t.Fatalf("Peek failed: %v", err)
		}
		if !ok {
			t.Fatalf("peek %d should find the nonce", i)
		}
	}

	ok, err := r.Consume("GET /api/data", n)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if !ok {
		t.Fatal("consume after peeks should still succeed")
	}
}

func TestConsumeScopedToRoute(t *testing.T) {
	r := NewRegistry(NewMemoryStore())

	n, err := r.Issue("GET /api/data", time.Minute)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	ok, _ := r.Consume("POST /api/data", n)
	if ok {
		t.Fatal("nonce must not redeem on another route")
	}
	ok, _ = r.Consume("GET /api/data", n)
	if !ok {
		t.Fatal("nonce should still redeem on its own route")
	}
}

func TestExpiredNonceNotConsumable(t *testing.T) {
	r := NewRegistry(NewMemoryStore())

	now := time.Now()
	r.now = func() time.Time { return now }

	n, err := r.Issue("GET /api/data", 30*time.Second)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	now = now.Add(31 * time.Second)

	if ok, _ := r.Peek("GET /api/data", n); ok {
		t.Error("expired nonce should not peek")
	}
	if ok, _ := r.Consume("GET /api/data", n); ok {
		t.Error("expired nonce should not consume")
	}
}

func TestIssueSweepsLazily(t *testing.T) {
	store := NewMemoryStore()
	r := NewRegistry(store)

	now := time.Now()
	r.now = func() time.Time { return now }

	if _, err := r.Issue("GET /a", time.Second); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := r.Issue("GET /b", time.Hour); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	now = now.Add(2 * time.Second)

	// The next issue sweeps the expired /a entry.
	if _, err := r.Issue("GET /c", time.Hour); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	store.mu.Lock()
	remaining := len(store.entries)
	store.mu.Unlock()
	if remaining != 2 {
		t.Errorf("expected 2 live entries after lazy sweep, got %d", remaining)
	}
}

func TestConcurrentConsumeSingleWinner(t *testing.T) {
	r := NewRegistry(NewMemoryStore())

	n, err := r.Issue("GET /api/data", time.Minute)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := r.Consume("GET /api/data", n)
			if err != nil {
				t.Errorf("Consume failed: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly 1 successful consume, got %d", wins)
	}
}

func TestRouteKey(t *testing.T) {
	if got := RouteKey("POST", "/api/data"); got != "POST /api/data" {
		t.Errorf("RouteKey = %q", got)
	}
	if got := RouteKey("", "/api/data"); got != "GET /api/data" {
		t.Errorf("RouteKey with empty method = %q, want GET default", got)
	}
}
