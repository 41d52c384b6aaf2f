package facilitator

import (
	"context"
	"sync"
	"time"

	arcrelay "github.com/kij-exe/ArcRelay"
)

// settleCache deduplicates settlement attempts. A client that retries after
// a timeout or dropped connection gets the original outcome back instead of
// submitting the authorization twice.
type settleCache struct {
	mu       sync.Mutex
	results  map[string]*arcrelay.SettleResponse
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	ttl      time.Duration
}

func newSettleCache(ttl time.Duration) *settleCache {
	return &settleCache{
		results:  make(map[string]*arcrelay.SettleResponse),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		ttl:      ttl,
	}
}

type settleStatus int

const (
	// statusNotFound: no cached result, no in-flight attempt; the caller
	// now holds the in-flight marker and must Complete or Fail it.
	statusNotFound settleStatus = iota
	// statusCached: a prior attempt's result is available.
	statusCached
	// statusInFlight: another attempt is running; wait on the channel.
	statusInFlight
)

// CheckAndMark atomically checks the cache and claims the key when it is
// free.
func (c *settleCache) CheckAndMark(key string) (settleStatus, *arcrelay.SettleResponse, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if expiry, exists := c.expiry[key]; exists {
		if time.Now().Before(expiry) {
			if result, ok := c.results[key]; ok {
				return statusCached, result, nil
			}
		}
		delete(c.results, key)
		delete(c.expiry, key)
	}

	if done, exists := c.inFlight[key]; exists {
		return statusInFlight, nil, done
	}

	done := make(chan struct{})
	c.inFlight[key] = done
	return statusNotFound, nil, done
}

// WaitForResult blocks until the in-flight attempt finishes or the context
// ends. A nil result with nil error means the attempt failed without
// caching and the caller may run its own.
func (c *settleCache) WaitForResult(ctx context.Context, key string, done chan struct{}) (*arcrelay.SettleResponse, error) {
	select {
	case <-done:
		return c.Get(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the cached result for key, or nil.
func (c *settleCache) Get(key string) *arcrelay.SettleResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry, exists := c.expiry[key]
	if !exists {
		return nil
	}
	if time.Now().After(expiry) {
		delete(c.results, key)
		delete(c.expiry, key)
		return nil
	}
	return c.results[key]
}

// Complete caches the outcome, releases the in-flight marker, and wakes
// waiters.
func (c *settleCache) Complete(key string, response *arcrelay.SettleResponse, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.results[key] = response
	c.expiry[key] = time.Now().Add(c.ttl)
	delete(c.inFlight, key)
	close(done)

	c.cleanupExpiredLocked()
}

// Fail releases the in-flight marker without caching, so the settlement can
// be retried.
func (c *settleCache) Fail(key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inFlight, key)
	close(done)
}

func (c *settleCache) cleanupExpiredLocked() {
	now := time.Now()
	for key, expiry := range c.expiry {
		if now.After(expiry) {
			delete(c.results, key)
			delete(c.expiry, key)
		}
	}
}
