// Package nonce issues and redeems the single-use tokens that bind a
// payment offer to one settlement attempt. The registry is the only
// cross-request shared state in the facilitator; consumption is a single
// atomic check-and-delete so no two requests can redeem the same token.
package nonce

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Nonce is a single-use 32-byte token in 0x-prefixed hex form, the same
// shape the signed transfer authorization carries on the wire.
type Nonce string

// New generates a fresh random nonce.
func New() (Nonce, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	return Nonce("0x" + hex.EncodeToString(b[:])), nil
}

// Store persists issued nonces keyed by route. Implementations must make
// Delete atomic with respect to concurrent calls for the same key: at most
// one caller may observe true.
type Store interface {
	// Put records a nonce for a route with its expiry.
	Put(routeKey string, n Nonce, expiresAt time.Time) error
	// Delete removes the nonce if present and unexpired, reporting whether
	// this call removed it.
	Delete(routeKey string, n Nonce, now time.Time) (bool, error)
	// Get reports whether the nonce is present and unexpired, without
	// removing it.
	Get(routeKey string, n Nonce, now time.Time) (bool, error)
	// Sweep drops expired entries, returning how many were removed.
	Sweep(now time.Time) (int, error)
}

// Registry issues, peeks at, and consumes offer nonces over a Store.
type Registry struct {
	store Store
	now   func() time.Time
}

// NewRegistry builds a registry over the given store.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// Issue creates and records a fresh nonce for the route, valid for ttl.
// Expired entries are swept lazily here rather than on a timer.
func (r *Registry) Issue(routeKey string, ttl time.Duration) (Nonce, error) {
	now := r.now()
	if _, err := r.store.Sweep(now); err != nil {
		return "", fmt.Errorf("sweeping expired nonces: %w", err)
	}

	n, err := New()
	if err != nil {
		return "", err
	}
	if err := r.store.Put(routeKey, n, now.Add(ttl)); err != nil {
		return "", fmt.Errorf("recording nonce: %w", err)
	}
	return n, nil
}

// Consume atomically redeems the nonce: true exactly once per issued,
// unexpired nonce, false on every other call.
func (r *Registry) Consume(routeKey string, n Nonce) (bool, error) {
	return r.store.Delete(routeKey, n, r.now())
}

// Peek reports whether the nonce could currently be consumed, without
// redeeming it. Stand-alone verification uses this so that the following
// settlement still finds the nonce in place.
func (r *Registry) Peek(routeKey string, n Nonce) (bool, error) {
	return r.store.Get(routeKey, n, r.now())
}

// Sweep removes expired entries immediately.
func (r *Registry) Sweep() (int, error) {
	return r.store.Sweep(r.now())
}

// RouteKey builds the registry key for a route. Method defaults to GET
// when empty.
func RouteKey(method, resource string) string {
	if method == "" {
		method = "GET"
	}
	return method + " " + resource
}
