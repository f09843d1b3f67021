// Package secretstore is the client side of the versioned key/value store
// that holds secret payloads. The store has no delete primitive: retiring a
// secret only revokes ledger-mediated access and leaves the bytes in place.
package secretstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Read when no payload exists under the name
var ErrNotFound = errors.New("secret not found in store")

// Store is a versioned key/value store addressed by name
type Store interface {
	// Write stores data as the new version of name, fully replacing the previous payload
	Write(ctx context.Context, name string, data map[string]interface{}) error

	// Read returns the latest payload for name or ErrNotFound
	Read(ctx context.Context, name string) (map[string]interface{}, error)

	// List returns every name in the store
	List(ctx context.Context) ([]string, error)

	// HealthCheck reports whether the store is reachable and usable
	HealthCheck(ctx context.Context) error
}

// Observer receives one callback per store call
type Observer interface {
	ObserveStoreCall(op string, err error, duration time.Duration)
}

// Instrument wraps s so every call is reported to obs
func Instrument(s Store, obs Observer) Store {
	if obs == nil {
		return s
	}
	return &instrumented{next: s, obs: obs}
}

type instrumented struct {
	next Store
	obs  Observer
}

func (i *instrumented) Write(ctx context.Context, name string, data map[string]interface{}) error {
	start := time.Now()
	err := i.next.Write(ctx, name, data)
	i.obs.ObserveStoreCall("write", err, time.Since(start))
	return err
}

func (i *instrumented) Read(ctx context.Context, name string) (map[string]interface{}, error) {
	start := time.Now()
	data, err := i.next.Read(ctx, name)
	i.obs.ObserveStoreCall("read", err, time.Since(start))
	return data, err
}

func (i *instrumented) List(ctx context.Context) ([]string, error) {
	start := time.Now()
	names, err := i.next.List(ctx)
	i.obs.ObserveStoreCall("list", err, time.Since(start))
	return names, err
}

func (i *instrumented) HealthCheck(ctx context.Context) error {
	return i.next.HealthCheck(ctx)
}
