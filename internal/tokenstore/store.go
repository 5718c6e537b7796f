// Package tokenstore persists the visitor's access credential under a fixed key.
package tokenstore

import "context"

// StorageKey is the key the access credential is stored under within a scope.
const StorageKey = "accessToken"

// Store holds one visitor's access credential. Setting "" clears it.
// Values are opaque and never validated.
type Store interface {
	Get(ctx context.Context) (token string, ok bool)
	Set(ctx context.Context, token string)
}

// Backend hands out stores bound to a visitor scope.
type Backend interface {
	Scoped(scope string) Store
}

// Nop stores nothing. Used where no visitor scope exists.
type Nop struct{}

func (Nop) Get(context.Context) (string, bool) { return "", false }
func (Nop) Set(context.Context, string)        {}
