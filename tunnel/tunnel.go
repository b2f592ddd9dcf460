// Package tunnel defines the coordinator's boundary to a public-URL
// tunneling provider: when one is configured, the coordinator requests a
// publicly reachable wss:// URL at startup and advertises it alongside the
// local bind address. Concrete providers (ngrok and the like) live outside
// this module; only the interface and its registry are defined here, the
// same seam shape as ledger.Client.
package tunnel

import (
	"context"
	"fmt"
	"sync"
)

// Provider exposes a local listener through a public URL.
type Provider interface {
	// PublicURL establishes the tunnel for the given local address and
	// returns the public URL participants can reach it at. It blocks until
	// the tunnel is up or ctx is done.
	PublicURL(ctx context.Context, localAddr string) (string, error)

	// Close tears the tunnel down.
	Close() error
}

var (
	mu        sync.RWMutex
	providers = make(map[string]func() Provider)
)

// Register makes a provider constructor available under name. Intended to
// be called from a provider package's init; a second Register under the
// same name panics.
func Register(name string, construct func() Provider) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := providers[name]; dup {
		panic(fmt.Sprintf("tunnel: provider %q registered twice", name))
	}
	providers[name] = construct
}

// New constructs the named provider, or errors if none is registered.
func New(name string) (Provider, error) {
	mu.RLock()
	construct, ok := providers[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tunnel: no provider registered under %q", name)
	}
	return construct(), nil
}
