// Package runtime manages the process-global transfer runtime: the shared
// dialer, DNS resolver, and the event goroutine budget used by every
// connection pool and S3 client in the process.
//
// Resources are initialized lazily on the first Acquire and are read-only
// afterwards. Teardown is left to process exit — explicit teardown would
// have to block on pools the caller may still hold references to.
package runtime

import (
	"context"
	"net"
	"runtime"
	"sync"
	"time"
)

// Runtime bundles the shared process-wide resources.
type Runtime struct {
	dialer   *net.Dialer
	resolver *net.Resolver

	// eventThreads is the size of the transfer goroutine budget, matching
	// the logical CPU count at initialization.
	eventThreads int

	initialized time.Time
}

var (
	instance *Runtime
	once     sync.Once
)

// Acquire returns the singleton runtime, initializing it on first call.
// Concurrent first callers all observe the same fully-initialized handle.
func Acquire() *Runtime {
	once.Do(func() {
		resolver := &net.Resolver{}
		instance = &Runtime{
			dialer: &net.Dialer{
				Resolver:  resolver,
				KeepAlive: 30 * time.Second,
			},
			resolver:     resolver,
			eventThreads: runtime.NumCPU(),
			initialized:  time.Now(),
		}
	})
	return instance
}

// DialContext establishes a TCP connection using the shared dialer. The
// context bounds connection establishment (the connect timeout).
func (r *Runtime) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return r.dialer.DialContext(ctx, network, address)
}

// Resolver returns the shared DNS resolver.
func (r *Runtime) Resolver() *net.Resolver {
	return r.resolver
}

// EventThreads returns the transfer goroutine budget (logical CPU count at
// initialization).
func (r *Runtime) EventThreads() int {
	return r.eventThreads
}

// InitializedAt returns when the runtime was first initialized.
func (r *Runtime) InitializedAt() time.Time {
	return r.initialized
}
