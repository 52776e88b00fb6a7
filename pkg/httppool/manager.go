package httppool

import (
	"sync"
)

// Manager maps endpoint keys to connection pools. Pools are created lazily
// from the manager's stored defaults on first lookup and are stable for the
// manager's lifetime.
type Manager struct {
	mu       sync.Mutex
	pools    map[string]*Pool
	defaults Options
}

// NewManager creates a pool manager. New pools inherit defaults; a nil
// defaults uses DefaultOptions.
func NewManager(defaults *Options) *Manager {
	var o Options
	if defaults != nil {
		o = *defaults
	} else {
		o = DefaultOptions()
	}
	return &Manager{
		pools:    make(map[string]*Pool),
		defaults: o,
	}
}

// PoolFor returns the pool for endpoint, creating it on first use. Equal
// endpoints always map to the same pool instance; distinct endpoints never
// share one.
func (m *Manager) PoolFor(endpoint string) (*Pool, error) {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	return m.poolForEndpoint(ep)
}

func (m *Manager) poolForEndpoint(ep Endpoint) (*Pool, error) {
	key := ep.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	if pool, ok := m.pools[key]; ok {
		return pool, nil
	}

	pool, err := New(key, &m.defaults)
	if err != nil {
		return nil, err
	}
	m.pools[key] = pool
	return pool, nil
}

// Close closes every pool the manager created.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pool := range m.pools {
		_ = pool.Close()
	}
	return nil
}

// Len returns the number of pools created so far.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pools)
}
