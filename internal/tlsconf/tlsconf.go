// Package tlsconf caches TLS client configurations keyed on the options
// that affect them: peer verification and the custom CA bundle path.
//
// A custom CA bundle that cannot be read or parsed does not fail context
// construction — the configuration falls back to the platform trust store
// and the failure is reported to the logger. This mirrors the platform
// limitation on macOS, where the native TLS implementation cannot consume
// custom bundles at all.
package tlsconf

import (
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"os"
	"sync"
)

// Options selects a TLS configuration.
type Options struct {
	// VerifyPeer disables certificate chain and hostname verification when
	// false. Handshakes against self-signed servers then succeed.
	VerifyPeer bool

	// CABundlePath is an optional PEM bundle that overrides the platform
	// trust store.
	CABundlePath string
}

type cacheKey struct {
	verifyPeer   bool
	caBundlePath string
}

// Cache maps Options to shared *tls.Config values. Configurations are
// immutable after creation and safe for concurrent handshakes.
type Cache struct {
	mu      sync.Mutex
	configs map[cacheKey]*tls.Config
	logger  *slog.Logger
}

// NewCache creates an empty TLS configuration cache.
func NewCache(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		configs: make(map[cacheKey]*tls.Config),
		logger:  logger,
	}
}

var defaultCache = NewCache(nil)

// Get returns the shared configuration for opts from the process-wide cache.
func Get(opts Options) *tls.Config {
	return defaultCache.Get(opts)
}

// Get returns the configuration for opts, building it on first use. Equal
// options always yield the identical *tls.Config.
func (c *Cache) Get(opts Options) *tls.Config {
	key := cacheKey{verifyPeer: opts.VerifyPeer, caBundlePath: opts.CABundlePath}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg, ok := c.configs[key]; ok {
		return cfg
	}

	cfg := c.build(opts)
	c.configs[key] = cfg
	return cfg
}

func (c *Cache) build(opts Options) *tls.Config {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if !opts.VerifyPeer {
		cfg.InsecureSkipVerify = true
		return cfg
	}

	if opts.CABundlePath != "" {
		pool, err := loadBundle(opts.CABundlePath)
		if err != nil {
			// Fall back to the platform trust store without failing
			// construction (see package doc).
			c.logger.Warn("falling back to platform trust store",
				"ca_bundle", opts.CABundlePath, "error", err)
		} else {
			cfg.RootCAs = pool
		}
	}

	return cfg
}

func loadBundle(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, os.ErrInvalid
	}
	return pool, nil
}
