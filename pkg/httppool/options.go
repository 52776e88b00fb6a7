package httppool

import (
	"log/slog"
	"time"

	"github.com/objectstream/objectstream/internal/metrics"
)

// ProxyOptions routes a pool's connections through an HTTP proxy. Basic
// authentication is used when Username is non-empty.
type ProxyOptions struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Options configures a connection pool. Construct with DefaultOptions and
// override fields; New also fills zero values with the defaults below.
type Options struct {
	// MaxConnections bounds connections in states Idle and InUse.
	MaxConnections int `yaml:"max_connections"`

	// MaxConnectionIdle is how long an idle connection may sit in the pool
	// before being closed instead of reused.
	MaxConnectionIdle time.Duration `yaml:"max_connection_idle"`

	// ConnectTimeout bounds socket establishment and pool acquisition.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ReadTimeout bounds idle time between response bytes. Zero selects the
	// default; a negative value disables the timeout.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// SSLVerifyPeer controls certificate verification for https endpoints.
	SSLVerifyPeer bool `yaml:"ssl_verify_peer"`

	// SSLCABundle is an optional PEM bundle path overriding the platform
	// trust store.
	SSLCABundle string `yaml:"ssl_ca_bundle"`

	// Proxy, when set, routes every request through the proxy.
	Proxy *ProxyOptions `yaml:"proxy"`

	Logger  *slog.Logger       `yaml:"-"`
	Metrics *metrics.Collector `yaml:"-"`
}

// DefaultOptions returns the documented pool defaults.
func DefaultOptions() Options {
	return Options{
		MaxConnections:    25,
		MaxConnectionIdle: 60 * time.Second,
		ConnectTimeout:    60 * time.Second,
		ReadTimeout:       60 * time.Second,
		SSLVerifyPeer:     true,
	}
}

// withDefaults fills zero values from DefaultOptions. SSLVerifyPeer is left
// as given: its zero value is a deliberate opt-out.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxConnections <= 0 {
		o.MaxConnections = def.MaxConnections
	}
	if o.MaxConnectionIdle <= 0 {
		o.MaxConnectionIdle = def.MaxConnectionIdle
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = def.ConnectTimeout
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = def.ReadTimeout
	} else if o.ReadTimeout < 0 {
		o.ReadTimeout = 0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Nop
	}
	return o
}
