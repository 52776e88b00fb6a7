// Package s3 implements the S3 meta-request engine: multipart GET/PUT with
// parallel part transfer, per-part retry, ordered reassembly, direct file
// I/O, checksums, and progress reporting.
package s3

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/objectstream/objectstream/pkg/errors"
	"github.com/objectstream/objectstream/pkg/httppool"
	"github.com/objectstream/objectstream/pkg/retry"
)

// Size constants for transfer tuning.
const (
	MiB = int64(1024 * 1024)
	GiB = 1024 * MiB

	// minPartSize is the smallest part S3 accepts for multipart uploads
	// (except the final part).
	minPartSize = 5 * MiB

	// defaultPartSize is used when the caller lets the engine auto-tune.
	defaultPartSize = 8 * MiB

	// maxParts is the S3 limit on part numbers.
	maxParts = 10000
)

// Config represents S3 client configuration.
type Config struct {
	// Region is the AWS region requests are signed for. Required.
	Region string `yaml:"region"`

	// Endpoint overrides the virtual-hosted-style AWS endpoint, switching
	// the client to path-style addressing. Used for S3-compatible stores
	// and tests.
	Endpoint string `yaml:"endpoint"`

	// ThroughputTargetGbps sizes the per-transfer concurrency.
	ThroughputTargetGbps float64 `yaml:"throughput_target_gbps"`

	// PartSize is the multipart part size in bytes. Zero auto-tunes.
	PartSize int64 `yaml:"part_size"`

	// MultipartUploadThreshold is the object size at which uploads switch
	// to the multipart protocol. Zero derives it from PartSize.
	MultipartUploadThreshold int64 `yaml:"multipart_upload_threshold"`

	// MemoryLimitInBytes bounds memory used to buffer out-of-order part
	// completions. Zero means unlimited; a non-zero value below 1 GiB is
	// rejected.
	MemoryLimitInBytes int64 `yaml:"memory_limit_in_bytes"`

	// MaxActiveConnections caps concurrent part requests per meta-request.
	// Zero derives it from the throughput target.
	MaxActiveConnections int `yaml:"max_active_connections"`

	// Connection settings applied to the underlying pools.
	MaxConnections    int           `yaml:"max_connections"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	SSLVerifyPeer     bool          `yaml:"ssl_verify_peer"`
	SSLCABundle       string        `yaml:"ssl_ca_bundle"`
	Proxy             *httppool.ProxyOptions `yaml:"proxy"`

	// Retry controls per-part retry behavior.
	Retry retry.Config `yaml:"retry"`
}

// NewDefaultConfig returns a configuration with sensible defaults. Region
// must still be set by the caller.
func NewDefaultConfig() *Config {
	return &Config{
		ThroughputTargetGbps: 10.0,
		PartSize:             0, // auto
		MaxConnections:       25,
		ConnectTimeout:       60 * time.Second,
		ReadTimeout:          60 * time.Second,
		SSLVerifyPeer:        true,
		Retry:                retry.DefaultConfig(),
	}
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeInvalidArgument,
			"reading config %s: %v", path, err).WithCause(err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Newf(errors.ErrCodeInvalidArgument,
			"parsing config %s: %v", path, err).WithCause(err)
	}
	return cfg, nil
}

// Validate checks the configuration and fills derived defaults.
func (c *Config) Validate() error {
	if c.Region == "" {
		return errors.New(errors.ErrCodeMissingOption, "region is required")
	}
	if c.PartSize == 0 {
		c.PartSize = defaultPartSize
	}
	if c.PartSize < minPartSize {
		return errors.Newf(errors.ErrCodeInvalidOption,
			"part_size %d is below the 5 MiB multipart minimum", c.PartSize)
	}
	if c.MultipartUploadThreshold == 0 {
		c.MultipartUploadThreshold = c.PartSize
	}
	if c.MultipartUploadThreshold < c.PartSize {
		return errors.New(errors.ErrCodeInvalidOption,
			"multipart_upload_threshold must be at least part_size")
	}
	if c.MemoryLimitInBytes != 0 && c.MemoryLimitInBytes < GiB {
		return errors.Newf(errors.ErrCodeInvalidOption,
			"memory_limit_in_bytes must be at least 1 GiB when set, got %d", c.MemoryLimitInBytes)
	}
	if c.ThroughputTargetGbps <= 0 {
		c.ThroughputTargetGbps = 10.0
	}
	if c.MaxActiveConnections == 0 {
		// Four connections per 2.5 Gbps of target (minimum 4); bounded by the pool.
		c.MaxActiveConnections = int(c.ThroughputTargetGbps / 2.5 * 4)
		if c.MaxActiveConnections < 4 {
			c.MaxActiveConnections = 4
		}
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 25
	}
	if c.MaxActiveConnections > c.MaxConnections {
		c.MaxActiveConnections = c.MaxConnections
	}
	return nil
}

// poolOptions builds the connection pool options for this configuration.
func (c *Config) poolOptions() httppool.Options {
	opts := httppool.DefaultOptions()
	opts.MaxConnections = c.MaxConnections
	opts.ConnectTimeout = c.ConnectTimeout
	opts.ReadTimeout = c.ReadTimeout
	opts.SSLVerifyPeer = c.SSLVerifyPeer
	opts.SSLCABundle = c.SSLCABundle
	opts.Proxy = c.Proxy
	return opts
}
