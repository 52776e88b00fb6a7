package s3

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/objectstream/objectstream/internal/buffer"
	"github.com/objectstream/objectstream/internal/metrics"
	"github.com/objectstream/objectstream/pkg/errors"
	"github.com/objectstream/objectstream/pkg/httppool"
	"github.com/objectstream/objectstream/pkg/types"
)

// Client is a high-throughput S3 client. A single client admits any number
// of concurrent callers; each API call becomes a meta-request that may
// decompose into parallel part transfers over the shared pools.
type Client struct {
	config      *Config
	credentials types.CredentialsProvider
	signer      *v4.Signer
	pools       *httppool.Manager
	budget      *buffer.Budget
	logger      *slog.Logger
	metrics     *metrics.Collector
}

// NewClient creates an S3 client. Region and a credentials provider are
// required; a nil logger uses slog.Default.
func NewClient(cfg *Config, provider types.CredentialsProvider, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, errors.New(errors.ErrCodeMissingOption, "credentials provider is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	poolOpts := cfg.poolOptions()
	poolOpts.Logger = logger

	return &Client{
		config:      cfg,
		credentials: provider,
		signer:      v4.NewSigner(),
		pools:       httppool.NewManager(&poolOpts),
		budget:      buffer.NewBudget(cfg.MemoryLimitInBytes),
		logger:      logger,
		metrics:     metrics.NewCollector("objectstream_s3"),
	}, nil
}

// NewClientWithStaticCredentials creates a client from an access key pair.
func NewClientWithStaticCredentials(cfg *Config, accessKeyID, secretAccessKey, sessionToken string, logger *slog.Logger) (*Client, error) {
	provider := credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken)
	return NewClient(cfg, provider, logger)
}

// NewClientFromEnvironment creates a client using the ambient AWS
// credential chain (environment, shared config, IMDS).
func NewClientFromEnvironment(ctx context.Context, cfg *Config, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeMissingOption,
			"loading AWS credential chain: %v", err).WithCause(err)
	}
	if cfg.Region == "" {
		cfg.Region = awsCfg.Region
	}
	return NewClient(cfg, awsCfg.Credentials, logger)
}

// Close releases the client's connection pools.
func (c *Client) Close() error {
	return c.pools.Close()
}

// resolveCredentials captures a fresh credentials snapshot. Each
// meta-request resolves once before dispatch; a provider refresh never
// rewrites in-flight signing.
func (c *Client) resolveCredentials(ctx context.Context) (aws.Credentials, error) {
	creds, err := c.credentials.Retrieve(ctx)
	if err != nil {
		return aws.Credentials{}, errors.Newf(errors.ErrCodeMissingOption,
			"resolving credentials: %v", err).WithCause(err)
	}
	return creds, nil
}

// bucketEndpoint returns the endpoint URL and key path prefix for a bucket:
// virtual-hosted-style against AWS, path-style when Endpoint is overridden.
func (c *Client) bucketEndpoint(bucket string) (endpoint, basePath string) {
	if c.config.Endpoint != "" {
		return c.config.Endpoint, "/" + bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, c.config.Region), ""
}

// escapeKey percent-encodes an object key, preserving path separators.
func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

// apiRequest is one signed S3 REST request.
type apiRequest struct {
	method  string
	bucket  string
	key     string
	query   string
	headers []types.Header
	body    []byte
	sink    types.ChunkSink
}

const unsignedPayload = "UNSIGNED-PAYLOAD"

// send signs and executes one S3 REST request on the bucket's pool. HTTP
// error statuses are returned as both a populated response and a
// SERVICE_ERROR; transport failures return only the error.
func (c *Client) send(ctx context.Context, creds aws.Credentials, req *apiRequest) (*types.Response, error) {
	endpoint, basePath := c.bucketEndpoint(req.bucket)
	ep, err := httppool.ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	path := basePath
	if req.key != "" {
		path += "/" + escapeKey(req.key)
	}
	if path == "" {
		path = "/"
	}

	signed, err := c.signHeaders(ctx, creds, ep, req, path)
	if err != nil {
		return nil, err
	}

	target := path
	if req.query != "" {
		target += "?" + req.query
	}

	pool, err := c.pools.PoolFor(endpoint)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var resp *types.Response
	if req.sink != nil {
		// Error responses must not leak into the caller's sink: the status
		// arrives before the first chunk, and >= 400 bodies are captured
		// as the error document instead.
		var status int
		var errBody []byte
		onHeaders := func(s int, _ types.HeaderList) error {
			status = s
			return nil
		}
		guarded := func(p []byte) error {
			if status >= 400 {
				errBody = append(errBody, p...)
				return nil
			}
			return req.sink(p)
		}
		resp, err = pool.DoStreamHeaders(ctx, req.method, target, signed, req.body, onHeaders, guarded)
		if err == nil && resp.StatusCode >= 400 {
			resp.Body = errBody
		}
	} else {
		resp, err = pool.Do(ctx, req.method, target, signed, req.body)
	}
	c.metrics.RecordRequest(req.method, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return resp, errors.Newf(errors.ErrCodeServiceError,
			"%s %s returned HTTP %d", req.method, target, resp.StatusCode).
			WithStatus(resp.StatusCode).
			WithBody(resp.Body)
	}
	return resp, nil
}

// signHeaders runs SigV4 over the request and returns the full wire header
// list, including the caller's headers and the signature headers.
func (c *Client) signHeaders(ctx context.Context, creds aws.Credentials, ep httppool.Endpoint, req *apiRequest, path string) ([]types.Header, error) {
	plain, uerr := url.PathUnescape(path)
	if uerr != nil {
		plain = path
	}
	u := &url.URL{
		Scheme:   ep.Scheme,
		Host:     ep.HostHeader(),
		Path:     plain,
		RawPath:  path,
		RawQuery: req.query,
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u.String(), nil)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeInternalError,
			"building request for signing: %v", err).WithCause(err)
	}
	for _, h := range req.headers {
		httpReq.Header.Set(h.Name, h.Value)
	}
	// The payload is not hashed; S3 requires the marker header instead.
	httpReq.Header.Set("X-Amz-Content-Sha256", unsignedPayload)
	if creds.SessionToken != "" {
		httpReq.Header.Set("X-Amz-Security-Token", creds.SessionToken)
	}

	if err := c.signer.SignHTTP(ctx, creds, httpReq, unsignedPayload, "s3", c.config.Region, time.Now().UTC()); err != nil {
		return nil, errors.Newf(errors.ErrCodeInternalError,
			"signing request: %v", err).WithCause(err)
	}

	signed := make([]types.Header, 0, len(httpReq.Header)+1)
	signed = append(signed, types.Header{Name: "Host", Value: u.Host})
	for name, values := range httpReq.Header {
		for _, v := range values {
			signed = append(signed, types.Header{Name: name, Value: v})
		}
	}
	return signed, nil
}
