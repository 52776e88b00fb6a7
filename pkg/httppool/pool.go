package httppool

import (
	"context"
	"sync"
	"time"

	"github.com/objectstream/objectstream/internal/runtime"
	"github.com/objectstream/objectstream/pkg/errors"
	"github.com/objectstream/objectstream/pkg/types"
)

// PoolStats tracks connection pool statistics.
type PoolStats struct {
	Idle    int `json:"idle"`
	InUse   int `json:"in_use"`
	Total   int `json:"total"`
	MaxSize int `json:"max_size"`

	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Timeouts  int64 `json:"timeouts"`
	Created   int64 `json:"created"`
	Destroyed int64 `json:"destroyed"`
}

// Pool manages HTTP/1.1 connections to a single endpoint. At most
// MaxConnections exist in states Idle and InUse; no connection is ever
// shared by two concurrent requests.
//
// All methods are safe for concurrent use. Requests block the calling
// goroutine only — socket I/O runs under deadlines and never holds pool
// locks, so any number of goroutines can be in flight on one pool.
type Pool struct {
	endpoint Endpoint
	opts     Options

	mu     sync.Mutex
	idle   chan *conn
	wake   chan struct{}
	total  int
	closed bool
	stats  PoolStats
}

// New creates a connection pool for endpoint ("scheme://host[:port]").
// A nil opts uses DefaultOptions.
func New(endpoint string, opts *Options) (*Pool, error) {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	var o Options
	if opts != nil {
		o = *opts
	} else {
		o = DefaultOptions()
	}
	o = o.withDefaults()

	if o.Proxy != nil {
		if o.Proxy.Host == "" {
			return nil, errors.New(errors.ErrCodeMissingOption, "proxy host is required")
		}
		if o.Proxy.Port <= 0 || o.Proxy.Port > 65535 {
			return nil, errors.Newf(errors.ErrCodeInvalidOption, "invalid proxy port %d", o.Proxy.Port)
		}
	}

	// Bind the process runtime before the first request so all pools share
	// one dialer and resolver.
	runtime.Acquire()

	return &Pool{
		endpoint: ep,
		opts:     o,
		idle:     make(chan *conn, o.MaxConnections),
		wake:     make(chan struct{}, 1),
		stats:    PoolStats{MaxSize: o.MaxConnections},
	}, nil
}

// Endpoint returns the parsed endpoint this pool serves.
func (p *Pool) Endpoint() Endpoint {
	return p.endpoint
}

// Do executes a buffered request: the complete response body is returned in
// Response.Body.
func (p *Pool) Do(ctx context.Context, method, target string, headers []types.Header, body []byte) (*types.Response, error) {
	return p.request(ctx, method, target, headers, body, nil, nil)
}

// DoStream executes a streaming request: body bytes are delivered to sink
// in arrival order, at most one call at a time. Response.Body is nil.
func (p *Pool) DoStream(ctx context.Context, method, target string, headers []types.Header, body []byte, sink types.ChunkSink) (*types.Response, error) {
	if sink == nil {
		return nil, errors.New(errors.ErrCodeMissingOption, "chunk sink is required for streaming requests")
	}
	return p.request(ctx, method, target, headers, body, nil, sink)
}

// DoStreamHeaders is DoStream with an observer that sees the status and
// headers before the first chunk, in wire order.
func (p *Pool) DoStreamHeaders(ctx context.Context, method, target string, headers []types.Header, body []byte, onHeaders HeadersFunc, sink types.ChunkSink) (*types.Response, error) {
	if sink == nil {
		return nil, errors.New(errors.ErrCodeMissingOption, "chunk sink is required for streaming requests")
	}
	return p.request(ctx, method, target, headers, body, onHeaders, sink)
}

func (p *Pool) request(ctx context.Context, method, target string, headers []types.Header, body []byte, onHeaders HeadersFunc, sink types.ChunkSink) (*types.Response, error) {
	start := time.Now()

	c, err := p.acquire(ctx)
	if err != nil {
		p.opts.Metrics.RecordRequest(method, time.Since(start), err)
		return nil, err
	}

	spec := &requestSpec{
		method:      method,
		target:      target,
		headers:     headers,
		body:        body,
		onHeaders:   onHeaders,
		readTimeout: p.opts.ReadTimeout,
	}

	// Cancellation must interrupt in-flight socket I/O, not just the next
	// pool operation.
	stop := context.AfterFunc(ctx, func() {
		_ = c.netConn.SetDeadline(time.Now())
	})

	status, hdrs, respBody, reusable, err := c.roundTrip(ctx, spec, sink)
	stop()
	if err != nil {
		// Connection-level failure: Closing -> Dead, surface the error.
		p.discard(c)
		p.opts.Metrics.RecordRequest(method, time.Since(start), err)
		p.publishGauges()
		if ctx.Err() != nil {
			return nil, errors.New(errors.ErrCodeOperationCanceled, "request canceled").
				WithCause(ctx.Err())
		}
		if te, ok := errors.AsTransferError(err); ok {
			return nil, te.WithComponent("httppool").WithOperation(method)
		}
		return nil, err
	}

	p.release(c, reusable)
	p.opts.Metrics.RecordRequest(method, time.Since(start), nil)
	p.publishGauges()

	return &types.Response{
		StatusCode: status,
		Headers:    hdrs.Merged(),
		Body:       respBody,
	}, nil
}

// acquire returns a connection in state InUse: a fresh idle connection if
// one is available, a new connection while the pool is under its limit, and
// otherwise a released connection, waiting up to the connect timeout.
func (p *Pool) acquire(ctx context.Context) (*conn, error) {
	timer := time.NewTimer(p.opts.ConnectTimeout)
	defer timer.Stop()

	for {
		if c, ok := p.popIdle(); ok {
			return c, nil
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, errors.New(errors.ErrCodePoolClosed, "pool is closed")
		}
		if p.total < p.opts.MaxConnections {
			p.total++ // reserve the slot before dialing
			p.stats.Misses++
			p.mu.Unlock()

			dialCtx, cancel := context.WithTimeout(ctx, p.opts.ConnectTimeout)
			c, err := dialConn(dialCtx, p.endpoint, &p.opts)
			cancel()
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				select {
				case p.wake <- struct{}{}:
				default:
				}
				if te, ok := errors.AsTransferError(err); ok {
					return nil, te.WithComponent("httppool").WithOperation("connect")
				}
				return nil, err
			}
			p.mu.Lock()
			p.stats.Created++
			p.mu.Unlock()
			p.opts.Logger.Debug("opened connection",
				"endpoint", p.endpoint.Key(), "total", p.total)
			return c, nil
		}
		p.mu.Unlock()

		// Pool is at capacity: wait for a release, the connect timeout, or
		// cancellation.
		select {
		case c := <-p.idle:
			if p.retireIfExpired(c) {
				continue
			}
			c.state = StateInUse
			p.countHit()
			return c, nil
		case <-p.wake:
			// A slot opened up (a connection was discarded); retry.
			continue
		case <-timer.C:
			p.mu.Lock()
			p.stats.Timeouts++
			p.mu.Unlock()
			return nil, errors.Newf(errors.ErrCodeConnectionTimeout,
				"timed out waiting for a pooled connection to %s", p.endpoint.Key()).
				WithSymbol(errors.SymbolSocketTimeout).
				WithComponent("httppool")
		case <-ctx.Done():
			return nil, errors.New(errors.ErrCodeOperationCanceled, "request canceled").
				WithCause(ctx.Err())
		}
	}
}

// popIdle pops idle connections until it finds one that has not expired.
func (p *Pool) popIdle() (*conn, bool) {
	for {
		select {
		case c := <-p.idle:
			if p.retireIfExpired(c) {
				continue
			}
			c.state = StateInUse
			p.countHit()
			return c, true
		default:
			return nil, false
		}
	}
}

// retireIfExpired closes connections idle past MaxConnectionIdle.
func (p *Pool) retireIfExpired(c *conn) bool {
	if !c.expired(p.opts.MaxConnectionIdle, time.Now()) {
		return false
	}
	p.discard(c)
	return true
}

func (p *Pool) countHit() {
	p.mu.Lock()
	p.stats.Hits++
	p.mu.Unlock()
}

// release returns a connection to Idle, or closes it when it is no longer
// reusable or the pool has been closed.
func (p *Pool) release(c *conn, reusable bool) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if !reusable || closed {
		p.discard(c)
		return
	}

	c.lastUsedAt = time.Now()
	c.state = StateIdle
	select {
	case p.idle <- c:
	default:
		// Capacity matches MaxConnections and live connections never
		// exceed it, so the send does not block; this guards that invariant.
		p.discard(c)
	}
}

// discard closes a connection and gives up its slot.
func (p *Pool) discard(c *conn) {
	c.close()
	p.mu.Lock()
	p.total--
	p.stats.Destroyed++
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := p.stats
	stats.Idle = len(p.idle)
	stats.Total = p.total
	stats.InUse = p.total - stats.Idle
	return stats
}

func (p *Pool) publishGauges() {
	s := p.Stats()
	p.opts.Metrics.SetPoolGauges(p.endpoint.Key(), s.Idle, s.InUse, 0)
}

// Close closes all idle connections and marks the pool closed. In-flight
// connections are closed as they are released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case c := <-p.idle:
			p.discard(c)
		default:
			return nil
		}
	}
}
