package httppool

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"time"

	"github.com/objectstream/objectstream/internal/runtime"
	"github.com/objectstream/objectstream/internal/tlsconf"
	"github.com/objectstream/objectstream/pkg/errors"
)

// ConnState is the lifecycle state of a pooled connection.
type ConnState int32

const (
	StateIdle ConnState = iota
	StateInUse
	StateClosing
	StateDead
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInUse:
		return "in_use"
	case StateClosing:
		return "closing"
	default:
		return "dead"
	}
}

// conn is one HTTP/1.1 connection owned exclusively by its pool. While a
// request is in flight the connection belongs to exactly one caller; state
// transitions happen under the pool's lock or while the caller holds the
// connection exclusively.
type conn struct {
	netConn net.Conn
	br      *bufio.Reader

	endpoint Endpoint
	state    ConnState

	// viaProxy marks plain-HTTP connections through a proxy: request
	// targets use absolute-form and each request carries proxy auth.
	viaProxy  bool
	proxyAuth string

	lastUsedAt time.Time
	createdAt  time.Time
}

// expired reports whether the connection has sat idle past maxIdle.
func (c *conn) expired(maxIdle time.Duration, now time.Time) bool {
	return maxIdle > 0 && now.Sub(c.lastUsedAt) > maxIdle
}

// close transitions Closing -> Dead and releases the socket.
func (c *conn) close() {
	c.state = StateClosing
	if c.netConn != nil {
		_ = c.netConn.Close()
	}
	c.state = StateDead
}

// basicProxyAuth builds the Proxy-Authorization header value.
func basicProxyAuth(username, password string) string {
	raw := username + ":" + password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// dialConn establishes a new connection to the pool's endpoint, through the
// proxy when configured, completing the TLS handshake for https endpoints.
// The context carries the connect timeout.
func dialConn(ctx context.Context, endpoint Endpoint, opts *Options) (*conn, error) {
	rt := runtime.Acquire()

	c := &conn{
		endpoint:  endpoint,
		state:     StateInUse,
		createdAt: time.Now(),
	}

	if opts.Proxy != nil {
		if err := dialViaProxy(ctx, rt, c, endpoint, opts); err != nil {
			return nil, err
		}
	} else {
		raw, err := rt.DialContext(ctx, "tcp", endpoint.Address())
		if err != nil {
			return nil, connectError(err)
		}
		c.netConn = raw
		if endpoint.UseTLS() {
			if err := upgradeTLS(ctx, c, endpoint, opts); err != nil {
				_ = raw.Close()
				return nil, err
			}
		}
	}

	c.br = bufio.NewReaderSize(c.netConn, 32*1024)
	c.lastUsedAt = time.Now()
	return c, nil
}

// dialViaProxy connects to the proxy and either tunnels (https endpoints,
// via CONNECT) or records absolute-form routing (http endpoints).
func dialViaProxy(ctx context.Context, rt *runtime.Runtime, c *conn, endpoint Endpoint, opts *Options) error {
	proxyAddr := fmt.Sprintf("%s:%d", opts.Proxy.Host, opts.Proxy.Port)
	raw, err := rt.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return errors.New(errors.ErrCodeProxyFailed, err.Error()).
			WithSymbol(errors.SymbolProxyConnectFailed).WithCause(err)
	}
	c.netConn = raw

	auth := ""
	if opts.Proxy.Username != "" {
		auth = basicProxyAuth(opts.Proxy.Username, opts.Proxy.Password)
	}

	if !endpoint.UseTLS() {
		c.viaProxy = true
		c.proxyAuth = auth
		return nil
	}

	// CONNECT tunnel for TLS endpoints.
	if deadline, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(deadline)
	}
	var req []byte
	req = fmt.Appendf(req, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n", endpoint.Address(), endpoint.Address())
	if auth != "" {
		req = fmt.Appendf(req, "Proxy-Authorization: %s\r\n", auth)
	}
	req = append(req, "\r\n"...)
	if _, err := raw.Write(req); err != nil {
		_ = raw.Close()
		return errors.New(errors.ErrCodeProxyFailed, err.Error()).
			WithSymbol(errors.SymbolProxyConnectFailed).WithCause(err)
	}

	br := bufio.NewReader(raw)
	status, _, err := readStatusLine(br)
	if err != nil {
		_ = raw.Close()
		return errors.Newf(errors.ErrCodeProxyFailed, "reading CONNECT response: %v", err).
			WithSymbol(errors.SymbolProxyConnectFailed).WithCause(err)
	}
	if _, err := readHeaderBlock(br); err != nil {
		_ = raw.Close()
		return errors.Newf(errors.ErrCodeProxyFailed, "reading CONNECT response: %v", err).
			WithSymbol(errors.SymbolProxyConnectFailed).WithCause(err)
	}
	if status == 407 {
		_ = raw.Close()
		return errors.Newf(errors.ErrCodeProxyFailed, "proxy authentication failed (HTTP %d)", status).
			WithSymbol(errors.SymbolProxyAuthFailed)
	}
	if status < 200 || status >= 300 {
		_ = raw.Close()
		return errors.Newf(errors.ErrCodeProxyFailed, "proxy CONNECT failed (HTTP %d)", status).
			WithSymbol(errors.SymbolProxyConnectFailed)
	}
	_ = raw.SetDeadline(time.Time{})

	return upgradeTLS(ctx, c, endpoint, opts)
}

// upgradeTLS wraps the connection in a TLS client session for the endpoint.
func upgradeTLS(ctx context.Context, c *conn, endpoint Endpoint, opts *Options) error {
	base := tlsconf.Get(tlsconf.Options{
		VerifyPeer:   opts.SSLVerifyPeer,
		CABundlePath: opts.SSLCABundle,
	})
	cfg := base.Clone()
	cfg.ServerName = endpoint.Host

	tlsConn := tls.Client(c.netConn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		te := errors.FromNetError(err, false)
		if te.Code != errors.ErrCodeTLSHandshake && te.Code != errors.ErrCodeOperationCanceled {
			te = errors.New(errors.ErrCodeTLSHandshake, err.Error()).
				WithSymbol(errors.SymbolTLSNegotiation).WithCause(err)
		}
		return te
	}
	c.netConn = tlsConn
	return nil
}

// connectError classifies a dial failure.
func connectError(err error) *errors.TransferError {
	te := errors.FromNetError(err, false)
	if te.Code == errors.ErrCodeConnectionTimeout {
		te.Symbol = errors.SymbolSocketConnectAborted
	}
	return te
}
