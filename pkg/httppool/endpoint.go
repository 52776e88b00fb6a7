// Package httppool provides per-endpoint pools of HTTP/1.1 connections with
// TLS, proxy support, and buffered or streamed response delivery.
package httppool

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/objectstream/objectstream/pkg/errors"
)

// Endpoint identifies a remote HTTP(S) service as a (scheme, host, port)
// triple. Host is case-folded; two endpoints compare equal iff all three
// fields compare equal.
type Endpoint struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

// ParseEndpoint parses "scheme://host[:port]" into an Endpoint. The scheme
// is case-insensitive and must be http or https; a missing port is filled
// with the scheme default (80/443).
func ParseEndpoint(raw string) (Endpoint, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return Endpoint{}, errors.Newf(errors.ErrCodeInvalidEndpoint,
			"invalid endpoint %q: expected scheme://host[:port]", raw)
	}

	scheme = strings.ToLower(scheme)
	if scheme != "http" && scheme != "https" {
		return Endpoint{}, errors.Newf(errors.ErrCodeInvalidEndpoint,
			"unsupported scheme %q: expected http or https", scheme)
	}

	rest = strings.TrimSuffix(rest, "/")
	if strings.Contains(rest, "/") {
		return Endpoint{}, errors.Newf(errors.ErrCodeInvalidEndpoint,
			"invalid endpoint %q: path not allowed", raw)
	}

	host := rest
	port := 0
	if strings.HasPrefix(rest, "[") {
		// Bracketed IPv6 literal, optionally followed by :port.
		end := strings.Index(rest, "]")
		if end < 0 {
			return Endpoint{}, errors.Newf(errors.ErrCodeInvalidEndpoint,
				"invalid endpoint %q: unterminated IPv6 literal", raw)
		}
		host = rest[1:end]
		if tail := rest[end+1:]; tail != "" {
			if !strings.HasPrefix(tail, ":") {
				return Endpoint{}, errors.Newf(errors.ErrCodeInvalidEndpoint,
					"invalid endpoint %q", raw)
			}
			p, err := strconv.Atoi(tail[1:])
			if err != nil || p < 1 || p > 65535 {
				return Endpoint{}, errors.Newf(errors.ErrCodeInvalidEndpoint,
					"invalid port in endpoint %q", raw)
			}
			port = p
		}
	} else if h, p, ok := cutLast(rest, ':'); ok {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return Endpoint{}, errors.Newf(errors.ErrCodeInvalidEndpoint,
				"invalid port in endpoint %q", raw)
		}
		host, port = h, n
	}

	if port == 0 {
		if scheme == "https" {
			port = 443
		} else {
			port = 80
		}
	}

	host = strings.ToLower(host)
	if host == "" {
		return Endpoint{}, errors.Newf(errors.ErrCodeInvalidEndpoint,
			"empty host in endpoint %q", raw)
	}

	return Endpoint{Scheme: scheme, Host: host, Port: port}, nil
}

func cutLast(s string, sep byte) (before, after string, found bool) {
	if i := strings.LastIndexByte(s, sep); i >= 0 {
		return s[:i], s[i+1:], true
	}
	return s, "", false
}

// UseTLS reports whether connections to the endpoint use TLS.
func (e Endpoint) UseTLS() bool {
	return e.Scheme == "https"
}

// Address returns the host:port dial address.
func (e Endpoint) Address() string {
	if strings.Contains(e.Host, ":") {
		return fmt.Sprintf("[%s]:%d", e.Host, e.Port)
	}
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Key returns the canonical pool-map key for the endpoint.
func (e Endpoint) Key() string {
	return e.Scheme + "://" + e.Address()
}

// HostHeader returns the Host header value: host alone on default ports,
// host:port otherwise.
func (e Endpoint) HostHeader() string {
	if (e.Scheme == "http" && e.Port == 80) || (e.Scheme == "https" && e.Port == 443) {
		return e.Host
	}
	return e.Address()
}
