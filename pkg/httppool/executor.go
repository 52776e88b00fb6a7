package httppool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/objectstream/objectstream/pkg/errors"
	"github.com/objectstream/objectstream/pkg/types"
)

// maxHeaderBytes bounds the total size of a response header block.
const maxHeaderBytes = 256 * 1024

// bodyReadChunk is the read granularity for streamed bodies.
const bodyReadChunk = 32 * 1024

// HeadersFunc observes the response status and headers before the first
// body chunk is delivered, matching the wire order.
type HeadersFunc func(status int, headers types.HeaderList) error

// requestSpec is one serialized HTTP/1.1 exchange.
type requestSpec struct {
	method  string
	target  string // path + query
	headers []types.Header
	body    []byte
	// onHeaders, when set, runs after the header block is parsed and
	// before any body bytes are read.
	onHeaders HeadersFunc
	// readTimeout bounds idle time between response bytes. Zero disables.
	readTimeout time.Duration
}

// roundTrip writes the request and parses the response on c. When sink is
// nil the body is buffered and returned; otherwise body bytes are delivered
// to sink in arrival order and the returned body is nil.
//
// reusable reports whether the connection can go back to Idle. On any error
// the connection must be closed by the caller.
func (c *conn) roundTrip(ctx context.Context, spec *requestSpec, sink types.ChunkSink) (status int, hdrs types.HeaderList, body []byte, reusable bool, err error) {
	if err := c.writeRequest(ctx, spec); err != nil {
		return 0, nil, nil, false, err
	}
	return c.readResponse(spec, sink)
}

// writeRequest serializes the request line, headers, and body.
func (c *conn) writeRequest(ctx context.Context, spec *requestSpec) error {
	target := spec.target
	if target == "" {
		target = "/"
	}
	if c.viaProxy {
		// Absolute-form target for plain-HTTP proxying.
		target = "http://" + c.endpoint.HostHeader() + target
	}

	var buf []byte
	buf = fmt.Appendf(buf, "%s %s HTTP/1.1\r\n", spec.method, target)

	var haveHost, haveContentLength, haveProxyAuth bool
	for _, h := range spec.headers {
		switch {
		case strings.EqualFold(h.Name, "Host"):
			haveHost = true
		case strings.EqualFold(h.Name, "Content-Length"):
			haveContentLength = true
		case strings.EqualFold(h.Name, "Proxy-Authorization"):
			haveProxyAuth = true
		}
	}

	if !haveHost {
		buf = fmt.Appendf(buf, "Host: %s\r\n", c.endpoint.HostHeader())
	}
	if c.viaProxy && c.proxyAuth != "" && !haveProxyAuth {
		buf = fmt.Appendf(buf, "Proxy-Authorization: %s\r\n", c.proxyAuth)
	}
	for _, h := range spec.headers {
		buf = fmt.Appendf(buf, "%s: %s\r\n", h.Name, h.Value)
	}
	// An absent body adds no framing headers at all; a non-empty body gets
	// Content-Length unless the caller supplied one.
	if len(spec.body) > 0 && !haveContentLength {
		buf = fmt.Appendf(buf, "Content-Length: %d\r\n", len(spec.body))
	}
	buf = append(buf, "\r\n"...)

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.netConn.SetWriteDeadline(deadline)
	}
	if _, err := c.netConn.Write(buf); err != nil {
		return errors.FromNetError(err, false)
	}
	if len(spec.body) > 0 {
		if _, err := c.netConn.Write(spec.body); err != nil {
			return errors.FromNetError(err, false)
		}
	}
	_ = c.netConn.SetWriteDeadline(time.Time{})
	return nil
}

// readResponse parses the status line, header block, and body.
func (c *conn) readResponse(spec *requestSpec, sink types.ChunkSink) (status int, hdrs types.HeaderList, body []byte, reusable bool, err error) {
	c.armReadDeadline(spec.readTimeout)

	status, proto, err := readStatusLine(c.br)
	if err != nil {
		return 0, nil, nil, false, errors.FromNetError(err, true)
	}

	c.armReadDeadline(spec.readTimeout)
	hdrs, err = readHeaderBlock(c.br)
	if err != nil {
		return 0, nil, nil, false, errors.FromNetError(err, true)
	}

	if spec.onHeaders != nil {
		if herr := spec.onHeaders(status, hdrs.Merged()); herr != nil {
			return 0, nil, nil, false, herr
		}
	}

	keepAlive := proto == "HTTP/1.1"
	if v, ok := hdrs.Get("Connection"); ok {
		switch strings.ToLower(v) {
		case "close":
			keepAlive = false
		case "keep-alive":
			keepAlive = true
		}
	}

	deliver := func(p []byte) error {
		if len(p) == 0 {
			return nil
		}
		if sink != nil {
			return sink(p)
		}
		body = append(body, p...)
		return nil
	}

	switch {
	case spec.method == "HEAD" || status == 204 || status == 304 || status < 200:
		// No body regardless of framing headers.

	case hasChunkedEncoding(hdrs):
		if err := c.readChunkedBody(spec.readTimeout, deliver); err != nil {
			return 0, nil, nil, false, err
		}

	default:
		if cl, ok := hdrs.Get("Content-Length"); ok {
			n, perr := strconv.ParseInt(cl, 10, 64)
			if perr != nil || n < 0 {
				return 0, nil, nil, false, errors.Newf(errors.ErrCodeConnectionClosed,
					"invalid Content-Length %q", cl).WithSymbol(errors.SymbolProtocolError)
			}
			if err := c.readFixedBody(spec.readTimeout, n, deliver); err != nil {
				return 0, nil, nil, false, err
			}
		} else {
			// Connection: close framing — read until EOF.
			if err := c.readToEOF(spec.readTimeout, deliver); err != nil {
				return 0, nil, nil, false, err
			}
			keepAlive = false
		}
	}

	_ = c.netConn.SetReadDeadline(time.Time{})
	return status, hdrs, body, keepAlive, nil
}

// armReadDeadline sets the per-read idle deadline.
func (c *conn) armReadDeadline(timeout time.Duration) {
	if timeout > 0 {
		_ = c.netConn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		_ = c.netConn.SetReadDeadline(time.Time{})
	}
}

// readFixedBody reads exactly n body bytes, delivering as they arrive.
func (c *conn) readFixedBody(timeout time.Duration, n int64, deliver func([]byte) error) error {
	buf := make([]byte, bodyReadChunk)
	for n > 0 {
		c.armReadDeadline(timeout)
		limit := int64(len(buf))
		if n < limit {
			limit = n
		}
		read, err := c.br.Read(buf[:limit])
		if read > 0 {
			if derr := deliver(buf[:read]); derr != nil {
				return derr
			}
			n -= int64(read)
		}
		if err != nil {
			if err == io.EOF && n > 0 {
				return errors.New(errors.ErrCodeConnectionClosed,
					"connection closed mid-response").
					WithSymbol(errors.SymbolUnexpectedEOF)
			}
			if err != io.EOF {
				return errors.FromNetError(err, true)
			}
		}
	}
	return nil
}

// readToEOF reads body bytes until the server closes the connection.
func (c *conn) readToEOF(timeout time.Duration, deliver func([]byte) error) error {
	buf := make([]byte, bodyReadChunk)
	for {
		c.armReadDeadline(timeout)
		read, err := c.br.Read(buf)
		if read > 0 {
			if derr := deliver(buf[:read]); derr != nil {
				return derr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.FromNetError(err, true)
		}
	}
}

// readChunkedBody decodes a chunked transfer-encoded body. Trailer headers
// are consumed and discarded.
func (c *conn) readChunkedBody(timeout time.Duration, deliver func([]byte) error) error {
	for {
		c.armReadDeadline(timeout)
		line, err := readLine(c.br, 1024)
		if err != nil {
			return errors.FromNetError(err, true)
		}
		sizeStr, _, _ := strings.Cut(line, ";")
		size, perr := strconv.ParseInt(strings.TrimSpace(sizeStr), 16, 64)
		if perr != nil || size < 0 {
			return errors.Newf(errors.ErrCodeConnectionClosed,
				"invalid chunk size %q", line).WithSymbol(errors.SymbolProtocolError)
		}

		if size == 0 {
			// Trailer section, terminated by an empty line.
			for {
				c.armReadDeadline(timeout)
				trailer, err := readLine(c.br, maxHeaderBytes)
				if err != nil {
					return errors.FromNetError(err, true)
				}
				if trailer == "" {
					return nil
				}
			}
		}

		remaining := size
		buf := make([]byte, bodyReadChunk)
		for remaining > 0 {
			c.armReadDeadline(timeout)
			limit := int64(len(buf))
			if remaining < limit {
				limit = remaining
			}
			read, err := c.br.Read(buf[:limit])
			if read > 0 {
				if derr := deliver(buf[:read]); derr != nil {
					return derr
				}
				remaining -= int64(read)
			}
			if err != nil {
				return errors.FromNetError(err, true)
			}
		}

		// Chunk data is followed by CRLF.
		c.armReadDeadline(timeout)
		if _, err := readLine(c.br, 2); err != nil {
			return errors.FromNetError(err, true)
		}
	}
}

// readStatusLine parses "HTTP/1.x <status> <reason>". Status must be in
// [100, 599].
func readStatusLine(br *bufio.Reader) (status int, proto string, err error) {
	line, err := readLine(br, 4096)
	if err != nil {
		return 0, "", err
	}

	proto, rest, ok := strings.Cut(line, " ")
	if !ok || (proto != "HTTP/1.1" && proto != "HTTP/1.0") {
		return 0, "", errors.Newf(errors.ErrCodeConnectionClosed,
			"malformed status line %q", line).WithSymbol(errors.SymbolProtocolError)
	}
	statusStr, _, _ := strings.Cut(rest, " ")
	status, perr := strconv.Atoi(statusStr)
	if perr != nil || status < 100 || status > 599 {
		return 0, "", errors.Newf(errors.ErrCodeConnectionClosed,
			"invalid status %q", statusStr).WithSymbol(errors.SymbolProtocolError)
	}
	return status, proto, nil
}

// readHeaderBlock parses headers until the empty CRLF line, enforcing
// maxHeaderBytes across the whole block.
func readHeaderBlock(br *bufio.Reader) (types.HeaderList, error) {
	var hdrs types.HeaderList
	total := 0
	for {
		line, err := readLine(br, maxHeaderBytes-total)
		if err != nil {
			return nil, err
		}
		if line == "" {
			return hdrs, nil
		}
		total += len(line) + 2
		if total > maxHeaderBytes {
			return nil, errors.Newf(errors.ErrCodeConnectionClosed,
				"response header block exceeds %d bytes", maxHeaderBytes).
				WithSymbol(errors.SymbolProtocolError)
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, errors.Newf(errors.ErrCodeConnectionClosed,
				"malformed header line %q", line).WithSymbol(errors.SymbolProtocolError)
		}
		hdrs = hdrs.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
}

// readLine reads one CRLF- (or LF-) terminated line without the terminator.
func readLine(br *bufio.Reader, max int) (string, error) {
	if max <= 0 {
		return "", errors.New(errors.ErrCodeConnectionClosed,
			"header limit exhausted").WithSymbol(errors.SymbolProtocolError)
	}
	var sb strings.Builder
	for {
		b, err := br.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			line := sb.String()
			return strings.TrimSuffix(line, "\r"), nil
		}
		sb.WriteByte(b)
		if sb.Len() > max {
			return "", errors.Newf(errors.ErrCodeConnectionClosed,
				"line exceeds %d bytes", max).WithSymbol(errors.SymbolProtocolError)
		}
	}
}

func hasChunkedEncoding(hdrs types.HeaderList) bool {
	for _, v := range hdrs.Values("Transfer-Encoding") {
		for _, enc := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(enc), "chunked") {
				return true
			}
		}
	}
	return false
}
