// Package types defines the shared public types of the objectstream
// transfer library: wire headers, responses, sinks, and the credential
// provider contract consumed by the S3 engine.
package types

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// Header is a single HTTP header as it appeared on the wire. Name preserves
// case; comparison is case-insensitive.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// HeaderList is an ordered list of headers in first-seen wire order.
type HeaderList []Header

// Get returns the first value for name (case-insensitive) and whether it
// was present.
func (h HeaderList) Get(name string) (string, bool) {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value, true
		}
	}
	return "", false
}

// Values returns all values for name (case-insensitive) in wire order.
func (h HeaderList) Values(name string) []string {
	var values []string
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			values = append(values, hdr.Value)
		}
	}
	return values
}

// Add appends a header, preserving order.
func (h HeaderList) Add(name, value string) HeaderList {
	return append(h, Header{Name: name, Value: value})
}

// Merged folds duplicate headers into single entries joined by ", " in
// first-seen order. Set-Cookie entries are preserved as separate headers,
// since cookie values may themselves contain commas.
func (h HeaderList) Merged() HeaderList {
	merged := make(HeaderList, 0, len(h))
	index := make(map[string]int, len(h))

	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, "Set-Cookie") {
			merged = append(merged, hdr)
			continue
		}
		key := strings.ToLower(hdr.Name)
		if i, ok := index[key]; ok {
			merged[i].Value += ", " + hdr.Value
			continue
		}
		index[key] = len(merged)
		merged = append(merged, hdr)
	}
	return merged
}

// Map returns the merged headers as a name→value map. Names keep the case
// of their first occurrence. Set-Cookie values are joined with newlines to
// avoid losing entries in the map form.
func (h HeaderList) Map() map[string]string {
	m := make(map[string]string, len(h))
	for _, hdr := range h.Merged() {
		if strings.EqualFold(hdr.Name, "Set-Cookie") {
			if prev, ok := m[hdr.Name]; ok {
				m[hdr.Name] = prev + "\n" + hdr.Value
				continue
			}
		}
		m[hdr.Name] = hdr.Value
	}
	return m
}

// Response is the result of an HTTP request or S3 meta-request.
type Response struct {
	// StatusCode is the HTTP status, or 0 when the failure happened below
	// the HTTP layer (ErrorCode is then non-zero).
	StatusCode int `json:"status_code"`

	// Headers are the response headers with duplicates merged
	// (Set-Cookie excepted).
	Headers HeaderList `json:"headers"`

	// Body is nil when the body was streamed to a sink or written to a file.
	Body []byte `json:"-"`

	// ChecksumValidated names the checksum algorithm validated against the
	// stored object checksum, or "" when no validation happened.
	ChecksumValidated string `json:"checksum_validated,omitempty"`

	// ErrorCode is non-zero for transport-level failures; the S3 engine
	// returns such a response together with the error. The symbolic name is
	// in ErrorSymbol.
	ErrorCode   int    `json:"error_code,omitempty"`
	ErrorSymbol string `json:"error_symbol,omitempty"`
}

// Successful reports whether the status code is in [200, 300).
func (r *Response) Successful() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ChunkSink receives response body bytes in order. The library guarantees
// at most one concurrent invocation per request and strict delivery order.
// Returning an error aborts the request.
type ChunkSink func(p []byte) error

// ProgressFunc receives a monotonically non-decreasing cumulative byte
// count. Emitted at least once per completed part.
type ProgressFunc func(bytesTransferred int64)

// CredentialsProvider yields credential snapshots. The S3 engine resolves a
// fresh snapshot per meta-request; the SDK's static and chain providers
// satisfy this directly.
type CredentialsProvider = aws.CredentialsProvider

// Credentials is one resolved snapshot.
type Credentials = aws.Credentials
