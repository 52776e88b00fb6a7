package s3

import (
	"context"
	"encoding/base64"
	"fmt"
	"hash"
	"os"
	"strconv"
	"strings"

	"github.com/objectstream/objectstream/pkg/errors"
	"github.com/objectstream/objectstream/pkg/types"
)

// GetObjectInput describes a GetObject meta-request. Exactly one body sink
// applies: ResponseTarget (positional file writes, fastest), Sink (ordered
// chunk delivery), or neither (buffered into Response.Body).
type GetObjectInput struct {
	Bucket string
	Key    string

	// ResponseTarget is a filesystem path written with positional writes
	// keyed on each part's byte range; no staging buffer is used.
	ResponseTarget string

	// Sink receives body bytes strictly in byte-offset order.
	Sink types.ChunkSink

	// ChecksumMode enables validation of the stored object checksum.
	ChecksumMode ChecksumMode

	// OnProgress receives cumulative transferred bytes.
	OnProgress types.ProgressFunc
}

// GetObject downloads an object, splitting large objects into parallel
// ranged GETs. On HTTP errors the returned response carries the status and
// S3's XML error document; on transport failures it carries a non-zero
// ErrorCode and a zero status.
func (c *Client) GetObject(ctx context.Context, input *GetObjectInput) (*types.Response, error) {
	if input == nil || input.Bucket == "" || input.Key == "" {
		return nil, errors.New(errors.ErrCodeMissingOption, "bucket and key are required").
			WithComponent("s3").WithOperation("GetObject")
	}
	if input.ResponseTarget != "" && input.Sink != nil {
		return nil, errors.New(errors.ErrCodeInvalidOption,
			"response_target and chunk sink are mutually exclusive")
	}

	mr := newMetaRequest(KindGetObject, input.Bucket, input.Key, input.OnProgress)
	c.logger.Debug("starting meta-request",
		"meta_request", mr.ID, "kind", mr.Kind, "bucket", input.Bucket, "key", input.Key)

	creds, err := c.resolveCredentials(ctx)
	if err != nil {
		mr.finish(StateFailed)
		return nil, err
	}

	// Size probe. The ranged plan needs the object length up front.
	head, err := c.send(ctx, creds, &apiRequest{method: "HEAD", bucket: input.Bucket, key: input.Key})
	if err != nil {
		return c.finishWithError(mr, head, err)
	}

	size, perr := parseContentLength(head.Headers)
	if perr != nil {
		mr.finish(StateFailed)
		return nil, perr
	}

	storedAlgo, storedSum := findStoredChecksum(head.Headers)
	validate := input.ChecksumMode == ChecksumModeEnabled &&
		storedAlgo != "" &&
		!strings.Contains(storedSum, "-") // composite checksums are not recoverable from ranged reads

	parts := partitionRanges(size, c.config.PartSize)
	mr.plan(size, parts)

	var (
		body     []byte
		hasher   hash.Hash
		validated string
	)
	if validate {
		hasher = storedAlgo.NewHash()
	}

	switch {
	case input.ResponseTarget != "":
		// Positional file writes; hashing only when the plan is one part.
		if len(parts) > 1 {
			hasher = nil
		}
		err = c.getToFile(ctx, creds, mr, input, parts, hasher)

	default:
		sink := input.Sink
		if sink == nil {
			body = make([]byte, 0, size)
			sink = func(p []byte) error {
				body = append(body, p...)
				return nil
			}
		}
		if hasher != nil {
			inner := sink
			sink = func(p []byte) error {
				_, _ = hasher.Write(p)
				return inner(p)
			}
		}
		err = c.getToOrderedSink(ctx, creds, mr, input, parts, sink)
	}

	if err != nil {
		return c.finishWithError(mr, nil, err)
	}

	if hasher != nil {
		computed := base64Sum(hasher)
		if computed != storedSum {
			mr.finish(StateFailed)
			return nil, errors.Newf(errors.ErrCodeChecksumMismatch,
				"response checksum mismatch: %s computed %s, stored %s", storedAlgo, computed, storedSum).
				WithComponent("s3").WithOperation("GetObject").WithRequestID(mr.ID)
		}
		validated = string(storedAlgo)
	}

	mr.finish(StateSucceeded)
	c.metrics.RecordBytes("download", size)

	resp := &types.Response{
		StatusCode:        200,
		Headers:           head.Headers,
		Body:              body,
		ChecksumValidated: validated,
	}
	if input.ResponseTarget != "" || input.Sink != nil {
		resp.Body = nil
	}
	return resp, nil
}

// getToOrderedSink downloads parts into memory and emits them to sink in
// index order. Out-of-order buffering is charged against the memory budget
// before each part is dispatched.
func (c *Client) getToOrderedSink(ctx context.Context, creds types.Credentials, mr *MetaRequest, input *GetObjectInput, parts []*part, sink types.ChunkSink) error {
	ordered := newOrderedSink(sink, c.budget)
	defer ordered.drainPending()

	single := len(parts) == 1

	return c.runParts(ctx, mr, parts, c.config.MaxActiveConnections, func(ctx context.Context, p *part) error {
		if err := c.budget.Acquire(ctx, p.length); err != nil {
			return errors.New(errors.ErrCodeOperationCanceled, "canceled while waiting for buffer budget").
				WithCause(err)
		}

		buf := make([]byte, 0, p.length)
		req := &apiRequest{
			method: "GET",
			bucket: input.Bucket,
			key:    input.Key,
			sink: func(chunk []byte) error {
				buf = append(buf, chunk...)
				return nil
			},
		}
		if !single {
			req.headers = []types.Header{rangeHeader(p)}
		}

		resp, err := c.send(ctx, creds, req)
		if err != nil {
			c.budget.Release(p.length)
			return err
		}
		if !single && resp.StatusCode != 206 {
			c.budget.Release(p.length)
			return errors.Newf(errors.ErrCodeServiceError,
				"expected partial content for part %d, got HTTP %d", p.index, resp.StatusCode).
				WithStatus(resp.StatusCode)
		}

		// Hand the bytes to the reassembly window. The budget charge moves
		// with them and is released on emission.
		if int64(len(buf)) != p.length {
			c.budget.Release(p.length - int64(len(buf)))
		}
		if err := ordered.deliver(p.index, buf); err != nil {
			return err
		}
		mr.addProgress(p.length)
		return nil
	})
}

// getToFile downloads parts directly into the target file with positional
// writes; completions need no ordering and no staging buffer.
func (c *Client) getToFile(ctx context.Context, creds types.Credentials, mr *MetaRequest, input *GetObjectInput, parts []*part, hasher hash.Hash) error {
	f, err := os.OpenFile(input.ResponseTarget, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Newf(errors.ErrCodeInvalidArgument,
			"opening response_target %s: %v", input.ResponseTarget, err).WithCause(err)
	}
	defer f.Close()

	single := len(parts) == 1

	return c.runParts(ctx, mr, parts, c.config.MaxActiveConnections, func(ctx context.Context, p *part) error {
		pos := p.offset
		req := &apiRequest{
			method: "GET",
			bucket: input.Bucket,
			key:    input.Key,
			sink: func(chunk []byte) error {
				if _, werr := f.WriteAt(chunk, pos); werr != nil {
					return errors.Newf(errors.ErrCodeInvalidArgument,
						"writing %s: %v", input.ResponseTarget, werr).WithCause(werr)
				}
				pos += int64(len(chunk))
				if hasher != nil {
					_, _ = hasher.Write(chunk)
				}
				return nil
			},
		}
		if !single {
			req.headers = []types.Header{rangeHeader(p)}
		}

		resp, err := c.send(ctx, creds, req)
		if err != nil {
			return err
		}
		if !single && resp.StatusCode != 206 {
			return errors.Newf(errors.ErrCodeServiceError,
				"expected partial content for part %d, got HTTP %d", p.index, resp.StatusCode).
				WithStatus(resp.StatusCode)
		}
		mr.addProgress(p.length)
		return nil
	})
}

// finishWithError resolves the terminal state and the error-surface
// response for a failed meta-request.
func (c *Client) finishWithError(mr *MetaRequest, resp *types.Response, err error) (*types.Response, error) {
	te, ok := errors.AsTransferError(err)
	if ok && te.Code == errors.ErrCodeOperationCanceled {
		mr.finish(StateCanceled)
	} else {
		mr.finish(StateFailed)
	}

	if !ok {
		return nil, err
	}
	te = te.WithRequestID(mr.ID)

	if te.Code == errors.ErrCodeServiceError {
		// HTTP error: status + S3 XML error document, zero error code.
		if resp == nil {
			resp = &types.Response{StatusCode: te.StatusCode, Body: te.Body}
		}
		return resp, te
	}

	// Transport error: non-zero error code, zero status.
	return &types.Response{
		ErrorCode:   te.NumericCode(),
		ErrorSymbol: te.Symbol,
	}, te
}

func rangeHeader(p *part) types.Header {
	return types.Header{
		Name:  "Range",
		Value: fmt.Sprintf("bytes=%d-%d", p.offset, p.offset+p.length-1),
	}
}

func parseContentLength(hdrs types.HeaderList) (int64, error) {
	v, ok := hdrs.Get("Content-Length")
	if !ok {
		return 0, errors.New(errors.ErrCodeInternalError,
			"HEAD response carried no Content-Length")
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.Newf(errors.ErrCodeInternalError,
			"invalid Content-Length %q", v)
	}
	return n, nil
}

// findStoredChecksum locates a stored full-object checksum header.
func findStoredChecksum(hdrs types.HeaderList) (ChecksumAlgorithm, string) {
	for _, algo := range checksumHeaderAlgorithms {
		if v, ok := hdrs.Get(algo.HeaderName()); ok && v != "" {
			return algo, v
		}
	}
	return "", ""
}

func base64Sum(h hash.Hash) string {
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
