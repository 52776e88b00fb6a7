package s3

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/objectstream/objectstream/pkg/errors"
	"github.com/objectstream/objectstream/pkg/types"
)

// PutObjectInput describes a PutObject meta-request. The body comes from
// either Body (contiguous buffer) or FilePath (positional reads, no
// staging); generic streams are spilled to a temp file by the caller's glue
// layer before reaching the engine.
type PutObjectInput struct {
	Bucket string
	Key    string

	// Body is an in-memory object body.
	Body []byte

	// FilePath reads the object body from a file with positional reads.
	FilePath string

	// ContentLength limits the body size for FilePath sources to a prefix
	// of the file; zero, or a value at or above the file size, uses the
	// file size.
	ContentLength int64

	// ContentType sets the stored Content-Type.
	ContentType string

	// ChecksumAlgorithm is one of CRC32, CRC32C, SHA1, SHA256. The
	// full-object checksum is computed concurrently with the transfer and
	// attached per algorithm-specific S3 semantics.
	ChecksumAlgorithm string

	// OnProgress receives cumulative transferred bytes.
	OnProgress types.ProgressFunc
}

// PutObject uploads an object, switching to the CreateMultipartUpload /
// UploadPart / CompleteMultipartUpload protocol at the multipart threshold.
// A terminal failure after CreateMultipartUpload aborts the upload
// best-effort.
func (c *Client) PutObject(ctx context.Context, input *PutObjectInput) (*types.Response, error) {
	if input == nil || input.Bucket == "" || input.Key == "" {
		return nil, errors.New(errors.ErrCodeMissingOption, "bucket and key are required").
			WithComponent("s3").WithOperation("PutObject")
	}
	if input.Body != nil && input.FilePath != "" {
		return nil, errors.New(errors.ErrCodeInvalidOption,
			"body and file path are mutually exclusive")
	}

	// The whitelist is enforced before any network I/O.
	var algo ChecksumAlgorithm
	if input.ChecksumAlgorithm != "" {
		parsed, err := ParseChecksumAlgorithm(input.ChecksumAlgorithm)
		if err != nil {
			return nil, err
		}
		algo = parsed
	}

	source, size, err := newBodySource(input)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	mr := newMetaRequest(KindPutObject, input.Bucket, input.Key, input.OnProgress)
	c.logger.Debug("starting meta-request",
		"meta_request", mr.ID, "kind", mr.Kind, "bucket", input.Bucket,
		"key", input.Key, "size", size)

	creds, err := c.resolveCredentials(ctx)
	if err != nil {
		mr.finish(StateFailed)
		return nil, err
	}

	if size < c.config.MultipartUploadThreshold {
		return c.putSingle(ctx, creds, mr, input, source, size, algo)
	}
	return c.putMultipart(ctx, creds, mr, input, source, size, algo)
}

// putSingle issues one PUT carrying the whole body.
func (c *Client) putSingle(ctx context.Context, creds types.Credentials, mr *MetaRequest, input *PutObjectInput, source *bodySource, size int64, algo ChecksumAlgorithm) (*types.Response, error) {
	single := &part{index: 0, offset: 0, length: size, status: PartPending}
	mr.plan(size, []*part{single})

	body, err := source.ReadRange(0, size)
	if err != nil {
		mr.finish(StateFailed)
		return nil, err
	}

	headers := []types.Header{
		{Name: "Content-Length", Value: strconv.FormatInt(size, 10)},
	}
	if input.ContentType != "" {
		headers = append(headers, types.Header{Name: "Content-Type", Value: input.ContentType})
	}
	if algo != "" {
		headers = append(headers, types.Header{Name: algo.HeaderName(), Value: algo.Sum(body)})
	}

	resp, err := c.send(ctx, creds, &apiRequest{
		method:  "PUT",
		bucket:  input.Bucket,
		key:     input.Key,
		headers: headers,
		body:    body,
	})
	if err != nil {
		return c.finishWithError(mr, resp, err)
	}

	single.setStatus(PartDone)
	mr.addProgress(size)
	mr.finish(StateSucceeded)
	c.metrics.RecordBytes("upload", size)
	return resp, nil
}

// putMultipart runs the three-phase multipart protocol with parallel part
// uploads.
func (c *Client) putMultipart(ctx context.Context, creds types.Credentials, mr *MetaRequest, input *PutObjectInput, source *bodySource, size int64, algo ChecksumAlgorithm) (*types.Response, error) {
	createHeaders := []types.Header{}
	if input.ContentType != "" {
		createHeaders = append(createHeaders, types.Header{Name: "Content-Type", Value: input.ContentType})
	}
	if algo != "" {
		createHeaders = append(createHeaders, types.Header{Name: "x-amz-checksum-algorithm", Value: string(algo)})
	}

	createResp, err := c.send(ctx, creds, &apiRequest{
		method:  "POST",
		bucket:  input.Bucket,
		key:     input.Key,
		query:   "uploads",
		headers: createHeaders,
	})
	if err != nil {
		return c.finishWithError(mr, createResp, err)
	}
	initiated, err := unmarshalInitiateResult(createResp.Body)
	if err != nil {
		mr.finish(StateFailed)
		return nil, err
	}
	uploadID := initiated.UploadID

	parts := partitionRanges(size, c.config.PartSize)
	if len(parts) > maxParts {
		c.abortMultipart(creds, input, uploadID)
		mr.finish(StateFailed)
		return nil, errors.Newf(errors.ErrCodeInvalidOption,
			"object of %d bytes needs %d parts at part_size %d; S3 allows %d",
			size, len(parts), c.config.PartSize, maxParts)
	}
	mr.plan(size, parts)

	err = c.runParts(ctx, mr, parts, c.config.MaxActiveConnections, func(ctx context.Context, p *part) error {
		if err := c.budget.Acquire(ctx, p.length); err != nil {
			return errors.New(errors.ErrCodeOperationCanceled, "canceled while waiting for buffer budget").
				WithCause(err)
		}
		defer c.budget.Release(p.length)

		data, err := source.ReadRange(p.offset, p.length)
		if err != nil {
			return err
		}

		headers := []types.Header{
			{Name: "Content-Length", Value: strconv.FormatInt(p.length, 10)},
		}
		var sum string
		if algo != "" {
			sum = algo.Sum(data)
			headers = append(headers, types.Header{Name: algo.HeaderName(), Value: sum})
		}

		resp, err := c.send(ctx, creds, &apiRequest{
			method:  "PUT",
			bucket:  input.Bucket,
			key:     input.Key,
			query:   fmt.Sprintf("partNumber=%d&uploadId=%s", p.index+1, uploadID),
			headers: headers,
			body:    data,
		})
		if err != nil {
			return err
		}

		etag, _ := resp.Headers.Get("ETag")
		p.mu.Lock()
		p.etag = etag
		p.checksum = sum
		p.mu.Unlock()

		mr.addProgress(p.length)
		return nil
	})
	if err != nil {
		// Terminal failure after CreateMultipartUpload: abort best-effort.
		c.abortMultipart(creds, input, uploadID)
		return c.finishWithError(mr, nil, err)
	}

	completed := make([]completedPart, len(parts))
	partSums := make([]string, len(parts))
	for i, p := range parts {
		p.mu.Lock()
		completed[i] = completedPart{PartNumber: p.index + 1, ETag: p.etag}
		if algo != "" {
			completed[i].setChecksum(algo, p.checksum)
		}
		partSums[i] = p.checksum
		p.mu.Unlock()
	}

	completeBody, err := marshalCompleteMultipartUpload(completed)
	if err != nil {
		c.abortMultipart(creds, input, uploadID)
		mr.finish(StateFailed)
		return nil, err
	}

	completeHeaders := []types.Header{
		{Name: "Content-Type", Value: "application/xml"},
	}
	if algo != "" {
		if composite, cerr := algo.Composite(partSums); cerr == nil {
			completeHeaders = append(completeHeaders, types.Header{Name: algo.HeaderName(), Value: composite})
		}
	}

	completeResp, err := c.send(ctx, creds, &apiRequest{
		method:  "POST",
		bucket:  input.Bucket,
		key:     input.Key,
		query:   "uploadId=" + uploadID,
		headers: completeHeaders,
		body:    completeBody,
	})
	if err != nil {
		c.abortMultipart(creds, input, uploadID)
		return c.finishWithError(mr, completeResp, err)
	}
	if _, err := parseCompleteResult(completeResp.Body); err != nil {
		c.abortMultipart(creds, input, uploadID)
		return c.finishWithError(mr, completeResp, err)
	}

	mr.finish(StateSucceeded)
	c.metrics.RecordBytes("upload", size)
	return completeResp, nil
}

// abortMultipart issues a best-effort AbortMultipartUpload. It runs on its
// own deadline so it still fires when the caller's context is already
// canceled.
func (c *Client) abortMultipart(creds types.Credentials, input *PutObjectInput, uploadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := c.send(ctx, creds, &apiRequest{
		method: "DELETE",
		bucket: input.Bucket,
		key:    input.Key,
		query:  "uploadId=" + uploadID,
	})
	if err != nil {
		c.logger.Warn("AbortMultipartUpload failed",
			"bucket", input.Bucket, "key", input.Key, "upload_id", uploadID, "error", err)
	}
}

// bodySource reads object bytes from a buffer or a file by range.
type bodySource struct {
	buf  []byte
	file *os.File
}

// newBodySource resolves the body source and its size.
func newBodySource(input *PutObjectInput) (*bodySource, int64, error) {
	if input.FilePath == "" {
		return &bodySource{buf: input.Body}, int64(len(input.Body)), nil
	}

	f, err := os.Open(input.FilePath)
	if err != nil {
		return nil, 0, errors.Newf(errors.ErrCodeInvalidArgument,
			"opening body file %s: %v", input.FilePath, err).WithCause(err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, errors.Newf(errors.ErrCodeInvalidArgument,
			"statting body file %s: %v", input.FilePath, err).WithCause(err)
	}
	size := info.Size()
	if input.ContentLength > 0 && input.ContentLength < size {
		size = input.ContentLength
	}
	return &bodySource{file: f}, size, nil
}

// ReadRange returns length bytes starting at offset. Buffer sources slice
// without copying; file sources use one positional read.
func (s *bodySource) ReadRange(offset, length int64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	if s.file == nil {
		if offset+length > int64(len(s.buf)) {
			return nil, errors.Newf(errors.ErrCodeInternalError,
				"body range [%d, %d) exceeds buffer of %d bytes", offset, offset+length, len(s.buf))
		}
		return s.buf[offset : offset+length], nil
	}

	data := make([]byte, length)
	if _, err := s.file.ReadAt(data, offset); err != nil {
		return nil, errors.Newf(errors.ErrCodeInvalidArgument,
			"reading body file at %d: %v", offset, err).WithCause(err)
	}
	return data, nil
}

// Close releases a file-backed source.
func (s *bodySource) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
