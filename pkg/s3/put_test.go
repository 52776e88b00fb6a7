package s3

import (
	"bytes"
	"context"
	stderr "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/objectstream/objectstream/pkg/errors"
)

func TestPutObject_SingleBelowThreshold(t *testing.T) {
	mock := newMockS3()
	srv := mock.server(t)
	client := newTestClient(t, srv.URL, nil)

	body := patternedBody(1 * MiB)
	resp, err := client.PutObject(context.Background(), &PutObjectInput{
		Bucket:      "test-bucket",
		Key:         "small",
		Body:        body,
		ContentType: "application/octet-stream",
	})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if !resp.Successful() {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if mock.singlePuts != 1 {
		t.Errorf("singlePuts = %d, want 1", mock.singlePuts)
	}
	if mock.createCalls != 0 {
		t.Error("Small uploads must not start a multipart upload")
	}
	requireEqualBytes(t, body, mock.singleBody)
}

func TestPutObject_Multipart100MiB(t *testing.T) {
	mock := newMockS3()
	srv := mock.server(t)

	client := newTestClient(t, srv.URL, func(cfg *Config) {
		cfg.PartSize = 8 * MiB
	})

	body := bytes.Repeat([]byte{'x'}, int(100*MiB))
	resp, err := client.PutObject(context.Background(), &PutObjectInput{
		Bucket: "test-bucket",
		Key:    "big",
		Body:   body,
	})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if !resp.Successful() {
		t.Errorf("StatusCode = %d, want success", resp.StatusCode)
	}

	if mock.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", mock.createCalls)
	}
	if mock.completeCalls != 1 {
		t.Errorf("completeCalls = %d, want 1", mock.completeCalls)
	}
	if mock.abortCalls != 0 {
		t.Errorf("abortCalls = %d, want 0", mock.abortCalls)
	}

	// ceil(100/8) = 13 parts with distinct part numbers and correct sizes.
	if len(mock.partSizes) != 13 {
		t.Fatalf("Uploaded %d parts, want 13", len(mock.partSizes))
	}
	for n := 1; n <= 13; n++ {
		want := 8 * MiB
		if n == 13 {
			want = 4 * MiB
		}
		if int64(mock.partSizes[n]) != want {
			t.Errorf("part %d size = %d, want %d", n, mock.partSizes[n], want)
		}
	}
	requireEqualBytes(t, body, mock.uploadedAll)
}

func TestPutObject_ChecksumWhitelist(t *testing.T) {
	mock := newMockS3()
	srv := mock.server(t)
	client := newTestClient(t, srv.URL, nil)

	for _, bad := range []string{"MD5", "crc32", "SHA512", "CRC64NVME"} {
		_, err := client.PutObject(context.Background(), &PutObjectInput{
			Bucket: "test-bucket", Key: "k", Body: []byte("x"),
			ChecksumAlgorithm: bad,
		})
		if !stderr.Is(err, errors.New(errors.ErrCodeInvalidChecksum, "")) {
			t.Errorf("%q: expected INVALID_CHECKSUM_ALGORITHM, got %v", bad, err)
		}
	}
	if mock.singlePuts != 0 || mock.createCalls != 0 {
		t.Error("Checksum validation must happen before any network I/O")
	}
}

func TestPutObject_MultipartChecksums(t *testing.T) {
	mock := newMockS3()
	srv := mock.server(t)

	client := newTestClient(t, srv.URL, nil)

	body := patternedBody(11 * MiB)
	_, err := client.PutObject(context.Background(), &PutObjectInput{
		Bucket:            "test-bucket",
		Key:               "summed",
		Body:              body,
		ChecksumAlgorithm: "CRC32C",
	})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	// Each uploaded part carried its checksum header.
	if len(mock.partChecksums) != 3 {
		t.Fatalf("Expected checksums on 3 parts, got %d", len(mock.partChecksums))
	}
	for n := 1; n <= 3; n++ {
		want := ChecksumCRC32C.Sum(mock.uploadedParts[n])
		if mock.partChecksums[n] != want {
			t.Errorf("part %d checksum = %q, want %q", n, mock.partChecksums[n], want)
		}
	}

	// The complete document carries per-part checksums too.
	if !bytes.Contains(mock.completeBody, []byte("<ChecksumCRC32C>")) {
		t.Errorf("CompleteMultipartUpload body missing part checksums: %s", mock.completeBody)
	}
}

func TestPutObject_PartRetryOn500(t *testing.T) {
	mock := newMockS3()
	mock.partFailures[2] = 1
	srv := mock.server(t)

	client := newTestClient(t, srv.URL, nil)

	body := patternedBody(11 * MiB)
	resp, err := client.PutObject(context.Background(), &PutObjectInput{
		Bucket: "test-bucket", Key: "retry", Body: body,
	})
	if err != nil {
		t.Fatalf("PutObject should survive one retriable part failure: %v", err)
	}
	if !resp.Successful() {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if mock.abortCalls != 0 {
		t.Error("Recovered uploads must not be aborted")
	}
	requireEqualBytes(t, body, mock.uploadedAll)
}

func TestPutObject_AbortOnTerminalFailure(t *testing.T) {
	mock := newMockS3()
	mock.partStatus[3] = 403 // non-retryable
	srv := mock.server(t)

	client := newTestClient(t, srv.URL, nil)

	_, err := client.PutObject(context.Background(), &PutObjectInput{
		Bucket: "test-bucket", Key: "denied", Body: patternedBody(11 * MiB),
	})
	if err == nil {
		t.Fatal("Expected failure on 403 part")
	}
	te, ok := errors.AsTransferError(err)
	if !ok || te.Code != errors.ErrCodeServiceError || te.StatusCode != 403 {
		t.Errorf("Expected SERVICE_ERROR 403, got %v", err)
	}
	if mock.abortCalls != 1 {
		t.Errorf("abortCalls = %d, want exactly 1 best-effort abort", mock.abortCalls)
	}
	if mock.completeCalls != 0 {
		t.Error("Failed uploads must not be completed")
	}
}

func TestPutObject_AbortOnCompleteError(t *testing.T) {
	mock := newMockS3()
	mock.completeError = true
	srv := mock.server(t)

	client := newTestClient(t, srv.URL, nil)

	_, err := client.PutObject(context.Background(), &PutObjectInput{
		Bucket: "test-bucket", Key: "complete-error", Body: patternedBody(11 * MiB),
	})
	if err == nil {
		t.Fatal("Expected error from 200-with-Error complete response")
	}
	if mock.abortCalls != 1 {
		t.Errorf("abortCalls = %d, want 1", mock.abortCalls)
	}
}

func TestPutObject_FileSource(t *testing.T) {
	mock := newMockS3()
	srv := mock.server(t)
	client := newTestClient(t, srv.URL, nil)

	body := patternedBody(12*MiB + 57)
	path := filepath.Join(t.TempDir(), "upload.bin")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	resp, err := client.PutObject(context.Background(), &PutObjectInput{
		Bucket:   "test-bucket",
		Key:      "from-file",
		FilePath: path,
	})
	if err != nil {
		t.Fatalf("PutObject: %v", err)
	}
	if !resp.Successful() {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	requireEqualBytes(t, body, mock.uploadedAll)
}

func TestPutObject_ProgressPerPart(t *testing.T) {
	mock := newMockS3()
	srv := mock.server(t)
	client := newTestClient(t, srv.URL, nil)

	var updates []int64
	_, err := client.PutObject(context.Background(), &PutObjectInput{
		Bucket: "test-bucket",
		Key:    "progress",
		Body:   patternedBody(11 * MiB),
		OnProgress: func(n int64) {
			updates = append(updates, n)
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) < 3 {
		t.Fatalf("Expected a progress update per part, got %d", len(updates))
	}
	for i := 1; i < len(updates); i++ {
		if updates[i] < updates[i-1] {
			t.Fatalf("Progress regressed: %v", updates)
		}
	}
	if updates[len(updates)-1] != 11*MiB {
		t.Errorf("Final progress = %d, want %d", updates[len(updates)-1], 11*MiB)
	}
}

func TestPutObject_BodyAndFileExclusive(t *testing.T) {
	mock := newMockS3()
	srv := mock.server(t)
	client := newTestClient(t, srv.URL, nil)

	_, err := client.PutObject(context.Background(), &PutObjectInput{
		Bucket: "test-bucket", Key: "k",
		Body:     []byte("x"),
		FilePath: "/tmp/other",
	})
	if !stderr.Is(err, errors.New(errors.ErrCodeInvalidOption, "")) {
		t.Errorf("Expected INVALID_OPTION, got %v", err)
	}
}

func TestPutObject_EmptyBody(t *testing.T) {
	mock := newMockS3()
	srv := mock.server(t)
	client := newTestClient(t, srv.URL, nil)

	resp, err := client.PutObject(context.Background(), &PutObjectInput{
		Bucket: "test-bucket", Key: "empty",
	})
	if err != nil {
		t.Fatalf("PutObject of an empty body: %v", err)
	}
	if !resp.Successful() {
		t.Errorf("StatusCode = %d", resp.StatusCode)
	}
	if mock.singlePuts != 1 {
		t.Errorf("singlePuts = %d, want 1", mock.singlePuts)
	}
	if len(mock.singleBody) != 0 {
		t.Errorf("Empty put carried %d bytes", len(mock.singleBody))
	}
}
