package s3

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/objectstream/objectstream/pkg/types"
)

// MetaRequestKind is the S3-level operation a meta-request performs.
type MetaRequestKind string

const (
	KindGetObject MetaRequestKind = "GetObject"
	KindPutObject MetaRequestKind = "PutObject"
	KindDefault   MetaRequestKind = "Default"
)

// MetaRequestState is the lifecycle state of a meta-request.
type MetaRequestState string

const (
	StatePlanning  MetaRequestState = "planning"
	StateRunning   MetaRequestState = "running"
	StateSucceeded MetaRequestState = "succeeded"
	StateFailed    MetaRequestState = "failed"
	StateCanceled  MetaRequestState = "canceled"
)

// IsTerminal reports whether the state is final.
func (s MetaRequestState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCanceled
}

// PartStatus tracks one part through the scheduler.
type PartStatus string

const (
	PartPending  PartStatus = "pending"
	PartInFlight PartStatus = "in_flight"
	PartDone     PartStatus = "done"
	PartFailed   PartStatus = "failed"
)

// part is one contiguous byte range transferred by a single request.
type part struct {
	index  int
	offset int64
	length int64

	mu       sync.Mutex
	status   PartStatus
	attempts int
	etag     string
	checksum string
	lastErr  error
}

func (p *part) setStatus(status PartStatus) {
	p.mu.Lock()
	p.status = status
	p.mu.Unlock()
}

func (p *part) recordAttempt() {
	p.mu.Lock()
	p.attempts++
	p.status = PartInFlight
	p.mu.Unlock()
}

func (p *part) fail(err error) {
	p.mu.Lock()
	p.status = PartFailed
	p.lastErr = err
	p.mu.Unlock()
}

// MetaRequest tracks one S3 API call that may decompose into multiple HTTP
// requests. Created per call and discarded on completion.
type MetaRequest struct {
	ID     string
	Kind   MetaRequestKind
	Bucket string
	Key    string

	mu        sync.Mutex
	state     MetaRequestState
	parts     []*part
	startedAt time.Time
	updatedAt time.Time

	totalBytes       int64
	bytesTransferred atomic.Int64
	// progressMu serializes the progress callback; the cumulative count is
	// non-decreasing in call order.
	progressMu sync.Mutex
	onProgress types.ProgressFunc
}

// newMetaRequest creates a meta-request in the Planning state.
func newMetaRequest(kind MetaRequestKind, bucket, key string, onProgress types.ProgressFunc) *MetaRequest {
	now := time.Now()
	return &MetaRequest{
		ID:         uuid.NewString(),
		Kind:       kind,
		Bucket:     bucket,
		Key:        key,
		state:      StatePlanning,
		startedAt:  now,
		updatedAt:  now,
		onProgress: onProgress,
	}
}

// plan records the partitioning and moves the request to Running.
func (m *MetaRequest) plan(totalBytes int64, parts []*part) {
	m.mu.Lock()
	m.totalBytes = totalBytes
	m.parts = parts
	m.state = StateRunning
	m.updatedAt = time.Now()
	m.mu.Unlock()
}

// finish moves the request to a terminal state.
func (m *MetaRequest) finish(state MetaRequestState) {
	m.mu.Lock()
	if !m.state.IsTerminal() {
		m.state = state
		m.updatedAt = time.Now()
	}
	m.mu.Unlock()
}

// State returns the current lifecycle state.
func (m *MetaRequest) State() MetaRequestState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// addProgress adds transferred bytes and emits the progress callback with
// the monotonically non-decreasing cumulative count.
func (m *MetaRequest) addProgress(n int64) {
	if n <= 0 {
		return
	}
	if m.onProgress == nil {
		m.bytesTransferred.Add(n)
		return
	}
	m.progressMu.Lock()
	total := m.bytesTransferred.Add(n)
	m.onProgress(total)
	m.progressMu.Unlock()
}

// BytesTransferred returns the cumulative transferred byte count.
func (m *MetaRequest) BytesTransferred() int64 {
	return m.bytesTransferred.Load()
}

// Progress returns completion as a percentage of planned parts.
func (m *MetaRequest) Progress() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.parts) == 0 {
		return 0
	}
	done := 0
	for _, p := range m.parts {
		p.mu.Lock()
		if p.status == PartDone {
			done++
		}
		p.mu.Unlock()
	}
	return float64(done) / float64(len(m.parts)) * 100
}

// CompletedParts returns how many parts have finished.
func (m *MetaRequest) CompletedParts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	done := 0
	for _, p := range m.parts {
		p.mu.Lock()
		if p.status == PartDone {
			done++
		}
		p.mu.Unlock()
	}
	return done
}

// TotalParts returns the planned part count.
func (m *MetaRequest) TotalParts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.parts)
}
