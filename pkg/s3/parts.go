package s3

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/objectstream/objectstream/internal/buffer"
	"github.com/objectstream/objectstream/pkg/retry"
	"github.com/objectstream/objectstream/pkg/types"
)

// partitionRanges splits [0, size) into contiguous parts of partSize bytes;
// the last part may be shorter. A zero-byte object yields one empty part so
// single-request paths stay uniform.
func partitionRanges(size, partSize int64) []*part {
	if size <= 0 {
		return []*part{{index: 0, offset: 0, length: 0, status: PartPending}}
	}
	count := int((size + partSize - 1) / partSize)
	parts := make([]*part, 0, count)
	for i := 0; i < count; i++ {
		offset := int64(i) * partSize
		length := partSize
		if offset+length > size {
			length = size - offset
		}
		parts = append(parts, &part{
			index:  i,
			offset: offset,
			length: length,
			status: PartPending,
		})
	}
	return parts
}

// runParts drives parts through up to workers concurrent executions in
// index order, retrying each part per the retry configuration. The first
// non-retryable failure cancels the remaining work.
func (c *Client) runParts(ctx context.Context, mr *MetaRequest, parts []*part, workers int, fn func(context.Context, *part) error) error {
	if workers < 1 {
		workers = 1
	}
	if workers > len(parts) {
		workers = len(parts)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Pending queue in index order.
	queue := make(chan *part, len(parts))
	for _, p := range parts {
		queue <- p
	}
	close(queue)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	record := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range queue {
				if ctx.Err() != nil {
					p.setStatus(PartFailed)
					return
				}

				r := retry.New(c.config.Retry).WithOnRetry(func(attempt int, err error, delay time.Duration) {
					c.metrics.RecordPartRetry(string(mr.Kind))
					c.logger.Debug("retrying part",
						"meta_request", mr.ID, "part", p.index,
						"attempt", attempt, "error", err, "delay", delay)
				})

				err := r.DoWithContext(ctx, func(ctx context.Context) error {
					p.recordAttempt()
					return fn(ctx, p)
				})
				if err != nil {
					p.fail(err)
					record(err)
					return
				}
				p.setStatus(PartDone)
			}
		}()
	}

	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// orderedSink buffers out-of-order part completions and emits them to the
// caller's sink strictly by part index. Buffered bytes are charged against
// the shared memory budget by the scheduler before download and released
// here after emission.
type orderedSink struct {
	mu      sync.Mutex
	next    int
	pending map[int][]byte
	sink    types.ChunkSink
	budget  *buffer.Budget
}

func newOrderedSink(sink types.ChunkSink, budget *buffer.Budget) *orderedSink {
	return &orderedSink{
		pending: make(map[int][]byte),
		sink:    sink,
		budget:  budget,
	}
}

// deliver hands part data to the sink when its turn comes, draining any
// buffered successors. Out-of-order data is parked until the gap fills.
func (o *orderedSink) deliver(index int, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if index != o.next {
		o.pending[index] = data
		return nil
	}

	if err := o.emit(data); err != nil {
		return err
	}
	o.next++

	for {
		buffered, ok := o.pending[o.next]
		if !ok {
			return nil
		}
		delete(o.pending, o.next)
		if err := o.emit(buffered); err != nil {
			return err
		}
		o.next++
	}
}

func (o *orderedSink) emit(data []byte) error {
	defer o.budget.Release(int64(len(data)))
	if len(data) == 0 {
		return nil
	}
	return o.sink(data)
}

// drainPending releases budget charges still held after a failure.
func (o *orderedSink) drainPending() {
	o.mu.Lock()
	defer o.mu.Unlock()
	indexes := make([]int, 0, len(o.pending))
	for i := range o.pending {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		o.budget.Release(int64(len(o.pending[i])))
		delete(o.pending, i)
	}
}
