package ingest

import "context"

// Batcher accumulates items and hands them to flush in groups of at most maxItems. It is not safe
// for concurrent use; the pipeline owns it exclusively.
type Batcher[T any] struct {
	maxItems int
	flush    func(context.Context, []T) error
	buffer   []T
}

func NewBatcher[T any](maxItems int, flush func(context.Context, []T) error) *Batcher[T] {
	if maxItems < 1 {
		maxItems = 1
	}
	return &Batcher[T]{
		maxItems: maxItems,
		flush:    flush,
		buffer:   make([]T, 0, maxItems),
	}
}

// Add appends item and flushes once the batch is full.
func (b *Batcher[T]) Add(ctx context.Context, item T) error {
	b.buffer = append(b.buffer, item)
	if len(b.buffer) >= b.maxItems {
		return b.Flush(ctx)
	}
	return nil
}

// Flush hands the pending items to the flush callback. It is a no-op when nothing is pending, so
// a total that is an exact multiple of maxItems never produces an empty trailing flush.
func (b *Batcher[T]) Flush(ctx context.Context) error {
	if len(b.buffer) == 0 {
		return nil
	}
	batch := b.buffer
	b.buffer = make([]T, 0, b.maxItems)
	return b.flush(ctx, batch)
}

// Len is the number of items waiting to be flushed.
func (b *Batcher[T]) Len() int {
	return len(b.buffer)
}
