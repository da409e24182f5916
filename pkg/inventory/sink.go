package inventory

import (
	"context"

	"github.com/jianglibo/bkoverssh/pkg/walker"
)

// StoreSink adapts Store to walker.Sink, implementing the walker's
// bulk-upsert output path (spec.md §4.4): items are buffered as they
// stream in through Put and committed batchSize at a time through
// UpsertBatch, rather than one autocommit statement per row. Callers must
// call Flush once the walk is done to commit any partial final chunk.
type StoreSink struct {
	store     *Store
	dirID     int64
	ctx       context.Context
	batchSize int
	buffer    []walker.RelativeFileItem
}

// NewStoreSink builds a walker.Sink that upserts into store under dirID in
// chunks of batchSize (DefaultBatchSize if <= 0).
func NewStoreSink(ctx context.Context, store *Store, dirID int64, batchSize int) *StoreSink {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &StoreSink{store: store, dirID: dirID, ctx: ctx, batchSize: batchSize}
}

// Put buffers item, discarding the per-item transition detail; callers who
// need UpsertResult should call Store.Upsert or Store.UpsertBatch directly.
// The buffer is committed once it reaches batchSize.
func (s *StoreSink) Put(item walker.RelativeFileItem) error {
	s.buffer = append(s.buffer, item)
	if len(s.buffer) < s.batchSize {
		return nil
	}
	return s.Flush()
}

// Flush commits any buffered items not yet reached by a full chunk. It is
// a no-op when the buffer is empty, so it is always safe to call after a
// walk completes.
func (s *StoreSink) Flush() error {
	if len(s.buffer) == 0 {
		return nil
	}
	_, err := s.store.UpsertBatch(s.ctx, s.dirID, s.buffer, s.batchSize)
	s.buffer = s.buffer[:0]
	return err
}
