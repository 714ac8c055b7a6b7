package retry

import (
	"context"

	"github.com/blocksql/blocksql/internal/durablelog"
)

// retryingLog wraps a durablelog.Log so every call site in blockstore,
// recovery, and xport gets spec §4.1's retry policy uniformly, without each
// package having to remember to call WithBackoff itself.
type retryingLog struct {
	inner durablelog.Log
}

// WrapLog returns a durablelog.Log that retries every operation on inner
// through WithBackoff (spec §4.1 "transient errors... retried with
// exponential backoff up to 3 attempts"). Close passes straight through:
// shutting down a backend's resources is not a transient operation worth
// retrying.
func WrapLog(inner durablelog.Log) durablelog.Log {
	return &retryingLog{inner: inner}
}

func (l *retryingLog) PutBlock(ctx context.Context, db string, id uint64, payload []byte) error {
	return WithBackoff(ctx, func() error { return l.inner.PutBlock(ctx, db, id, payload) })
}

func (l *retryingLog) GetBlock(ctx context.Context, db string, id uint64) ([]byte, bool, error) {
	var payload []byte
	var found bool
	err := WithBackoff(ctx, func() error {
		p, f, err := l.inner.GetBlock(ctx, db, id)
		payload, found = p, f
		return err
	})
	return payload, found, err
}

func (l *retryingLog) DeleteBlock(ctx context.Context, db string, id uint64) error {
	return WithBackoff(ctx, func() error { return l.inner.DeleteBlock(ctx, db, id) })
}

func (l *retryingLog) PutMeta(ctx context.Context, db string, id uint64, meta durablelog.BlockMeta) error {
	return WithBackoff(ctx, func() error { return l.inner.PutMeta(ctx, db, id, meta) })
}

func (l *retryingLog) GetMeta(ctx context.Context, db string, id uint64) (durablelog.BlockMeta, bool, error) {
	var meta durablelog.BlockMeta
	var found bool
	err := WithBackoff(ctx, func() error {
		m, f, err := l.inner.GetMeta(ctx, db, id)
		meta, found = m, f
		return err
	})
	return meta, found, err
}

func (l *retryingLog) DeleteMeta(ctx context.Context, db string, id uint64) error {
	return WithBackoff(ctx, func() error { return l.inner.DeleteMeta(ctx, db, id) })
}

func (l *retryingLog) PutMarker(ctx context.Context, db string, v uint64) error {
	return WithBackoff(ctx, func() error { return l.inner.PutMarker(ctx, db, v) })
}

func (l *retryingLog) GetMarker(ctx context.Context, db string) (uint64, error) {
	var v uint64
	err := WithBackoff(ctx, func() error {
		got, err := l.inner.GetMarker(ctx, db)
		v = got
		return err
	})
	return v, err
}

func (l *retryingLog) PutPendingMarker(ctx context.Context, db string, v uint64) error {
	return WithBackoff(ctx, func() error { return l.inner.PutPendingMarker(ctx, db, v) })
}

func (l *retryingLog) GetPendingMarker(ctx context.Context, db string) (uint64, bool, error) {
	var v uint64
	var has bool
	err := WithBackoff(ctx, func() error {
		got, ok, err := l.inner.GetPendingMarker(ctx, db)
		v, has = got, ok
		return err
	})
	return v, has, err
}

func (l *retryingLog) ClearPendingMarker(ctx context.Context, db string) error {
	return WithBackoff(ctx, func() error { return l.inner.ClearPendingMarker(ctx, db) })
}

func (l *retryingLog) ScanBlocks(ctx context.Context, db string) (map[uint64][]byte, error) {
	var out map[uint64][]byte
	err := WithBackoff(ctx, func() error {
		m, err := l.inner.ScanBlocks(ctx, db)
		out = m
		return err
	})
	return out, err
}

func (l *retryingLog) ScanMeta(ctx context.Context, db string) (map[uint64]durablelog.BlockMeta, error) {
	var out map[uint64]durablelog.BlockMeta
	err := WithBackoff(ctx, func() error {
		m, err := l.inner.ScanMeta(ctx, db)
		out = m
		return err
	})
	return out, err
}

func (l *retryingLog) AtomicBatch(ctx context.Context, db string, ops []durablelog.Op) error {
	return WithBackoff(ctx, func() error { return l.inner.AtomicBatch(ctx, db, ops) })
}

func (l *retryingLog) DeleteDatabase(ctx context.Context, db string) error {
	return WithBackoff(ctx, func() error { return l.inner.DeleteDatabase(ctx, db) })
}

func (l *retryingLog) Close() error {
	return l.inner.Close()
}
