package domain

import (
	"context"
	"io"
	"time"
)

// ImbalanceStore persists completed imbalances.
type ImbalanceStore interface {
	Create(ctx context.Context, runID string, imb Imbalance) error
	CreateBatch(ctx context.Context, runID string, imbs []Imbalance) error
	ListByRun(ctx context.Context, runID string) ([]Imbalance, error)
}

// PositionStore persists positions (open and closed) produced by a run.
type PositionStore interface {
	Create(ctx context.Context, runID string, pos Position) error
	CreateBatch(ctx context.Context, runID string, positions []Position) error
	ListByRun(ctx context.Context, runID string) ([]Position, error)
}

// CandleCache caches fetched candle ranges so repeated runs over the same
// window skip the upstream load.
type CandleCache interface {
	GetRange(ctx context.Context, symbol string, from, to time.Time) ([]Candle, error)
	PutRange(ctx context.Context, symbol string, from, to time.Time, candles []Candle) error
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}
