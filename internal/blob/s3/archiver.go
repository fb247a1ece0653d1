package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/okarpov/imbalancer/internal/backtest"
	"github.com/okarpov/imbalancer/internal/domain"
)

// Archiver uploads one finished run to object storage: the report as JSON
// plus the completed imbalances and positions as JSONL, all under
// runs/<runID>/.
type Archiver struct {
	writer domain.BlobWriter
}

// NewArchiver creates an Archiver writing through the given BlobWriter.
func NewArchiver(writer domain.BlobWriter) *Archiver {
	return &Archiver{writer: writer}
}

// ArchiveRun serializes and uploads the run artifacts.
func (a *Archiver) ArchiveRun(ctx context.Context, report backtest.Report) error {
	prefix := "runs/" + report.RunID

	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal report: %w", err)
	}
	if err := a.writer.Put(ctx, prefix+"/report.json", bytes.NewReader(reportJSON), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive report: %w", err)
	}

	imbs, err := marshalJSONL(report.Imbalances)
	if err != nil {
		return fmt.Errorf("s3blob: marshal imbalances: %w", err)
	}
	if err := a.writer.Put(ctx, prefix+"/imbalances.jsonl", bytes.NewReader(imbs), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive imbalances: %w", err)
	}

	positions, err := marshalJSONL(report.Positions)
	if err != nil {
		return fmt.Errorf("s3blob: marshal positions: %w", err)
	}
	if err := a.writer.Put(ctx, prefix+"/positions.jsonl", bytes.NewReader(positions), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive positions: %w", err)
	}

	return nil
}

// marshalJSONL encodes a slice as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
