// Package feed supplies ordered price samples to the pipeline: a CSV file
// source for backtests and a Binance kline WebSocket source for live
// monitoring.
package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/okarpov/imbalancer/internal/domain"
)

// CSVSource loads candles from a CSV file with rows of
// timestamp_ms,high,low,volume. A header row starting with a non-numeric
// first field is skipped. Rows must be in strictly increasing timestamp
// order; the loader rejects the file otherwise rather than silently
// miscomputing downstream.
type CSVSource struct {
	path string
}

// NewCSVSource creates a source reading from path.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// Load reads and parses the whole file.
func (s *CSVSource) Load() ([]domain.Candle, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("feed: open %s: %w", s.path, err)
	}
	defer f.Close()

	return parseCSV(f)
}

func parseCSV(r io.Reader) ([]domain.Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 4

	var candles []domain.Candle
	var lastMs int64
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("feed: read csv: %w", err)
		}
		line++

		ms, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			if line == 1 {
				// Header row.
				continue
			}
			return nil, fmt.Errorf("feed: line %d: parse timestamp %q: %w", line, rec[0], err)
		}
		high, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("feed: line %d: parse high %q: %w", line, rec[1], err)
		}
		low, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("feed: line %d: parse low %q: %w", line, rec[2], err)
		}
		volume, err := strconv.ParseFloat(rec[3], 64)
		if err != nil {
			return nil, fmt.Errorf("feed: line %d: parse volume %q: %w", line, rec[3], err)
		}

		if len(candles) > 0 && ms <= lastMs {
			return nil, fmt.Errorf("feed: line %d: timestamp %d not increasing: %w", line, ms, domain.ErrOutOfOrderSample)
		}
		lastMs = ms

		candles = append(candles, domain.Candle{
			Time:   time.UnixMilli(ms).UTC(),
			High:   high,
			Low:    low,
			Volume: volume,
		})
	}
	return candles, nil
}
