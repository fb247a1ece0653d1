package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okarpov/imbalancer/internal/domain"
)

// ImbalanceStore implements domain.ImbalanceStore using PostgreSQL.
type ImbalanceStore struct {
	pool *pgxpool.Pool
}

// NewImbalanceStore creates a new ImbalanceStore backed by the given
// connection pool.
func NewImbalanceStore(pool *pgxpool.Pool) *ImbalanceStore {
	return &ImbalanceStore{pool: pool}
}

const imbalanceInsert = `
	INSERT INTO imbalances (
		id, run_id, type, start_time, start_price, end_time, end_price, complete_time
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// Create inserts one completed imbalance for a run.
func (s *ImbalanceStore) Create(ctx context.Context, runID string, imb domain.Imbalance) error {
	_, err := s.pool.Exec(ctx, imbalanceInsert,
		imb.ID, runID, string(imb.Type),
		imb.StartTime, imb.StartPrice, imb.EndTime, imb.EndPrice, imb.CompleteTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: create imbalance %s: %w", imb.ID, err)
	}
	return nil
}

// CreateBatch inserts all imbalances of a run in one batch round trip.
func (s *ImbalanceStore) CreateBatch(ctx context.Context, runID string, imbs []domain.Imbalance) error {
	if len(imbs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, imb := range imbs {
		batch.Queue(imbalanceInsert,
			imb.ID, runID, string(imb.Type),
			imb.StartTime, imb.StartPrice, imb.EndTime, imb.EndPrice, imb.CompleteTime,
		)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range imbs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: batch create imbalances: %w", err)
		}
	}
	return nil
}

// ListByRun returns all imbalances of a run ordered by start time.
func (s *ImbalanceStore) ListByRun(ctx context.Context, runID string) ([]domain.Imbalance, error) {
	const query = `
		SELECT id, type, start_time, start_price, end_time, end_price, complete_time
		FROM imbalances WHERE run_id = $1 ORDER BY start_time`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list imbalances for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []domain.Imbalance
	for rows.Next() {
		var imb domain.Imbalance
		var typ string
		if err := rows.Scan(
			&imb.ID, &typ,
			&imb.StartTime, &imb.StartPrice, &imb.EndTime, &imb.EndPrice, &imb.CompleteTime,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan imbalance: %w", err)
		}
		imb.Type = domain.ImbalanceType(typ)
		out = append(out, imb)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.ImbalanceStore = (*ImbalanceStore)(nil)
