package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okarpov/imbalancer/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given
// connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionInsert = `
	INSERT INTO positions (
		id, run_id, order_type, open_price, open_time,
		take_profit, stop_loss, close_price, close_time,
		amount_in_asset, open_fee, close_fee, is_open
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

func positionArgs(runID string, p domain.Position) []any {
	var closeTime *time.Time
	if !p.CloseTime.IsZero() {
		t := p.CloseTime
		closeTime = &t
	}
	return []any{
		p.ID, runID, string(p.Order.Type), p.OpenPrice, p.OpenTime,
		p.TakeProfitPrice, p.StopLossPrice, p.ClosePrice, closeTime,
		p.AmountInAsset, p.OpenFee, p.CloseFee, p.IsOpen,
	}
}

// Create inserts one position for a run.
func (s *PositionStore) Create(ctx context.Context, runID string, p domain.Position) error {
	if _, err := s.pool.Exec(ctx, positionInsert, positionArgs(runID, p)...); err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// CreateBatch inserts all positions of a run in one batch round trip.
func (s *PositionStore) CreateBatch(ctx context.Context, runID string, positions []domain.Position) error {
	if len(positions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range positions {
		batch.Queue(positionInsert, positionArgs(runID, p)...)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range positions {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: batch create positions: %w", err)
		}
	}
	return nil
}

// ListByRun returns all positions of a run ordered by open time.
func (s *PositionStore) ListByRun(ctx context.Context, runID string) ([]domain.Position, error) {
	const query = `
		SELECT id, order_type, open_price, open_time,
			take_profit, stop_loss, close_price, close_time,
			amount_in_asset, open_fee, close_fee, is_open
		FROM positions WHERE run_id = $1 ORDER BY open_time`

	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var orderType string
		var closeTime *time.Time
		if err := rows.Scan(
			&p.ID, &orderType, &p.OpenPrice, &p.OpenTime,
			&p.TakeProfitPrice, &p.StopLossPrice, &p.ClosePrice, &closeTime,
			&p.AmountInAsset, &p.OpenFee, &p.CloseFee, &p.IsOpen,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.Order.Type = domain.OrderType(orderType)
		if closeTime != nil {
			p.CloseTime = *closeTime
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
