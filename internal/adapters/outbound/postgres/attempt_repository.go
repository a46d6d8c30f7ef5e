package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/ports/outbound"
)

var _ outbound.AttemptArchive = (*AttemptRepository)(nil)

// AttemptRepository is the PostgreSQL implementation of outbound.AttemptArchive.
type AttemptRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// NewAttemptRepository creates a repository over an open pool.
func NewAttemptRepository(pool *pgxpool.Pool, logger *slog.Logger) (*AttemptRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AttemptRepository{
		pool:   pool,
		logger: logger.With("component", "attempt-repository"),
		now:    time.Now,
	}, nil
}

// Append inserts one attempt. A malformed attempt timestamp is stored as the
// insertion time.
func (r *AttemptRepository) Append(ctx context.Context, market entity.MarketFilter, attempt entity.OrderAttempt) error {
	attemptedAt, ok := attempt.Time()
	if !ok {
		attemptedAt = r.now().UTC()
	}

	var response []byte
	if attempt.OrderResponse != nil {
		b, err := json.Marshal(attempt.OrderResponse)
		if err != nil {
			return fmt.Errorf("encoding order response: %w", err)
		}
		response = b
	}

	raw := attempt.Ad.Raw
	if raw == nil {
		raw = map[string]any{}
	}
	listingRaw, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encoding listing: %w", err)
	}

	var orderID *string
	if id := attempt.OrderID(); id != "" {
		orderID = &id
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO order_attempts
		   (listing_id, coin, fiat, side, price, amount, order_id, succeeded, order_response, listing_raw, attempted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		attempt.Ad.ID, market.Coin, market.Fiat, string(market.EffectiveWatchSide()),
		attempt.Ad.Price, attempt.Amount, orderID, attempt.Succeeded(),
		response, listingRaw, attemptedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order attempt: %w", err)
	}

	r.logger.Debug("archived order attempt", "listing", attempt.Ad.ID, "succeeded", attempt.Succeeded())
	return nil
}

// ListRecent returns up to limit attempts, newest first.
func (r *AttemptRepository) ListRecent(ctx context.Context, limit int) ([]entity.OrderAttempt, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT listing_id, price, amount, order_response, listing_raw, attempted_at
		 FROM order_attempts
		 ORDER BY attempted_at DESC, id DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query order attempts: %w", err)
	}
	defer rows.Close()

	var attempts []entity.OrderAttempt
	for rows.Next() {
		var (
			a           entity.OrderAttempt
			response    []byte
			listingRaw  []byte
			attemptedAt time.Time
		)
		if err := rows.Scan(&a.Ad.ID, &a.Ad.Price, &a.Amount, &response, &listingRaw, &attemptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order attempt: %w", err)
		}
		if response != nil {
			if err := json.Unmarshal(response, &a.OrderResponse); err != nil {
				return nil, fmt.Errorf("decoding order response: %w", err)
			}
		}
		if err := json.Unmarshal(listingRaw, &a.Ad.Raw); err != nil {
			return nil, fmt.Errorf("decoding listing: %w", err)
		}
		a.Timestamp = entity.FormatTimestamp(attemptedAt)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating order attempts: %w", err)
	}
	return attempts, nil
}
