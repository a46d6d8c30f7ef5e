package outbound

import (
	"context"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
)

// AttemptArchive keeps order attempts beyond the in-state retention window.
type AttemptArchive interface {
	Append(ctx context.Context, market entity.MarketFilter, attempt entity.OrderAttempt) error
	ListRecent(ctx context.Context, limit int) ([]entity.OrderAttempt, error)
}
