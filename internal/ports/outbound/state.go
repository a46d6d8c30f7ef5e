package outbound

import (
	"context"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
)

// StateRepository persists the watcher state document.
type StateRepository interface {
	// Load returns the stored state with missing keys backfilled, or
	// entity.ErrStateNotFound when nothing has been saved yet.
	Load(ctx context.Context) (*entity.State, error)

	// Save replaces the stored state. A partially written document must
	// never be observable.
	Save(ctx context.Context, st *entity.State) error
}
