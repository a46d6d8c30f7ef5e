package market_watcher

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/ports/inbound"
)

// update applies fn to a copy of state and swaps it in only after the copy
// has been saved.
func (s *Service) update(ctx context.Context, fn func(st *entity.State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	if err := s.saveState(ctx, next); err != nil {
		return err
	}
	s.state = next
	return nil
}

// StartWatching sets the run flag. Calling it while running re-asserts the
// flag and is otherwise a no-op.
func (s *Service) StartWatching(ctx context.Context) error {
	if err := s.update(ctx, func(st *entity.State) error {
		st.BotRunning = true
		return nil
	}); err != nil {
		return err
	}
	s.logger.Info("watching started")
	return nil
}

// StopWatching clears the run flag. The loop idles from its next cycle.
func (s *Service) StopWatching(ctx context.Context) error {
	if err := s.update(ctx, func(st *entity.State) error {
		st.BotRunning = false
		return nil
	}); err != nil {
		return err
	}
	s.logger.Info("watching stop requested")
	return nil
}

// ToggleAutoStart flips auto_start and returns the new value.
func (s *Service) ToggleAutoStart(ctx context.Context) (bool, error) {
	var enabled bool
	err := s.update(ctx, func(st *entity.State) error {
		st.AutoStart = !st.AutoStart
		enabled = st.AutoStart
		return nil
	})
	return enabled, err
}

// Status returns a summary of the current state.
func (s *Service) Status(_ context.Context) entity.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Summarize()
}

// History returns up to limit attempts, most recent first. limit <= 0 returns all.
func (s *Service) History(_ context.Context, limit int) []entity.OrderAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.state.History
	if limit > 0 && len(h) > limit {
		h = h[:limit]
	}
	return slices.Clone(h)
}

// FindAttempt returns the most recent attempt against listingID.
func (s *Service) FindAttempt(_ context.Context, listingID string) (entity.OrderAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.state.FindAttempt(listingID)
	if !ok {
		return entity.OrderAttempt{}, inbound.ErrAttemptNotFound
	}
	return a, nil
}

// SetPriceBand replaces the price band.
func (s *Service) SetPriceBand(ctx context.Context, band entity.PriceBand) error {
	if err := band.Validate(); err != nil {
		return err
	}
	return s.update(ctx, func(st *entity.State) error {
		st.PriceRange = band
		return nil
	})
}

// SetBuyBounds replaces min and max buy.
func (s *Service) SetBuyBounds(ctx context.Context, bounds entity.BuyBounds) error {
	if err := bounds.Validate(); err != nil {
		return err
	}
	return s.update(ctx, func(st *entity.State) error {
		st.MinBuy, st.MaxBuy = bounds.MinBuy, bounds.MaxBuy
		return nil
	})
}

// ApplySettingInput parses operator free text and applies it.
func (s *Service) ApplySettingInput(ctx context.Context, text string) (entity.SettingChange, error) {
	var change entity.SettingChange
	err := s.update(ctx, func(st *entity.State) error {
		c, err := entity.ParseSettingInput(text, st.MaxBuy)
		if err != nil {
			return err
		}
		c.Apply(st)
		if err := st.Bounds().Validate(); err != nil {
			return err
		}
		change = c
		return nil
	})
	if err != nil {
		return entity.SettingChange{}, err
	}
	s.logger.Info("setting changed", "kind", change.Kind)
	return change, nil
}

// MarkPaid tells the exchange the operator paid for orderID.
func (s *Service) MarkPaid(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" || orderID == entity.NoOrderID {
		return inbound.ErrNoOrder
	}
	if s.gateway == nil {
		return inbound.ErrGatewayUnavailable
	}
	if err := s.gateway.MarkPaid(ctx, orderID); err != nil {
		return fmt.Errorf("marking order %s paid: %w", orderID, err)
	}
	s.logger.Info("order marked as paid", "orderId", orderID)
	return nil
}
