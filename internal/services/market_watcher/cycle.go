package market_watcher

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/ports/outbound"
)

// CycleOutcome summarizes one poll cycle.
type CycleOutcome struct {
	// Idle is true when the run flag was off and nothing was polled.
	Idle bool

	Fetched   int
	Parsed    int
	Matched   int
	Attempted int
	Failed    int
	Skipped   int
}

// cycleConfig is the part of state a cycle reads, copied under the lock.
type cycleConfig struct {
	market entity.MarketFilter
	band   entity.PriceBand
	minBuy int64
}

// runCycle performs one poll: prune history, fetch listings, act on every
// eligible unseen listing in gateway order. Transient and data faults are
// logged and absorbed; only panics escape, via safeCycle.
func (s *Service) runCycle(ctx context.Context) (CycleOutcome, error) {
	var outcome CycleOutcome

	cfg, running := s.beginCycle(ctx)
	if !running {
		outcome.Idle = true
		return outcome, nil
	}

	ctx, span := s.tracer.Start(ctx, "market_watcher.cycle",
		trace.WithAttributes(
			attribute.String("market", cfg.market.Pair()),
			attribute.String("watch_side", string(cfg.market.EffectiveWatchSide())),
		))
	defer span.End()

	raws := s.fetchListings(ctx, cfg.market)
	outcome.Fetched = len(raws)
	s.metrics.RecordListingsFetched(ctx, len(raws))
	if len(raws) == 0 {
		return outcome, nil
	}

	for _, raw := range raws {
		if ctx.Err() != nil {
			break
		}

		listing, err := entity.ParseListing(raw)
		if err != nil {
			outcome.Skipped++
			s.logger.Debug("skipping unparseable listing", "error", err)
			continue
		}
		outcome.Parsed++

		if s.seen.Seen(listing.ID) {
			continue
		}
		if !cfg.band.Contains(listing.Price) {
			continue
		}

		amount, ok := buyAmount(cfg.minBuy, listing)
		if !ok {
			s.logger.Info("listing cannot satisfy amount",
				"listing", listing.ID,
				"amount", amount,
				"maxLimit", listing.MaxLimit)
			continue
		}

		outcome.Matched++
		s.logger.Info("attempting buy order",
			"listing", listing.ID,
			"price", listing.Price,
			"amount", amount)

		result := s.placeOrder(ctx, listing, amount)
		notification := s.recordAttempt(ctx, listing, amount, result)
		s.seen.Add(listing.ID)

		outcome.Attempted++
		status := "created"
		if result == nil {
			outcome.Failed++
			status = "failed"
		}
		s.metrics.RecordOrderAttempt(ctx, status)

		s.enqueueNotification(ctx, notification)
	}

	span.SetAttributes(
		attribute.Int("listings.fetched", outcome.Fetched),
		attribute.Int("orders.attempted", outcome.Attempted),
		attribute.Int("orders.failed", outcome.Failed),
	)
	return outcome, nil
}

// beginCycle prunes expired history and copies what the cycle needs.
func (s *Service) beginCycle(ctx context.Context) (cycleConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.BotRunning {
		return cycleConfig{}, false
	}

	if removed := s.state.Prune(s.config.Now()); removed > 0 {
		s.logger.Info("pruned expired history", "removed", removed)
		if err := s.saveState(ctx, s.state); err != nil {
			s.logger.Error("failed to persist pruned history", "error", err)
		}
	}

	return cycleConfig{
		market: s.state.Market,
		band:   s.state.PriceRange,
		minBuy: s.state.MinBuy,
	}, true
}

// buyAmount raises minBuy to the listing's minimum and reports whether the
// result fits under the listing's maximum. A minimum that does not fit in an
// int64 is infeasible.
func buyAmount(minBuy int64, l entity.Listing) (int64, bool) {
	amount := minBuy
	if float64(amount) < l.MinLimit {
		if l.MinLimit >= math.MaxInt64 {
			return minBuy, false
		}
		amount = int64(l.MinLimit)
	}
	if float64(amount) > l.MaxLimit {
		return amount, false
	}
	return amount, true
}

func (s *Service) fetchListings(ctx context.Context, market entity.MarketFilter) []map[string]any {
	if s.gateway == nil {
		s.logger.Error("market gateway not configured, skipping listing fetch")
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "market_watcher.list_active_listings")
	defer span.End()

	raws, err := s.gateway.ListActiveListings(ctx, outbound.ListingQuery{
		Coin:  market.Coin,
		Fiat:  market.Fiat,
		Side:  market.EffectiveWatchSide(),
		Page:  1,
		Limit: s.config.PageSize,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list active listings failed")
		s.logger.Warn("failed to fetch listings", "market", market.Pair(), "error", err)
		return nil
	}
	return raws
}

// placeOrder returns nil when no order exists: gateway missing, listing
// without an exchange id, or the exchange refused.
func (s *Service) placeOrder(ctx context.Context, l entity.Listing, amount int64) *entity.OrderResult {
	if s.gateway == nil {
		s.logger.Error("market gateway not configured, cannot place order", "listing", l.ID)
		return nil
	}

	adID := l.AdvertisementID()
	if adID == "" {
		s.logger.Error("listing has no exchange id, cannot place order", "listing", l.ID)
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "market_watcher.place_order",
		trace.WithAttributes(attribute.String("listing", adID), attribute.Int64("amount", amount)))
	defer span.End()

	result, err := s.gateway.PlaceOrder(ctx, outbound.OrderRequest{AdvertisementID: adID, Amount: amount})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "place order failed")
		s.logger.Error("failed to place order", "listing", adID, "amount", amount, "error", err)
		return nil
	}
	if result == nil {
		result = entity.NewOrderResult(map[string]any{})
	}

	s.logger.Info("order created", "listing", adID, "orderId", result.OrderID)
	return result
}

// recordAttempt writes the attempt to the head of history, prunes and
// persists, all under the lock. The attempt is kept in memory even when the
// save fails. It returns the notification for the attempt.
func (s *Service) recordAttempt(ctx context.Context, l entity.Listing, amount int64, result *entity.OrderResult) entity.Notification {
	now := s.config.Now()
	attempt := entity.NewOrderAttempt(l, amount, result, now)

	notification, market := s.appendAttempt(ctx, attempt, now)
	notification.ID = uuid.NewString()

	if s.config.Archive != nil {
		if err := s.config.Archive.Append(context.WithoutCancel(ctx), market, attempt); err != nil {
			s.logger.Warn("failed to archive order attempt", "listing", l.ID, "error", err)
		}
	}

	return notification
}

func (s *Service) appendAttempt(ctx context.Context, attempt entity.OrderAttempt, now time.Time) (entity.Notification, entity.MarketFilter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.RecordAttempt(attempt)
	s.state.Prune(now)
	if err := s.saveState(ctx, s.state); err != nil {
		s.logger.Error("failed to persist order attempt", "listing", attempt.Ad.ID, "error", err)
	}
	return entity.NewOrderNotification(s.state, attempt, now), s.state.Market
}
