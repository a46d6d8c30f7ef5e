package market_watcher

import (
	"context"
	"errors"
	"testing"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/ports/inbound"
)

func TestStartWatching_IdempotentAndPersisted(t *testing.T) {
	store := &mockStateRepository{}
	svc := newLoadedService(t, store, nil)
	ctx := context.Background()

	for range 2 {
		if err := svc.StartWatching(ctx); err != nil {
			t.Fatalf("StartWatching: %v", err)
		}
	}
	if !svc.Status(ctx).BotRunning || !store.snapshot().BotRunning {
		t.Error("running flag not set and persisted")
	}

	if err := svc.StopWatching(ctx); err != nil {
		t.Fatalf("StopWatching: %v", err)
	}
	if svc.Status(ctx).BotRunning || store.snapshot().BotRunning {
		t.Error("running flag not cleared and persisted")
	}
}

func TestToggleAutoStart(t *testing.T) {
	store := &mockStateRepository{}
	svc := newLoadedService(t, store, nil)
	ctx := context.Background()

	enabled, err := svc.ToggleAutoStart(ctx)
	if err != nil || !enabled {
		t.Fatalf("first toggle = %v, %v; want true", enabled, err)
	}
	enabled, err = svc.ToggleAutoStart(ctx)
	if err != nil || enabled {
		t.Fatalf("second toggle = %v, %v; want false", enabled, err)
	}
	if store.snapshot().AutoStart {
		t.Error("auto start not persisted")
	}
}

func TestSetPriceBand(t *testing.T) {
	store := &mockStateRepository{}
	svc := newLoadedService(t, store, nil)
	ctx := context.Background()

	if err := svc.SetPriceBand(ctx, entity.PriceBand{Min: 1500, Max: 1400}); !errors.Is(err, entity.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
	if err := svc.SetPriceBand(ctx, entity.PriceBand{Min: 1410, Max: 1430}); err != nil {
		t.Fatalf("SetPriceBand: %v", err)
	}
	if got := store.snapshot().PriceRange; got != (entity.PriceBand{Min: 1410, Max: 1430}) {
		t.Errorf("persisted band = %+v", got)
	}
}

func TestSetBuyBounds(t *testing.T) {
	svc := newLoadedService(t, &mockStateRepository{}, nil)
	ctx := context.Background()

	if err := svc.SetBuyBounds(ctx, entity.BuyBounds{MinBuy: 50, MaxBuy: 10}); err == nil {
		t.Fatal("expected error for inverted bounds")
	}
	if err := svc.SetBuyBounds(ctx, entity.BuyBounds{MinBuy: 20000, MaxBuy: 40000}); err != nil {
		t.Fatalf("SetBuyBounds: %v", err)
	}
	st := svc.Status(ctx)
	if st.MinBuy != 20000 || st.MaxBuy != 40000 {
		t.Errorf("bounds = %d/%d", st.MinBuy, st.MaxBuy)
	}
}

func TestUpdate_SaveFailureLeavesStateUnchanged(t *testing.T) {
	store := &mockStateRepository{}
	svc := newLoadedService(t, store, nil)
	store.saveFn = func(context.Context, *entity.State) error { return errors.New("read-only filesystem") }

	if err := svc.SetPriceBand(context.Background(), entity.PriceBand{Min: 1, Max: 2}); err == nil {
		t.Fatal("expected save error")
	}
	if got := svc.Status(context.Background()).PriceRange; got.Min != 1400 {
		t.Errorf("state changed despite failed save: %+v", got)
	}
}

func TestApplySettingInput(t *testing.T) {
	svc := newLoadedService(t, &mockStateRepository{}, nil)
	ctx := context.Background()

	change, err := svc.ApplySettingInput(ctx, "1405-1450")
	if err != nil || change.Kind != entity.SettingPriceRange {
		t.Fatalf("range input = %+v, %v", change, err)
	}
	if _, err := svc.ApplySettingInput(ctx, "25000"); err != nil {
		t.Fatalf("min buy input: %v", err)
	}
	if _, err := svc.ApplySettingInput(ctx, "5000000"); err != nil {
		t.Fatalf("max buy input: %v", err)
	}
	if _, err := svc.ApplySettingInput(ctx, "0"); err == nil {
		t.Error("expected zero min buy to be rejected")
	}
	if _, err := svc.ApplySettingInput(ctx, "what"); !errors.Is(err, entity.ErrUnrecognizedInput) {
		t.Errorf("expected ErrUnrecognizedInput, got %v", err)
	}

	st := svc.Status(ctx)
	if st.PriceRange != (entity.PriceBand{Min: 1405, Max: 1450}) || st.MinBuy != 25000 || st.MaxBuy != 5000000 {
		t.Errorf("status = %+v", st)
	}
}

func TestHistoryAndFindAttempt(t *testing.T) {
	st := entity.DefaultState(0)
	for _, id := range []string{"c", "b", "a"} {
		st.RecordAttempt(entity.OrderAttempt{Ad: entity.AdSnapshot{ID: id}, Timestamp: entity.FormatTimestamp(testNow)})
	}
	svc := newLoadedService(t, &mockStateRepository{stored: &st}, nil)
	ctx := context.Background()

	h := svc.History(ctx, 2)
	if len(h) != 2 || h[0].Ad.ID != "a" || h[1].Ad.ID != "b" {
		t.Errorf("History(2) = %+v", h)
	}
	if len(svc.History(ctx, 0)) != 3 {
		t.Error("History(0) should return all records")
	}

	if _, err := svc.FindAttempt(ctx, "b"); err != nil {
		t.Errorf("FindAttempt(b): %v", err)
	}
	if _, err := svc.FindAttempt(ctx, "zzz"); !errors.Is(err, inbound.ErrAttemptNotFound) {
		t.Errorf("expected ErrAttemptNotFound, got %v", err)
	}
}

func TestMarkPaid(t *testing.T) {
	ctx := context.Background()

	gw := &mockGateway{}
	svc := newLoadedService(t, &mockStateRepository{}, gw)

	for _, id := range []string{"", "none", "  "} {
		if err := svc.MarkPaid(ctx, id); !errors.Is(err, inbound.ErrNoOrder) {
			t.Errorf("MarkPaid(%q) = %v, want ErrNoOrder", id, err)
		}
	}
	if err := svc.MarkPaid(ctx, "O-1"); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	if len(gw.markedPaid) != 1 || gw.markedPaid[0] != "O-1" {
		t.Errorf("markedPaid = %v", gw.markedPaid)
	}

	gw.markPaidFn = func(context.Context, string) error { return errors.New("order not in pay state") }
	if err := svc.MarkPaid(ctx, "O-2"); err == nil {
		t.Error("expected gateway error to surface")
	}

	unconfigured := newLoadedService(t, &mockStateRepository{}, nil)
	if err := unconfigured.MarkPaid(ctx, "O-3"); !errors.Is(err, inbound.ErrGatewayUnavailable) {
		t.Errorf("expected ErrGatewayUnavailable, got %v", err)
	}
}
