package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/archon-research/p2pwatch/internal/adapters/outbound/memory"
	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/pkg/testutil"
	"github.com/archon-research/p2pwatch/internal/ports/outbound"
	"github.com/archon-research/p2pwatch/internal/services/market_watcher"
	rootutil "github.com/archon-research/p2pwatch/internal/testutil"
)

func TestStateStore_EmptyThenRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStateStore(entity.DefaultState(5))

	if _, err := store.Load(ctx); !errors.Is(err, entity.ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound, got %v", err)
	}

	st := entity.DefaultState(5)
	st.MinBuy = 777
	if err := store.Save(ctx, &st); err != nil {
		t.Fatalf("Save: %v", err)
	}
	st.MinBuy = 1

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.MinBuy != 777 {
		t.Errorf("stored document aliased caller state: MinBuy = %d", got.MinBuy)
	}
	if store.Saves() != 1 {
		t.Errorf("Saves = %d, want 1", store.Saves())
	}
}

func TestStateStore_SaveErr(t *testing.T) {
	store := memory.NewStateStore(entity.DefaultState(0))
	store.SaveErr = errors.New("disk full")

	st := entity.DefaultState(0)
	if err := store.Save(context.Background(), &st); err == nil {
		t.Fatal("expected SaveErr")
	}
	if store.Saves() != 0 {
		t.Error("failed save should not be counted")
	}
}

func TestGateway_RejectsScriptedAds(t *testing.T) {
	ctx := context.Background()
	gw := memory.NewGateway()
	gw.Reject("bad")

	if _, err := gw.PlaceOrder(ctx, outbound.OrderRequest{AdvertisementID: "bad", Amount: 1}); !errors.Is(err, outbound.ErrOrderRejected) {
		t.Errorf("expected ErrOrderRejected, got %v", err)
	}
	res, err := gw.PlaceOrder(ctx, outbound.OrderRequest{AdvertisementID: "good", Amount: 1})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if res.OrderID == "" {
		t.Error("expected generated order id")
	}
	if len(gw.Orders()) != 2 {
		t.Errorf("Orders = %d, want 2", len(gw.Orders()))
	}
}

// TestWatcherEndToEnd drives the watcher against the in-memory adapters.
func TestWatcherEndToEnd(t *testing.T) {
	ctx := context.Background()

	gw := memory.NewGateway(
		map[string]any{"adId": "ad-ok", "price": "1420", "minLimit": "5000", "maxLimit": "500000"},
		map[string]any{"adId": "ad-rejected", "price": "1430", "minLimit": "0", "maxLimit": "500000"},
		map[string]any{"adId": "ad-expensive", "price": "1500"},
		map[string]any{"adId": "ad-too-small", "price": "1410", "maxLimit": "100"},
	)
	gw.Reject("ad-rejected")

	store := memory.NewStateStore(entity.DefaultState(99))
	notifier := memory.NewNotifier()

	svc, err := market_watcher.NewService(market_watcher.Config{
		PollInterval: 10 * time.Millisecond,
		AdminID:      99,
		Logger:       rootutil.DiscardLogger(),
	}, store, gw, notifier)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop()

	if err := svc.StartWatching(ctx); err != nil {
		t.Fatalf("StartWatching: %v", err)
	}

	if !testutil.WaitFor(t, 2*time.Second, 5*time.Millisecond, func() bool {
		return len(notifier.Notifications()) == 2
	}) {
		t.Fatalf("expected 2 notifications, got %d", len(notifier.Notifications()))
	}

	// Let a few more cycles run; seen listings must not be ordered again.
	time.Sleep(50 * time.Millisecond)
	if n := len(gw.Orders()); n != 2 {
		t.Errorf("orders placed = %d, want 2", n)
	}

	kinds := map[string]entity.NotificationKind{}
	for _, n := range notifier.Notifications() {
		kinds[n.ListingID] = n.Kind
		if n.Recipient != 99 {
			t.Errorf("recipient = %d, want 99", n.Recipient)
		}
	}
	if kinds["ad-ok"] != entity.NotificationOrderCreated {
		t.Errorf("ad-ok kind = %q", kinds["ad-ok"])
	}
	if kinds["ad-rejected"] != entity.NotificationOrderFailed {
		t.Errorf("ad-rejected kind = %q", kinds["ad-rejected"])
	}

	persisted, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(persisted.History) != 2 || !persisted.BotRunning {
		t.Errorf("persisted state: running=%v history=%d", persisted.BotRunning, len(persisted.History))
	}

	for _, q := range gw.Queries() {
		if q.Side != entity.SideSell || q.Coin != "USDT" {
			t.Fatalf("unexpected query %+v", q)
		}
	}
}
