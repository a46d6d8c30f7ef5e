package market_watcher

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/archon-research/p2pwatch/internal/domain/entity"
	"github.com/archon-research/p2pwatch/internal/ports/outbound"
)

func a1Listing() map[string]any {
	return map[string]any{"adId": "A1", "price": "1420", "minLimit": "5000", "maxLimit": "2000000", "sellerId": "s1"}
}

func TestRunCycle_IdleWhenNotRunning(t *testing.T) {
	st := entity.DefaultState(0)
	store := &mockStateRepository{stored: &st}
	gw := &mockGateway{listFn: listings(a1Listing())}
	svc := newLoadedService(t, store, gw)

	outcome, err := svc.runCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Idle {
		t.Error("expected idle outcome")
	}
	if gw.listCalls != 0 {
		t.Errorf("gateway polled %d times while stopped", gw.listCalls)
	}
}

func TestRunCycle_MatchingListingScenario(t *testing.T) {
	store := &mockStateRepository{stored: runningState()}
	gw := &mockGateway{listFn: listings(a1Listing())}
	notifier := &mockNotifier{}
	svc := newLoadedService(t, store, gw, notifier)
	ctx := context.Background()

	outcome, err := svc.runCycle(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Attempted != 1 || outcome.Failed != 0 {
		t.Errorf("outcome = %+v", outcome)
	}

	orders := gw.placedOrders()
	if len(orders) != 1 || orders[0] != (outbound.OrderRequest{AdvertisementID: "A1", Amount: 10000}) {
		t.Fatalf("orders = %+v, want one order for A1 at 10000", orders)
	}
	if gw.lastQuery.Side != entity.SideSell || gw.lastQuery.Coin != "USDT" || gw.lastQuery.Fiat != "NGN" || gw.lastQuery.Page != 1 || gw.lastQuery.Limit != 50 {
		t.Errorf("query = %+v", gw.lastQuery)
	}

	history := svc.History(ctx, 0)
	if len(history) != 1 || history[0].Ad.ID != "A1" || history[0].Amount != 10000 {
		t.Fatalf("history = %+v", history)
	}
	if history[0].OrderID() != "ORD-A1" {
		t.Errorf("order id = %q", history[0].OrderID())
	}
	if !svc.seen.Seen("A1") {
		t.Error("A1 not marked seen")
	}
	if persisted := store.snapshot(); len(persisted.History) != 1 {
		t.Errorf("persisted history len = %d, want 1", len(persisted.History))
	}

	n, ok := svc.queue.Dequeue()
	if !ok {
		t.Fatal("no notification queued")
	}
	if n.Kind != entity.NotificationOrderCreated || n.ListingID != "A1" || n.OrderID != "ORD-A1" || n.ID == "" {
		t.Errorf("notification = %+v", n)
	}

	// Same listing presented again.
	outcome, err = svc.runCycle(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Attempted != 0 {
		t.Errorf("second cycle attempted %d orders", outcome.Attempted)
	}
	if gw.orderCount() != 1 {
		t.Errorf("orders = %d, want 1", gw.orderCount())
	}
	if got := len(svc.History(ctx, 0)); got != 1 {
		t.Errorf("history len = %d, want 1", got)
	}
	if svc.queue.Len() != 0 {
		t.Errorf("queued notifications = %d, want 0", svc.queue.Len())
	}
}

func TestRunCycle_PriceOutsideBand(t *testing.T) {
	tests := []struct {
		name  string
		price string
	}{
		{name: "above", price: "1500"},
		{name: "below", price: "1399.99"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStateRepository{stored: runningState()}
			gw := &mockGateway{listFn: listings(map[string]any{"adId": "X", "price": tt.price})}
			svc := newLoadedService(t, store, gw)
			savesBefore := store.saves

			outcome, _ := svc.runCycle(context.Background())

			if gw.orderCount() != 0 {
				t.Errorf("order attempted for price %s", tt.price)
			}
			if outcome.Matched != 0 {
				t.Errorf("matched = %d", outcome.Matched)
			}
			if len(svc.History(context.Background(), 0)) != 0 || store.saves != savesBefore {
				t.Error("history mutated for out-of-band listing")
			}
		})
	}
}

func TestRunCycle_BandEdgesAreInclusive(t *testing.T) {
	store := &mockStateRepository{stored: runningState()}
	gw := &mockGateway{listFn: listings(
		map[string]any{"adId": "LOW", "price": "1400"},
		map[string]any{"adId": "HIGH", "price": "1455"},
	)}
	svc := newLoadedService(t, store, gw)

	svc.runCycle(context.Background())

	if gw.orderCount() != 2 {
		t.Errorf("orders = %d, want 2", gw.orderCount())
	}
}

func TestRunCycle_ClampsAmountToListingMinimum(t *testing.T) {
	store := &mockStateRepository{stored: runningState()}
	gw := &mockGateway{listFn: listings(
		map[string]any{"adId": "B1", "price": "1420", "minLimit": "12000", "maxLimit": "50000"},
	)}
	svc := newLoadedService(t, store, gw)

	svc.runCycle(context.Background())

	orders := gw.placedOrders()
	if len(orders) != 1 || orders[0].Amount != 12000 {
		t.Fatalf("orders = %+v, want amount 12000", orders)
	}
	if svc.History(context.Background(), 1)[0].Amount != 12000 {
		t.Error("history amount not clamped")
	}
}

func TestRunCycle_InfeasibleListingNotMarkedSeen(t *testing.T) {
	store := &mockStateRepository{stored: runningState()}
	gw := &mockGateway{listFn: listings(
		map[string]any{"adId": "C1", "price": "1420", "minLimit": "0", "maxLimit": "5000"},
	)}
	svc := newLoadedService(t, store, gw)

	for range 3 {
		svc.runCycle(context.Background())
	}

	if gw.orderCount() != 0 {
		t.Errorf("orders = %d, want 0", gw.orderCount())
	}
	if svc.seen.Len() != 0 {
		t.Error("infeasible listing was marked seen")
	}

	// Once the listing limits change it becomes eligible.
	gw.listFn = listings(map[string]any{"adId": "C1", "price": "1420", "maxLimit": "50000"})
	svc.runCycle(context.Background())
	if gw.orderCount() != 1 {
		t.Errorf("orders = %d, want 1 after limits changed", gw.orderCount())
	}
}

func TestRunCycle_OversizedMinimumPlacesNoOrder(t *testing.T) {
	store := &mockStateRepository{stored: runningState()}
	gw := &mockGateway{listFn: listings(
		map[string]any{"adId": "X", "price": "1420", "minLimit": "1e19"},
	)}
	svc := newLoadedService(t, store, gw)

	if _, err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orders := gw.placedOrders(); len(orders) != 0 {
		t.Fatalf("orders = %+v, want none", orders)
	}
}

func TestRunCycle_OrderFailureStillMarksSeenAndNotifies(t *testing.T) {
	store := &mockStateRepository{stored: runningState()}
	gw := &mockGateway{
		listFn: listings(a1Listing()),
		placeFn: func(context.Context, outbound.OrderRequest) (*entity.OrderResult, error) {
			return nil, outbound.ErrOrderRejected
		},
	}
	svc := newLoadedService(t, store, gw, &mockNotifier{})

	outcome, _ := svc.runCycle(context.Background())
	if outcome.Failed != 1 {
		t.Errorf("failed = %d, want 1", outcome.Failed)
	}

	history := svc.History(context.Background(), 0)
	if len(history) != 1 || history[0].Succeeded() {
		t.Fatalf("history = %+v, want one failed record", history)
	}
	if !svc.seen.Seen("A1") {
		t.Error("failed listing not marked seen")
	}

	n, ok := svc.queue.Dequeue()
	if !ok || n.Kind != entity.NotificationOrderFailed {
		t.Errorf("notification = %+v, want order_failed", n)
	}

	svc.runCycle(context.Background())
	if gw.orderCount() != 1 {
		t.Errorf("rejected listing retried: orders = %d", gw.orderCount())
	}
}

func TestRunCycle_UnconfiguredGateway(t *testing.T) {
	store := &mockStateRepository{stored: runningState()}
	svc := newLoadedService(t, store, nil)

	outcome, err := svc.runCycle(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Fetched != 0 || outcome.Idle {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestRunCycle_FetchErrorIsAbsorbed(t *testing.T) {
	store := &mockStateRepository{stored: runningState()}
	gw := &mockGateway{listFn: func(context.Context, outbound.ListingQuery) ([]map[string]any, error) {
		return nil, errors.New("connection reset")
	}}
	svc := newLoadedService(t, store, gw)

	if _, err := svc.runCycle(context.Background()); err != nil {
		t.Fatalf("fetch error escaped cycle: %v", err)
	}
}

func TestRunCycle_ProcessesInGatewayOrderAndSkipsBadRecords(t *testing.T) {
	store := &mockStateRepository{stored: runningState()}
	gw := &mockGateway{listFn: listings(
		map[string]any{"adId": "BAD", "price": "n/a"},
		map[string]any{"adId": "Z", "price": "1450"},
		map[string]any{"adId": "NOPRICE"},
		map[string]any{"adId": "A", "price": "1401"},
	)}
	svc := newLoadedService(t, store, gw)

	outcome, _ := svc.runCycle(context.Background())

	if outcome.Skipped != 2 || outcome.Parsed != 2 {
		t.Errorf("outcome = %+v, want 2 skipped and 2 parsed", outcome)
	}
	orders := gw.placedOrders()
	if len(orders) != 2 || orders[0].AdvertisementID != "Z" || orders[1].AdvertisementID != "A" {
		t.Fatalf("orders = %+v, want Z then A", orders)
	}
	history := svc.History(context.Background(), 0)
	if history[0].Ad.ID != "A" || history[1].Ad.ID != "Z" {
		t.Errorf("history not most-recent-first: %s, %s", history[0].Ad.ID, history[1].Ad.ID)
	}
}

func TestRunCycle_SynthesizedIDRecordsFailureWithoutOrder(t *testing.T) {
	store := &mockStateRepository{stored: runningState()}
	gw := &mockGateway{listFn: listings(map[string]any{"price": "1420", "sellerId": "s7"})}
	svc := newLoadedService(t, store, gw, &mockNotifier{})

	svc.runCycle(context.Background())

	if gw.orderCount() != 0 {
		t.Errorf("gateway called for listing without exchange id")
	}
	history := svc.History(context.Background(), 0)
	if len(history) != 1 || history[0].Ad.ID != "1420_s7" || history[0].Succeeded() {
		t.Fatalf("history = %+v", history)
	}
	if !svc.seen.Seen("1420_s7") {
		t.Error("synthesized id not marked seen")
	}
}

func TestRunCycle_PrunesExpiredHistory(t *testing.T) {
	st := runningState()
	st.History = []entity.OrderAttempt{
		{Ad: entity.AdSnapshot{ID: "recent"}, Timestamp: entity.FormatTimestamp(testNow.AddDate(0, 0, -1))},
		{Ad: entity.AdSnapshot{ID: "ancient"}, Timestamp: entity.FormatTimestamp(testNow.AddDate(0, 0, -11))},
		{Ad: entity.AdSnapshot{ID: "garbled"}, Timestamp: "not a time"},
	}
	store := &mockStateRepository{stored: st}
	gw := &mockGateway{listFn: listings()}
	svc := newLoadedService(t, store, gw)

	svc.runCycle(context.Background())

	history := svc.History(context.Background(), 0)
	if len(history) != 2 || history[0].Ad.ID != "recent" || history[1].Ad.ID != "garbled" {
		t.Fatalf("history after prune = %+v", history)
	}
	if persisted := store.snapshot(); len(persisted.History) != 2 {
		t.Errorf("pruned history not persisted: %d records", len(persisted.History))
	}
}

func TestRunCycle_SaveFailureKeepsAttemptInMemory(t *testing.T) {
	store := &mockStateRepository{stored: runningState()}
	svc := newLoadedService(t, store, &mockGateway{listFn: listings(a1Listing())})
	store.saveFn = func(context.Context, *entity.State) error { return errors.New("disk full") }

	svc.runCycle(context.Background())

	if len(svc.History(context.Background(), 0)) != 1 {
		t.Error("attempt lost after save failure")
	}
}

func TestSafeCycle_PanicDuringSaveReleasesLock(t *testing.T) {
	store := &mockStateRepository{stored: runningState()}
	svc := newLoadedService(t, store, &mockGateway{listFn: listings(a1Listing())})
	store.saveFn = func(_ context.Context, st *entity.State) error {
		if len(st.History) > 0 {
			panic("store exploded")
		}
		return nil
	}

	if _, err := svc.safeCycle(context.Background()); err == nil {
		t.Fatal("expected recovered panic to surface as an error")
	}

	done := make(chan entity.Summary, 1)
	go func() { done <- svc.Status(context.Background()) }()

	select {
	case summary := <-done:
		if summary.HistoryCount != 1 {
			t.Errorf("HistoryCount = %d, want 1", summary.HistoryCount)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Status blocked: service lock still held after a recovered panic")
	}

	store.saveFn = nil
	if err := svc.StopWatching(context.Background()); err != nil {
		t.Errorf("StopWatching after recovered panic: %v", err)
	}
}

func TestRecordAttempt_HistoryVisibleBeforeNotification(t *testing.T) {
	store := &mockStateRepository{stored: runningState()}
	gw := &mockGateway{listFn: listings(a1Listing())}

	var svc *Service
	found := make(chan bool, 1)
	notifier := &mockNotifier{notifyFn: func(ctx context.Context, n entity.Notification) error {
		_, err := svc.FindAttempt(ctx, n.ListingID)
		found <- err == nil
		return nil
	}}

	svc = newLoadedService(t, store, gw, notifier)
	svc.runCycle(context.Background())

	n, ok := svc.queue.Dequeue()
	if !ok {
		t.Fatal("no notification queued")
	}
	svc.deliver(context.Background(), n)
	if !<-found {
		t.Error("history record not visible when notification was delivered")
	}
}

type recordingArchive struct {
	appended []entity.OrderAttempt
	err      error
}

func (r *recordingArchive) Append(_ context.Context, _ entity.MarketFilter, a entity.OrderAttempt) error {
	r.appended = append(r.appended, a)
	return r.err
}

func (r *recordingArchive) ListRecent(context.Context, int) ([]entity.OrderAttempt, error) {
	return r.appended, nil
}

func TestRecordAttempt_ArchivesAttempts(t *testing.T) {
	archive := &recordingArchive{err: errors.New("db down")}
	cfg := testConfig()
	cfg.Archive = archive

	store := &mockStateRepository{stored: runningState()}
	svc, err := NewService(cfg, store, &mockGateway{listFn: listings(a1Listing())})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := svc.loadState(context.Background()); err != nil {
		t.Fatalf("loadState: %v", err)
	}

	svc.runCycle(context.Background())

	if len(archive.appended) != 1 || archive.appended[0].Ad.ID != "A1" {
		t.Errorf("archived = %+v", archive.appended)
	}
	if len(svc.History(context.Background(), 0)) != 1 {
		t.Error("archive failure affected state")
	}
}

func TestBuyAmount(t *testing.T) {
	tests := []struct {
		name     string
		minBuy   int64
		listing  entity.Listing
		want     int64
		feasible bool
	}{
		{name: "min buy fits", minBuy: 10000, listing: entity.Listing{MinLimit: 5000, MaxLimit: 2000000}, want: 10000, feasible: true},
		{name: "raised to listing min", minBuy: 10000, listing: entity.Listing{MinLimit: 12000, MaxLimit: 50000}, want: 12000, feasible: true},
		{name: "fractional min truncated", minBuy: 100, listing: entity.Listing{MinLimit: 150.9, MaxLimit: 500}, want: 150, feasible: true},
		{name: "exceeds listing max", minBuy: 10000, listing: entity.Listing{MinLimit: 0, MaxLimit: 5000}, want: 10000, feasible: false},
		{name: "raised min exceeds max", minBuy: 10, listing: entity.Listing{MinLimit: 600, MaxLimit: 500}, want: 600, feasible: false},
		{name: "equal to max", minBuy: 5000, listing: entity.Listing{MaxLimit: 5000}, want: 5000, feasible: true},
		{name: "min beyond int64 with default max", minBuy: 10000, listing: entity.Listing{MinLimit: 1e19, MaxLimit: entity.DefaultMaxLimit}, want: 10000, feasible: false},
		{name: "min at int64 bound", minBuy: 10000, listing: entity.Listing{MinLimit: math.MaxInt64, MaxLimit: 1e20}, want: 10000, feasible: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := buyAmount(tt.minBuy, tt.listing)
			if got != tt.want || ok != tt.feasible {
				t.Errorf("buyAmount() = %d, %v; want %d, %v", got, ok, tt.want, tt.feasible)
			}
		})
	}
}
