package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// HistoryRetention is how long order attempts are kept in state.
const HistoryRetention = 10 * 24 * time.Hour

// DefaultAdminID is the operator chat used when none is configured.
const DefaultAdminID int64 = 1378825382

// ErrStateNotFound is returned by repositories that have nothing stored yet.
var ErrStateNotFound = errors.New("state not found")

// State is the persisted configuration and history of the watcher.
type State struct {
	Market     MarketFilter   `json:"market"`
	PriceRange PriceBand      `json:"price_range"`
	MinBuy     int64          `json:"min_buy"`
	MaxBuy     int64          `json:"max_buy"`
	AutoStart  bool           `json:"auto_start"`
	BotRunning bool           `json:"bot_running"`
	AdminID    int64          `json:"admin_id"`
	History    []OrderAttempt `json:"history"`
}

// DefaultState returns the initial state for a fresh install.
func DefaultState(adminID int64) State {
	if adminID == 0 {
		adminID = DefaultAdminID
	}
	return State{
		Market: MarketFilter{
			Coin:      "USDT",
			Fiat:      "NGN",
			Side:      SideBuy,
			WatchSide: SideSell,
		},
		PriceRange: PriceBand{Min: 1400, Max: 1455},
		MinBuy:     10000,
		MaxBuy:     1000000,
		AdminID:    adminID,
		History:    []OrderAttempt{},
	}
}

// DecodeState parses a persisted document. Keys missing from data keep the
// values from defaults, including keys missing inside nested objects.
func DecodeState(data []byte, defaults State) (*State, error) {
	st := defaults.Clone()
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decoding state: %w", err)
	}
	if st.History == nil {
		st.History = []OrderAttempt{}
	}
	return &st, nil
}

// EncodeState renders the state as indented JSON.
func EncodeState(st State) ([]byte, error) {
	if st.History == nil {
		st.History = []OrderAttempt{}
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	return data, nil
}

// Clone returns a copy whose history slice can be mutated independently.
// Raw payload maps inside records are shared and treated as immutable.
func (s State) Clone() State {
	c := s
	c.History = slices.Clone(s.History)
	return c
}

// Bounds returns the configured buy bounds.
func (s State) Bounds() BuyBounds {
	return BuyBounds{MinBuy: s.MinBuy, MaxBuy: s.MaxBuy}
}

// RecordAttempt inserts a at the head of the history.
func (s *State) RecordAttempt(a OrderAttempt) {
	s.History = slices.Insert(s.History, 0, a)
}

// FindAttempt returns the most recent attempt against listingID.
func (s State) FindAttempt(listingID string) (OrderAttempt, bool) {
	for _, a := range s.History {
		if a.Ad.ID == listingID {
			return a, true
		}
	}
	return OrderAttempt{}, false
}

// Prune drops expired history and returns how many records were removed.
func (s *State) Prune(now time.Time) int {
	kept, removed := PruneHistory(s.History, now, HistoryRetention)
	s.History = kept
	return removed
}

// PruneHistory keeps records whose timestamp is not older than now-retention.
// Records with malformed timestamps are treated as stamped at now and kept.
// The input slice is not modified.
func PruneHistory(history []OrderAttempt, now time.Time, retention time.Duration) ([]OrderAttempt, int) {
	cutoff := now.UTC().Add(-retention)
	kept := make([]OrderAttempt, 0, len(history))
	for _, a := range history {
		ts, ok := a.Time()
		if !ok {
			ts = now.UTC()
		}
		if !ts.Before(cutoff) {
			kept = append(kept, a)
		}
	}
	return kept, len(history) - len(kept)
}

// Summary is a flat view of state used by front ends.
type Summary struct {
	Market       MarketFilter `json:"market"`
	PriceRange   PriceBand    `json:"price_range"`
	MinBuy       int64        `json:"min_buy"`
	MaxBuy       int64        `json:"max_buy"`
	AutoStart    bool         `json:"auto_start"`
	BotRunning   bool         `json:"bot_running"`
	HistoryCount int          `json:"history_count"`
}

// Summarize returns the front-end view of s.
func (s State) Summarize() Summary {
	return Summary{
		Market:       s.Market,
		PriceRange:   s.PriceRange,
		MinBuy:       s.MinBuy,
		MaxBuy:       s.MaxBuy,
		AutoStart:    s.AutoStart,
		BotRunning:   s.BotRunning,
		HistoryCount: len(s.History),
	}
}

