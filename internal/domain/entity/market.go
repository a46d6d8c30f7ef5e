// Package entity holds the domain types shared by the watcher, its adapters and its front ends.
package entity

import (
	"errors"
	"fmt"
	"strings"
)

// Side is a trade direction on the P2P market.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the counterparty direction. Unknown sides map to themselves.
func (s Side) Opposite() Side {
	switch s.Normalize() {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return s
	}
}

// Normalize upper-cases and trims the side.
func (s Side) Normalize() Side {
	return Side(strings.ToUpper(strings.TrimSpace(string(s))))
}

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	n := s.Normalize()
	return n == SideBuy || n == SideSell
}

// MarketFilter selects the market the watcher trades on.
// Side is the bot's own direction; WatchSide is the listings it scans.
type MarketFilter struct {
	Coin      string `json:"coin"`
	Fiat      string `json:"fiat"`
	Side      Side   `json:"side"`
	WatchSide Side   `json:"watch_side"`
}

// EffectiveWatchSide returns WatchSide, or the opposite of Side when unset.
func (m MarketFilter) EffectiveWatchSide() Side {
	if m.WatchSide != "" {
		return m.WatchSide.Normalize()
	}
	return m.Side.Opposite()
}

// Pair renders the market as COIN/FIAT.
func (m MarketFilter) Pair() string {
	return m.Coin + "/" + m.Fiat
}

// Validate checks that the filter can be sent to a gateway.
func (m MarketFilter) Validate() error {
	var errs []error
	if strings.TrimSpace(m.Coin) == "" {
		errs = append(errs, errors.New("coin is required"))
	}
	if strings.TrimSpace(m.Fiat) == "" {
		errs = append(errs, errors.New("fiat is required"))
	}
	if !m.Side.Valid() {
		errs = append(errs, fmt.Errorf("invalid side %q", m.Side))
	}
	if m.WatchSide != "" && !m.WatchSide.Valid() {
		errs = append(errs, fmt.Errorf("invalid watch side %q", m.WatchSide))
	}
	return errors.Join(errs...)
}

// PriceBand is an inclusive [Min, Max] price range.
type PriceBand struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether price lies inside the band, inclusive on both ends.
func (b PriceBand) Contains(price float64) bool {
	return price >= b.Min && price <= b.Max
}

// Validate enforces Min <= Max.
func (b PriceBand) Validate() error {
	if b.Min > b.Max {
		return fmt.Errorf("%w: min %v is greater than max %v", ErrInvalidRange, b.Min, b.Max)
	}
	return nil
}

// BuyBounds are the fiat amounts the bot is willing to spend per order.
type BuyBounds struct {
	MinBuy int64
	MaxBuy int64
}

// Validate enforces 0 < MinBuy <= MaxBuy.
func (b BuyBounds) Validate() error {
	if b.MinBuy <= 0 {
		return fmt.Errorf("%w: min buy must be positive, got %d", ErrInvalidBounds, b.MinBuy)
	}
	if b.MinBuy > b.MaxBuy {
		return fmt.Errorf("%w: min buy %d is greater than max buy %d", ErrInvalidBounds, b.MinBuy, b.MaxBuy)
	}
	return nil
}
