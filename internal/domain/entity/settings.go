package entity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidRange is returned for a price range whose min exceeds its max.
	ErrInvalidRange = errors.New("min must be <= max")

	// ErrUnrecognizedInput is returned when free text is neither a range nor a number.
	ErrUnrecognizedInput = errors.New("send a range like 1400-1455 or a single number for min/max buy")

	// ErrInvalidBounds is returned for buy bounds outside 0 < min <= max.
	ErrInvalidBounds = errors.New("invalid buy bounds")
)

// IsInputError reports whether err was caused by operator input rather than
// by storage or the exchange.
func IsInputError(err error) bool {
	var numErr *strconv.NumError
	return errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidBounds) ||
		errors.Is(err, ErrUnrecognizedInput) ||
		errors.As(err, &numErr)
}

// SettingKind identifies which setting a free-text input changes.
type SettingKind string

const (
	SettingPriceRange SettingKind = "price_range"
	SettingMinBuy     SettingKind = "min_buy"
	SettingMaxBuy     SettingKind = "max_buy"
)

// SettingChange is the parsed form of operator free text.
type SettingChange struct {
	Kind   SettingKind
	Band   PriceBand
	Amount int64
}

// Describe renders the change for a confirmation message.
func (c SettingChange) Describe() string {
	switch c.Kind {
	case SettingPriceRange:
		return fmt.Sprintf("Price range set to %s - %s", formatPrice(c.Band.Min), formatPrice(c.Band.Max))
	case SettingMinBuy:
		return fmt.Sprintf("Min buy set to %d", c.Amount)
	case SettingMaxBuy:
		return fmt.Sprintf("Max buy set to %d", c.Amount)
	default:
		return "Nothing changed"
	}
}

// Apply writes the change into s.
func (c SettingChange) Apply(s *State) {
	switch c.Kind {
	case SettingPriceRange:
		s.PriceRange = c.Band
	case SettingMinBuy:
		s.MinBuy = c.Amount
	case SettingMaxBuy:
		s.MaxBuy = c.Amount
	}
}

// ParseSettingInput interprets operator free text.
//
// "1400-1455" sets the price range. A bare integer sets min buy when it does
// not exceed currentMaxBuy and max buy otherwise.
func ParseSettingInput(text string, currentMaxBuy int64) (SettingChange, error) {
	text = strings.TrimSpace(text)

	if lo, hi, found := strings.Cut(text, "-"); found && isDecimalDigits(lo) && isDecimalDigits(hi) {
		minPrice, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
		if err != nil {
			return SettingChange{}, fmt.Errorf("parsing range min: %w", err)
		}
		maxPrice, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
		if err != nil {
			return SettingChange{}, fmt.Errorf("parsing range max: %w", err)
		}
		band := PriceBand{Min: minPrice, Max: maxPrice}
		if err := band.Validate(); err != nil {
			return SettingChange{}, err
		}
		return SettingChange{Kind: SettingPriceRange, Band: band}, nil
	}

	if isDigits(text) {
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return SettingChange{}, fmt.Errorf("parsing amount: %w", err)
		}
		if n <= currentMaxBuy {
			return SettingChange{Kind: SettingMinBuy, Amount: n}, nil
		}
		return SettingChange{Kind: SettingMaxBuy, Amount: n}, nil
	}

	return SettingChange{}, ErrUnrecognizedInput
}

// isDecimalDigits accepts digits with dots mixed in, after trimming spaces.
func isDecimalDigits(s string) bool {
	return isDigits(strings.ReplaceAll(strings.TrimSpace(s), ".", ""))
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
