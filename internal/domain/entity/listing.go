package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultMaxLimit is used when a listing carries no upper trade limit.
const DefaultMaxLimit = 1e18

var (
	priceKeys    = []string{"price", "unitPrice", "rate"}
	idKeys       = []string{"adId", "advertisementId", "id"}
	sellerKeys   = []string{"sellerId", "userId"}
	minLimitKeys = []string{"minLimit", "min", "minAmount"}
	maxLimitKeys = []string{"maxLimit", "max", "maxAmount"}
)

// ErrMissingPrice is returned when a raw listing has no usable price field.
var ErrMissingPrice = errors.New("listing has no price")

// Listing is a marketplace advertisement as seen by the watcher.
type Listing struct {
	ID       string
	Price    float64
	MinLimit float64
	MaxLimit float64
	SellerID string

	// IDSynthesized is true when the gateway gave no identifier and ID was
	// derived from price and seller.
	IDSynthesized bool

	Raw map[string]any
}

// ParseListing extracts a Listing from a gateway record. Field names vary
// between API versions so each field is looked up under several keys; the
// first non-empty value wins.
func ParseListing(raw map[string]any) (Listing, error) {
	priceValue, ok := firstPresent(raw, priceKeys)
	if !ok {
		return Listing{}, ErrMissingPrice
	}
	price, err := toFloat(priceValue)
	if err != nil {
		return Listing{}, fmt.Errorf("parsing price: %w", err)
	}

	minLimit := 0.0
	if v, ok := firstPresent(raw, minLimitKeys); ok {
		if minLimit, err = toFloat(v); err != nil {
			return Listing{}, fmt.Errorf("parsing min limit: %w", err)
		}
	}

	maxLimit := DefaultMaxLimit
	if v, ok := firstPresent(raw, maxLimitKeys); ok {
		if maxLimit, err = toFloat(v); err != nil {
			return Listing{}, fmt.Errorf("parsing max limit: %w", err)
		}
	}

	l := Listing{
		Price:    price,
		MinLimit: minLimit,
		MaxLimit: maxLimit,
		Raw:      raw,
	}
	if v, ok := firstPresent(raw, sellerKeys); ok {
		l.SellerID = toString(v)
	}

	if v, ok := firstPresent(raw, idKeys); ok {
		l.ID = toString(v)
	} else {
		l.ID = SynthesizeListingID(price, l.SellerID)
		l.IDSynthesized = true
	}

	return l, nil
}

// AdvertisementID returns the identifier the exchange knows the listing by,
// or "" when the ID was synthesized.
func (l Listing) AdvertisementID() string {
	if l.IDSynthesized {
		return ""
	}
	return l.ID
}

// SynthesizeListingID builds a fallback identifier from price and seller.
func SynthesizeListingID(price float64, sellerID string) string {
	return strconv.FormatFloat(price, 'f', -1, 64) + "_" + sellerID
}

// firstPresent returns the first value under keys that is neither nil, an
// empty string nor numeric zero.
func firstPresent(raw map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || isEmpty(v) {
			continue
		}
		return v, true
	}
	return nil, false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case float64:
		return t == 0
	case int:
		return t == 0
	case int64:
		return t == 0
	case json.Number:
		if t == "" {
			return true
		}
		d, err := decimal.NewFromString(t.String())
		return err == nil && d.IsZero()
	case bool:
		return !t
	default:
		return false
	}
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return 0, err
		}
		return d.InexactFloat64(), nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return 0, err
		}
		return d.InexactFloat64(), nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
