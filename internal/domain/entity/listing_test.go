package entity

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseListing_FieldFallbacks(t *testing.T) {
	tests := []struct {
		name      string
		raw       map[string]any
		wantID    string
		wantPrice float64
		wantMin   float64
		wantMax   float64
		wantSynth bool
	}{
		{
			name:      "primary keys",
			raw:       map[string]any{"adId": "A1", "price": "1420", "minLimit": "5000", "maxLimit": "2000000"},
			wantID:    "A1",
			wantPrice: 1420,
			wantMin:   5000,
			wantMax:   2000000,
		},
		{
			name:      "secondary keys",
			raw:       map[string]any{"advertisementId": "B2", "unitPrice": 1401.5, "min": 100.0, "max": 900.0},
			wantID:    "B2",
			wantPrice: 1401.5,
			wantMin:   100,
			wantMax:   900,
		},
		{
			name:      "exchange keys",
			raw:       map[string]any{"id": "C3", "rate": json.Number("1450.25"), "minAmount": "1000.00", "maxAmount": "50000.00"},
			wantID:    "C3",
			wantPrice: 1450.25,
			wantMin:   1000,
			wantMax:   50000,
		},
		{
			name:      "missing limits default",
			raw:       map[string]any{"id": "D4", "price": "1410"},
			wantID:    "D4",
			wantPrice: 1410,
			wantMin:   0,
			wantMax:   DefaultMaxLimit,
		},
		{
			name:      "empty price falls through to next key",
			raw:       map[string]any{"id": "E5", "price": "", "unitPrice": "1433"},
			wantID:    "E5",
			wantPrice: 1433,
			wantMax:   DefaultMaxLimit,
		},
		{
			name:      "decimal zero price falls through to next key",
			raw:       map[string]any{"id": "F6", "price": json.Number("0.00"), "unitPrice": json.Number("1437.5")},
			wantID:    "F6",
			wantPrice: 1437.5,
			wantMax:   DefaultMaxLimit,
		},
		{
			name:      "synthesized id",
			raw:       map[string]any{"price": "1420.5", "sellerId": "s-9"},
			wantID:    "1420.5_s-9",
			wantPrice: 1420.5,
			wantMax:   DefaultMaxLimit,
			wantSynth: true,
		},
		{
			name:      "synthesized id with userId",
			raw:       map[string]any{"price": 1420.0, "userId": "u7"},
			wantID:    "1420_u7",
			wantPrice: 1420,
			wantMax:   DefaultMaxLimit,
			wantSynth: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := ParseListing(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if l.ID != tt.wantID {
				t.Errorf("ID = %q, want %q", l.ID, tt.wantID)
			}
			if l.Price != tt.wantPrice {
				t.Errorf("Price = %v, want %v", l.Price, tt.wantPrice)
			}
			if l.MinLimit != tt.wantMin {
				t.Errorf("MinLimit = %v, want %v", l.MinLimit, tt.wantMin)
			}
			if l.MaxLimit != tt.wantMax {
				t.Errorf("MaxLimit = %v, want %v", l.MaxLimit, tt.wantMax)
			}
			if l.IDSynthesized != tt.wantSynth {
				t.Errorf("IDSynthesized = %v, want %v", l.IDSynthesized, tt.wantSynth)
			}
			if tt.wantSynth && l.AdvertisementID() != "" {
				t.Errorf("AdvertisementID() = %q for synthesized id", l.AdvertisementID())
			}
		})
	}
}

func TestParseListing_DataFaults(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{name: "no price", raw: map[string]any{"id": "x"}},
		{name: "unparseable price", raw: map[string]any{"id": "x", "price": "abc"}},
		{name: "unsupported price type", raw: map[string]any{"id": "x", "price": []any{1}}},
		{name: "unparseable min", raw: map[string]any{"id": "x", "price": "1", "minLimit": "lots"}},
		{name: "unparseable max", raw: map[string]any{"id": "x", "price": "1", "maxLimit": "lots"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseListing(tt.raw); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if _, err := ParseListing(map[string]any{}); !errors.Is(err, ErrMissingPrice) {
		t.Errorf("expected ErrMissingPrice, got %v", err)
	}
}
