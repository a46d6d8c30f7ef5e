package bybit

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/archon-research/p2pwatch/internal/pkg/httpclient"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantErr   bool
		wantRetry bool
		wantCode  int64
	}{
		{name: "ok snake", body: `{"ret_code":0,"ret_msg":"SUCCESS"}`},
		{name: "ok camel", body: `{"retCode":0,"retMsg":"OK"}`},
		{name: "no envelope", body: `{"items":[]}`},
		{name: "not json", body: `<html>`},
		{name: "bare list", body: `[1,2]`},
		{name: "rejected", body: `{"ret_code":912100027,"ret_msg":"ad offline"}`, wantErr: true, wantCode: 912100027},
		{name: "too many visits", body: `{"retCode":10006,"retMsg":"slow down"}`, wantErr: true, wantRetry: true, wantCode: 10006},
		{name: "string code", body: `{"ret_code":"x"}`, wantErr: true, wantCode: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parseEnvelope(200, []byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %T", err)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", apiErr.Code, tt.wantCode)
			}
			var nonRetryable *httpclient.NonRetryableError
			if retried := !errors.As(err, &nonRetryable); retried != tt.wantRetry {
				t.Errorf("retryable = %v, want %v", retried, tt.wantRetry)
			}
		})
	}
}

func TestExtractListings(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantIDs []string
		wantErr bool
	}{
		{name: "result.items", body: `{"ret_code":0,"result":{"count":1,"items":[{"id":"a"},{"id":"b"}]}}`, wantIDs: []string{"a", "b"}},
		{name: "top-level data", body: `{"data":[{"id":"c"}]}`, wantIDs: []string{"c"}},
		{name: "ads key", body: `{"result":{"ads":[{"id":"d"}]}}`, wantIDs: []string{"d"}},
		{name: "result list", body: `{"result":[{"id":"e"}]}`, wantIDs: []string{"e"}},
		{name: "bare list drops non-objects", body: `[{"id":"f"}, 3, "x"]`, wantIDs: []string{"f"}},
		{name: "items preferred over data", body: `{"items":[{"id":"g"}],"data":[{"id":"h"}]}`, wantIDs: []string{"g"}},
		{name: "nothing", body: `{"result":{"count":0}}`, wantErr: true},
		{name: "scalar", body: `42`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractListings([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d listings, want %d", len(got), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if got[i]["id"] != id {
					t.Errorf("listing %d id = %v, want %s", i, got[i]["id"], id)
				}
			}
		})
	}
}

func TestExtractListings_KeepsNumbersExact(t *testing.T) {
	got, err := extractListings([]byte(`{"items":[{"price":1455.10,"id":"x"}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, ok := got[0]["price"].(json.Number); !ok || n.String() != "1455.10" {
		t.Errorf("price = %#v, want json.Number 1455.10", got[0]["price"])
	}
}
