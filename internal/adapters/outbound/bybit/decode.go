package bybit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/archon-research/p2pwatch/internal/pkg/httpclient"
)

// Exchange return codes that are worth retrying.
const (
	retCodeTooManyVisits = 10006
	retCodeServerError   = 10016
)

// APIError is a non-zero ret_code in the response envelope.
type APIError struct {
	Code    int64
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bybit error %d: %s", e.Code, e.Message)
}

// Retryable reports whether the exchange asked the caller to back off.
func (e *APIError) Retryable() bool {
	return e.Code == retCodeTooManyVisits || e.Code == retCodeServerError
}

// decodeObject decodes a JSON object keeping numbers as json.Number.
func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeAny(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// parseEnvelope is the httpclient.ErrorParser for the v5 API. Bodies that are
// not JSON objects pass through untouched.
func parseEnvelope(_ int, body []byte) error {
	obj, err := decodeObject(body)
	if err != nil {
		return nil
	}

	code, present := retCode(obj)
	if !present || code == 0 {
		return nil
	}

	apiErr := &APIError{Code: code, Message: retMsg(obj)}
	if apiErr.Retryable() {
		return apiErr
	}
	return httpclient.WrapNonRetryable(apiErr)
}

func retCode(obj map[string]any) (int64, bool) {
	for _, key := range []string{"ret_code", "retCode"} {
		v, ok := obj[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return -1, true
			}
			return i, true
		case float64:
			return int64(n), true
		default:
			return -1, true
		}
	}
	return 0, false
}

func retMsg(obj map[string]any) string {
	for _, key := range []string{"ret_msg", "retMsg"} {
		if s, ok := obj[key].(string); ok {
			return s
		}
	}
	return "unknown error"
}

// errNoListings is returned when no listing array can be located.
var errNoListings = errors.New("no listings array in response")

// extractListings locates the listing array. The top-level "result" object
// is unwrapped, then items, data, ads and result are tried in order. A bare
// array is accepted as-is.
func extractListings(body []byte) ([]map[string]any, error) {
	decoded, err := decodeAny(body)
	if err != nil {
		return nil, fmt.Errorf("decoding listings: %w", err)
	}

	if list, ok := decoded.([]any); ok {
		return toRecords(list), nil
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, errNoListings
	}
	if inner, ok := obj["result"].(map[string]any); ok {
		obj = inner
	}
	for _, key := range []string{"items", "data", "ads", "result"} {
		if list, ok := obj[key].([]any); ok {
			return toRecords(list), nil
		}
	}
	return nil, errNoListings
}

// toRecords keeps the object elements of list and drops anything else.
func toRecords(list []any) []map[string]any {
	records := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			records = append(records, m)
		}
	}
	return records
}
