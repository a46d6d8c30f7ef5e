package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Header names used by the v5 API for authenticated requests.
const (
	headerAPIKey     = "X-BAPI-API-KEY"
	headerSign       = "X-BAPI-SIGN"
	headerSignType   = "X-BAPI-SIGN-TYPE"
	headerTimestamp  = "X-BAPI-TIMESTAMP"
	headerRecvWindow = "X-BAPI-RECV-WINDOW"
	headerRequestID  = "X-Request-Id"
)

// Signer produces HMAC-SHA256 request signatures.
type Signer struct {
	apiKey     string
	secret     []byte
	recvWindow string
	now        func() time.Time
}

// NewSigner creates a signer. recvWindow is how long the exchange accepts
// the request after its timestamp.
func NewSigner(apiKey, apiSecret string, recvWindow time.Duration) *Signer {
	return &Signer{
		apiKey:     apiKey,
		secret:     []byte(apiSecret),
		recvWindow: strconv.FormatInt(recvWindow.Milliseconds(), 10),
		now:        time.Now,
	}
}

// Headers returns the authentication headers for body, stamped now.
func (s *Signer) Headers(body []byte) map[string]string {
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	return map[string]string{
		headerAPIKey:     s.apiKey,
		headerTimestamp:  ts,
		headerRecvWindow: s.recvWindow,
		headerSignType:   "2",
		headerSign:       s.sign(ts, body),
	}
}

// sign computes hex(HMAC_SHA256(secret, timestamp + apiKey + recvWindow + body)).
func (s *Signer) sign(ts string, body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte(s.apiKey))
	mac.Write([]byte(s.recvWindow))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
