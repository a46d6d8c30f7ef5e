package bybit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"
)

func TestSigner_Headers(t *testing.T) {
	signer := NewSigner("key", "secret", 5*time.Second)
	signer.now = func() time.Time { return time.UnixMilli(1700000000123) }

	body := []byte(`{"orderId":"1"}`)
	headers := signer.Headers(body)

	if headers[headerAPIKey] != "key" {
		t.Errorf("api key = %q", headers[headerAPIKey])
	}
	if headers[headerTimestamp] != "1700000000123" {
		t.Errorf("timestamp = %q", headers[headerTimestamp])
	}
	if headers[headerRecvWindow] != "5000" {
		t.Errorf("recv window = %q", headers[headerRecvWindow])
	}

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("1700000000123key5000" + string(body)))
	want := hex.EncodeToString(mac.Sum(nil))
	if headers[headerSign] != want {
		t.Errorf("signature = %s, want %s", headers[headerSign], want)
	}
}

func TestSigner_KnownVector(t *testing.T) {
	// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
	const want = "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8"

	signer := NewSigner("", "key", 0)
	signer.recvWindow = ""
	if got := signer.sign("", []byte("The quick brown fox jumps over the lazy dog")); got != want {
		t.Errorf("sign = %s, want %s", got, want)
	}
}
