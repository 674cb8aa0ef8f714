package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/rand"
	"time"
)

// authScheme prefixes the processor's v2 keyed-hash authorization header.
const authScheme = "PAYWSv2"

// Sign computes the processor signature: HMAC-SHA256 keyed by the merchant
// secret over randomKey + path + body, hex-encoded. The concatenation order
// is fixed by the processor and must not change.
func Sign(secretKey, randomKey, path string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(randomKey))
	mac.Write([]byte(path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// AuthorizationHeader encodes the api key, random key and signature the way
// the processor expects them.
func AuthorizationHeader(apiKey, randomKey, signature string) string {
	payload := fmt.Sprintf("apiKey:%s&randomKey:%s&signature:%s", apiKey, randomKey, signature)
	return authScheme + " " + base64.StdEncoding.EncodeToString([]byte(payload))
}

// newRandomKey produces the per-request nonce: millisecond timestamp
// concatenated with a random integer.
func newRandomKey(now time.Time) string {
	return fmt.Sprintf("%d%09d", now.UnixMilli(), rand.Intn(1_000_000_000))
}
