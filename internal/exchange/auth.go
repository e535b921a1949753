package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"
)

// Auth signs private REST requests. The venue authenticates with an API key
// header plus an HMAC-SHA256 signature over the urlencoded query string,
// keyed by the account's secret.
type Auth struct {
	apiKey     string
	privateKey []byte
}

// NewAuth creates a signer from the configured credentials.
func NewAuth(apiKey, privateKey string) *Auth {
	return &Auth{
		apiKey:     apiKey,
		privateKey: []byte(privateKey),
	}
}

// ApiKey returns the value for the X-MBX-APIKEY header.
func (a *Auth) ApiKey() string {
	return a.apiKey
}

// Sign appends the current timestamp and the hex HMAC-SHA256 signature to
// the given params, returning the final encoded query string.
func (a *Auth) Sign(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()
	return query + "&signature=" + a.signature(query)
}

// signature computes hex(HMAC-SHA256(privateKey, query)).
func (a *Auth) signature(query string) string {
	mac := hmac.New(sha256.New, a.privateKey)
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}
