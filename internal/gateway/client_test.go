package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/tapvizit/backend/internal/config"
	"github.com/tapvizit/backend/internal/models"
)

func testConfig(baseURL string, sandbox bool) *config.GatewayConfig {
	return &config.GatewayConfig{
		APIKey:      "test-api-key",
		SecretKey:   "test-secret-key",
		BaseURL:     baseURL,
		CallbackURL: "http://localhost:8080/api/v1/payments/callback",
		Currency:    "TRY",
		Sandbox:     sandbox,
		Timeout:     5 * time.Second,
	}
}

func testIntent(orderNumber, amount string) *models.PaymentIntent {
	return &models.PaymentIntent{
		OrderNumber: orderNumber,
		DealerID:    "dealer1",
		Amount:      decimal.RequireFromString(amount),
		Purpose:     models.PurposeDeposit,
	}
}

func testCard() *models.CardInfo {
	return &models.CardInfo{
		HolderName:  "Jane Dealer",
		Number:      "5528790000000008",
		ExpireMonth: "12",
		ExpireYear:  "2030",
		CVC:         "123",
	}
}

func testBuyer() *models.BuyerInfo {
	return &models.BuyerInfo{
		ID:      "dealer1",
		Name:    "Jane",
		Surname: "Dealer",
		Email:   "jane@example.com",
	}
}

func TestSign(t *testing.T) {
	body := []byte(`{"conversationId":"ord-1"}`)
	signature := Sign("test-secret-key", "1700000000000123456789", authorizePath, body)

	// The signature is keyed over randomKey + path + body in that order.
	mac := hmac.New(sha256.New, []byte("test-secret-key"))
	mac.Write([]byte("1700000000000123456789" + authorizePath + `{"conversationId":"ord-1"}`))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), signature)

	// Any input change invalidates the signature.
	assert.NotEqual(t, signature, Sign("other-secret", "1700000000000123456789", authorizePath, body))
	assert.NotEqual(t, signature, Sign("test-secret-key", "other-random", authorizePath, body))
	assert.NotEqual(t, signature, Sign("test-secret-key", "1700000000000123456789", "/other/path", body))
	assert.NotEqual(t, signature, Sign("test-secret-key", "1700000000000123456789", authorizePath, []byte("{}")))
}

func TestAuthorizationHeader(t *testing.T) {
	header := AuthorizationHeader("key-1", "rk-1", "sig-1")

	assert.True(t, strings.HasPrefix(header, "PAYWSv2 "))

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "PAYWSv2 "))
	assert.NoError(t, err)
	assert.Equal(t, "apiKey:key-1&randomKey:rk-1&signature:sig-1", string(decoded))
}

func TestNewRandomKey(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	key := newRandomKey(now)

	assert.True(t, strings.HasPrefix(key, "1700000000000"))
	assert.Len(t, key, len("1700000000000")+9)
}

func TestBuildAuthorizationRequest(t *testing.T) {
	c := NewClient(testConfig("https://api.example.com", false))

	t.Run("body carries the canonical fields", func(t *testing.T) {
		signed, err := c.BuildAuthorizationRequest(testIntent("ord-1", "150.00"), testCard(), testBuyer())
		assert.NoError(t, err)
		assert.Equal(t, authorizePath, signed.Path)

		var body map[string]interface{}
		assert.NoError(t, json.Unmarshal(signed.Body, &body))
		assert.Equal(t, "ord-1", body["conversationId"])
		assert.Equal(t, "150.00", body["price"])
		assert.Equal(t, "150.00", body["paidPrice"])
		assert.Equal(t, "TRY", body["currency"])
		assert.Equal(t, "http://localhost:8080/api/v1/payments/callback", body["callbackUrl"])
	})

	t.Run("header signature verifies against the body", func(t *testing.T) {
		signed, err := c.BuildAuthorizationRequest(testIntent("ord-2", "99.90"), testCard(), testBuyer())
		assert.NoError(t, err)

		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(signed.Authorization, "PAYWSv2 "))
		assert.NoError(t, err)

		parts := map[string]string{}
		for _, pair := range strings.Split(string(decoded), "&") {
			kv := strings.SplitN(pair, ":", 2)
			parts[kv[0]] = kv[1]
		}
		assert.Equal(t, "test-api-key", parts["apiKey"])
		assert.Equal(t, signed.RandomKey, parts["randomKey"])
		assert.Equal(t, Sign("test-secret-key", signed.RandomKey, signed.Path, signed.Body), parts["signature"])
	})

	t.Run("missing card is an error", func(t *testing.T) {
		_, err := c.BuildAuthorizationRequest(testIntent("ord-3", "10.00"), nil, testBuyer())
		assert.Error(t, err)
	})
}

func TestSubmitAuthorization(t *testing.T) {
	t.Run("sandbox mode short-circuits to a synthetic authorization", func(t *testing.T) {
		c := NewClient(testConfig("https://api.example.com", true))

		result, err := c.SubmitAuthorization(&SignedRequest{Path: authorizePath})
		assert.NoError(t, err)
		assert.Equal(t, StatusAuthorized, result.Status)
		assert.True(t, strings.HasPrefix(result.GatewayPaymentID, "sandbox-"))
	})

	t.Run("3-D Secure step-up returns the decoded redirect document", func(t *testing.T) {
		redirectHTML := `<form action="https://acs.bank.example/challenge"></form>`
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, authorizePath, r.URL.Path)
			assert.NotEmpty(t, r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]string{
				"status":             "success",
				"paymentId":          "pay-77",
				"threeDSHtmlContent": base64.StdEncoding.EncodeToString([]byte(redirectHTML)),
			})
		}))
		defer server.Close()

		c := NewClient(testConfig(server.URL, false))
		signed, err := c.BuildAuthorizationRequest(testIntent("ord-7", "50.00"), testCard(), testBuyer())
		assert.NoError(t, err)

		result, err := c.SubmitAuthorization(signed)
		assert.NoError(t, err)
		assert.Equal(t, StatusRedirectRequired, result.Status)
		assert.Equal(t, "pay-77", result.GatewayPaymentID)
		assert.Equal(t, redirectHTML, result.RedirectHTML)
	})

	t.Run("success without step-up is an immediate authorization", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{
				"status":    "success",
				"paymentId": "pay-88",
			})
		}))
		defer server.Close()

		c := NewClient(testConfig(server.URL, false))
		signed, err := c.BuildAuthorizationRequest(testIntent("ord-8", "50.00"), testCard(), testBuyer())
		assert.NoError(t, err)

		result, err := c.SubmitAuthorization(signed)
		assert.NoError(t, err)
		assert.Equal(t, StatusAuthorized, result.Status)
		assert.Equal(t, "pay-88", result.GatewayPaymentID)
	})

	t.Run("processor failure maps to a rejection, not an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{
				"status":       "failure",
				"errorCode":    "NOT_SUFFICIENT_FUNDS",
				"errorMessage": "card limit exceeded",
			})
		}))
		defer server.Close()

		c := NewClient(testConfig(server.URL, false))
		signed, err := c.BuildAuthorizationRequest(testIntent("ord-9", "50.00"), testCard(), testBuyer())
		assert.NoError(t, err)

		result, err := c.SubmitAuthorization(signed)
		assert.NoError(t, err)
		assert.Equal(t, StatusRejected, result.Status)
		assert.Equal(t, "NOT_SUFFICIENT_FUNDS", result.ErrorCode)
	})

	t.Run("unreachable processor maps to a network rejection", func(t *testing.T) {
		c := NewClient(testConfig("http://127.0.0.1:1", false))
		c.(*client).http.SetTimeout(500 * time.Millisecond)

		result, err := c.SubmitAuthorization(&SignedRequest{Path: authorizePath, Body: []byte("{}")})
		assert.NoError(t, err)
		assert.Equal(t, StatusRejected, result.Status)
		assert.Equal(t, "NETWORK_ERROR", result.ErrorCode)
	})

	t.Run("corrupt redirect document is rejected", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{
				"status":             "success",
				"paymentId":          "pay-99",
				"threeDSHtmlContent": "%%%not-base64%%%",
			})
		}))
		defer server.Close()

		c := NewClient(testConfig(server.URL, false))
		result, err := c.SubmitAuthorization(&SignedRequest{Path: authorizePath, Body: []byte("{}")})
		assert.NoError(t, err)
		assert.Equal(t, StatusRejected, result.Status)
		assert.Equal(t, "BAD_REDIRECT_DOCUMENT", result.ErrorCode)
	})
}

func TestParseCallback(t *testing.T) {
	c := NewClient(testConfig("https://api.example.com", false))

	t.Run("form-encoded POST", func(t *testing.T) {
		form := url.Values{}
		form.Set("conversationId", "ord-1")
		form.Set("paymentId", "pay-1")
		form.Set("mdStatus", "1")

		r := httptest.NewRequest("POST", "/api/v1/payments/callback", strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		cb, err := c.ParseCallback(r)
		assert.NoError(t, err)
		assert.Equal(t, "ord-1", cb.ConversationID)
		assert.Equal(t, "pay-1", cb.PaymentID)
		assert.True(t, cb.Approved)
	})

	t.Run("JSON POST", func(t *testing.T) {
		body := `{"conversationId":"ord-2","paymentId":"pay-2","mdStatus":"4"}`
		r := httptest.NewRequest("POST", "/api/v1/payments/callback", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")

		cb, err := c.ParseCallback(r)
		assert.NoError(t, err)
		assert.Equal(t, "ord-2", cb.ConversationID)
		assert.True(t, cb.Approved, "attempted authentication counts as approved")
	})

	t.Run("GET query string", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/payments/callback?conversationId=ord-3&paymentId=pay-3&mdStatus=0", nil)

		cb, err := c.ParseCallback(r)
		assert.NoError(t, err)
		assert.Equal(t, "0", cb.StatusCode)
		assert.False(t, cb.Approved)
	})

	t.Run("status field is the fallback when mdStatus is absent", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/payments/callback?conversationId=ord-4&paymentId=pay-4&status=2", nil)

		cb, err := c.ParseCallback(r)
		assert.NoError(t, err)
		assert.Equal(t, "2", cb.StatusCode)
		assert.True(t, cb.Approved)
	})

	t.Run("missing correlation fields", func(t *testing.T) {
		cases := []string{
			"/api/v1/payments/callback?paymentId=pay-5&mdStatus=1",
			"/api/v1/payments/callback?conversationId=ord-5&mdStatus=1",
		}
		for _, target := range cases {
			_, err := c.ParseCallback(httptest.NewRequest("GET", target, nil))
			assert.ErrorIs(t, err, ErrMalformedCallback)
		}
	})

	t.Run("undocumented status codes are not approved", func(t *testing.T) {
		for _, code := range []string{"5", "6", "7", "8", "failure", ""} {
			r := httptest.NewRequest("GET", "/api/v1/payments/callback?conversationId=o&paymentId=p&mdStatus="+code, nil)
			cb, err := c.ParseCallback(r)
			assert.NoError(t, err)
			assert.False(t, cb.Approved, "mdStatus %q must not settle", code)
		}
	})
}
