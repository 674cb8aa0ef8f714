package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func signTestToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	assert.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	viper.Set("jwt.secret_key", "test-secret")
	defer viper.Set("jwt.secret_key", "")

	var seenDealerID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenDealerID, _ = r.Context().Value("dealerID").(string)
		w.WriteHeader(http.StatusOK)
	})
	protected := AuthMiddleware(next)

	t.Run("valid token puts the dealer into context", func(t *testing.T) {
		token := signTestToken(t, "test-secret", jwt.MapClaims{
			"dealer_id": "dealer1",
			"exp":       time.Now().Add(time.Hour).Unix(),
		})

		r := httptest.NewRequest("GET", "/api/v1/balance", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "dealer1", seenDealerID)
	})

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/balance", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/balance", nil)
		r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token signed with another secret", func(t *testing.T) {
		token := signTestToken(t, "other-secret", jwt.MapClaims{"dealer_id": "dealer1"})

		r := httptest.NewRequest("GET", "/api/v1/balance", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token without dealer_id claim", func(t *testing.T) {
		token := signTestToken(t, "test-secret", jwt.MapClaims{"sub": "someone"})

		r := httptest.NewRequest("GET", "/api/v1/balance", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		token := signTestToken(t, "test-secret", jwt.MapClaims{
			"dealer_id": "dealer1",
			"exp":       time.Now().Add(-time.Hour).Unix(),
		})

		r := httptest.NewRequest("GET", "/api/v1/balance", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		protected.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
