package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/tapvizit/backend/internal/models"
)

func TestProvisioningService_QueueCompletedPurchase(t *testing.T) {
	t.Run("completed purchase is pushed onto the queue", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := NewProvisioningService(nil, redisClient)

		redisMock.Regexp().ExpectRPush(provisioningQueue, `.*"purchaseId":"purchase-1".*"dealerId":"dealer1".*`).SetVal(1)

		service.QueueCompletedPurchase("purchase-1", "dealer1", "ord-1", decimal.RequireFromString("60.00"))
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("missing redis is a logged no-op", func(t *testing.T) {
		service := NewProvisioningService(nil, nil)

		assert.NotPanics(t, func() {
			service.QueueCompletedPurchase("purchase-2", "dealer1", "", decimal.RequireFromString("10.00"))
		})
	})

	t.Run("queue failure does not propagate", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		service := NewProvisioningService(nil, redisClient)

		redisMock.Regexp().ExpectRPush(provisioningQueue, `.*`).SetErr(assert.AnError)

		assert.NotPanics(t, func() {
			service.QueueCompletedPurchase("purchase-3", "dealer1", "ord-3", decimal.RequireFromString("10.00"))
		})
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})
}

func TestProvisioningService_GetPurchase(t *testing.T) {
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewProvisioningService(db, nil)

	router := chi.NewRouter()
	router.Get("/purchases/{purchaseId}", service.GetPurchase)

	asDealer := func(dealerID, target string) *http.Request {
		r := httptest.NewRequest("GET", target, nil)
		return r.WithContext(context.WithValue(r.Context(), "dealerID", dealerID))
	}

	expectPurchaseRow := func(purchaseID, dealerID string) {
		rows := sqlmock.NewRows([]string{
			"id", "dealer_id", "order_number", "quantity", "unit_price", "total_amount",
			"status", "review_note", "created_at", "updated_at",
		}).AddRow(purchaseID, dealerID, "ord-1", 3, "20.00", "60.00",
			models.PurchaseCompleted, nil, time.Now(), time.Now())

		dbMock.ExpectQuery("SELECT id, dealer_id, order_number, quantity, unit_price::text, total_amount::text, status, review_note, created_at, updated_at FROM purchases WHERE id = \\$1").
			WithArgs(purchaseID).
			WillReturnRows(rows)
	}

	t.Run("own purchase", func(t *testing.T) {
		expectPurchaseRow("purchase-1", "dealer1")

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, asDealer("dealer1", "/purchases/purchase-1"))

		assert.Equal(t, http.StatusOK, rec.Code)

		var purchase models.Purchase
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &purchase))
		assert.Equal(t, "purchase-1", purchase.ID)
		assert.Equal(t, models.PurchaseCompleted, purchase.Status)
		assert.True(t, purchase.TotalAmount.Equal(decimal.RequireFromString("60.00")))
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("another dealer's purchase is hidden", func(t *testing.T) {
		expectPurchaseRow("purchase-2", "dealer2")

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, asDealer("dealer1", "/purchases/purchase-2"))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("unknown purchase is a 404", func(t *testing.T) {
		dbMock.ExpectQuery("SELECT id, dealer_id, order_number").
			WithArgs("no-such-purchase").
			WillReturnError(sql.ErrNoRows)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, asDealer("dealer1", "/purchases/no-such-purchase"))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("unauthenticated request", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/purchases/purchase-1", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})
}
