package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/tapvizit/backend/internal/models"
)

// provisioningQueue is consumed by the card-provisioning collaborator that
// mints the purchased goods once a purchase is COMPLETED.
const provisioningQueue = "provisioning_queue"

// ProvisioningService is the boundary to the out-of-process provisioning
// collaborator: it feeds completed purchases onto a queue and exposes
// purchase rows for the collaborator to read back.
type ProvisioningService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewProvisioningService(db *sql.DB, redisClient *redis.Client) *ProvisioningService {
	return &ProvisioningService{db: db, redis: redisClient}
}

type provisioningJob struct {
	PurchaseID  string          `json:"purchaseId"`
	DealerID    string          `json:"dealerId"`
	OrderNumber string          `json:"orderNumber,omitempty"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	QueuedAt    time.Time       `json:"queuedAt"`
}

// QueueCompletedPurchase enqueues after the owning transaction committed.
// Queue failures are logged, never propagated: the purchase is already
// durable and the collaborator reconciles from the purchases table.
func (s *ProvisioningService) QueueCompletedPurchase(purchaseID, dealerID, orderNumber string, totalAmount decimal.Decimal) {
	if s.redis == nil {
		log.Printf("[PROVISIONING] redis unavailable, purchase %s not queued", purchaseID)
		return
	}

	job := provisioningJob{
		PurchaseID:  purchaseID,
		DealerID:    dealerID,
		OrderNumber: orderNumber,
		TotalAmount: totalAmount,
		QueuedAt:    time.Now(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		log.Printf("[PROVISIONING] failed to marshal job for purchase %s: %v", purchaseID, err)
		return
	}

	if err := s.redis.RPush(context.Background(), provisioningQueue, data).Err(); err != nil {
		log.Printf("[PROVISIONING] failed to queue purchase %s: %v", purchaseID, err)
	}
}

// GetPurchase returns a purchase row
// @Summary Get purchase by ID
// @Description Retrieve a purchase and its status
// @Tags purchases
// @Produce json
// @Param purchaseId path string true "Purchase ID"
// @Success 200 {object} models.Purchase
// @Failure 404 {object} map[string]string
// @Router /purchases/{purchaseId} [get]
func (s *ProvisioningService) GetPurchase(w http.ResponseWriter, r *http.Request) {
	purchaseID := chi.URLParam(r, "purchaseId")

	dealerID, ok := r.Context().Value("dealerID").(string)
	if !ok || dealerID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	purchase := models.Purchase{}
	var unitPriceStr, totalStr string
	var orderNumber, reviewNote sql.NullString
	err := s.db.QueryRow(`
		SELECT id, dealer_id, order_number, quantity, unit_price::text, total_amount::text, status, review_note, created_at, updated_at
		FROM purchases
		WHERE id = $1`,
		purchaseID).Scan(&purchase.ID, &purchase.DealerID, &orderNumber, &purchase.Quantity,
		&unitPriceStr, &totalStr, &purchase.Status, &reviewNote, &purchase.CreatedAt, &purchase.UpdatedAt)
	if err == sql.ErrNoRows {
		http.Error(w, "Purchase not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("[PROVISIONING] failed to fetch purchase %s: %v", purchaseID, err)
		http.Error(w, "Failed to fetch purchase", http.StatusInternalServerError)
		return
	}

	// Another dealer's purchase looks like a missing one.
	if purchase.DealerID != dealerID {
		http.Error(w, "Purchase not found", http.StatusNotFound)
		return
	}

	purchase.OrderNumber = orderNumber.String
	purchase.ReviewNote = reviewNote.String
	if purchase.UnitPrice, err = decimal.NewFromString(unitPriceStr); err != nil {
		http.Error(w, "Failed to fetch purchase", http.StatusInternalServerError)
		return
	}
	if purchase.TotalAmount, err = decimal.NewFromString(totalStr); err != nil {
		http.Error(w, "Failed to fetch purchase", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(purchase)
}
