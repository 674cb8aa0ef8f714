package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tapvizit/backend/internal/gateway"
	"github.com/tapvizit/backend/internal/models"
	"github.com/tapvizit/backend/internal/services"
)

// PaymentHandler exposes the purchase orchestrator over HTTP.
type PaymentHandler struct {
	service   *services.PaymentService
	qr        *services.QRService
	validator *services.ValidationHelper
}

func NewPaymentHandler(service *services.PaymentService, qr *services.QRService) *PaymentHandler {
	return &PaymentHandler{
		service:   service,
		qr:        qr,
		validator: services.NewValidationHelper(),
	}
}

type depositRequest struct {
	Amount        decimal.Decimal   `json:"amount"`
	Description   string            `json:"description" validate:"max=200"`
	PaymentMethod string            `json:"paymentMethod" validate:"omitempty,oneof=CARD BALANCE"`
	OrderNumber   string            `json:"orderNumber" validate:"required,max=64"`
	CardInfo      *models.CardInfo  `json:"cardInfo" validate:"required"`
	BuyerInfo     *models.BuyerInfo `json:"buyerInfo" validate:"required"`
}

type balancePurchaseRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Quantity    int             `json:"quantity" validate:"omitempty,gte=1,lte=10000"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	ReferenceID string          `json:"referenceId" validate:"max=64"`
}

type paymentIntentRequest struct {
	Amount      decimal.Decimal   `json:"amount"`
	OrderNumber string            `json:"orderNumber" validate:"required,max=64"`
	Purpose     string            `json:"purpose" validate:"omitempty,oneof=DEPOSIT PURCHASE"`
	Quantity    int               `json:"quantity" validate:"omitempty,gte=1,lte=10000"`
	UnitPrice   decimal.Decimal   `json:"unitPrice"`
	CardInfo    *models.CardInfo  `json:"cardInfo" validate:"required"`
	BuyerInfo   *models.BuyerInfo `json:"buyerInfo" validate:"required"`
}

// Deposit funds the dealer account from a card
// @Summary Deposit to dealer balance
// @Description Start a card deposit; returns the 3-D Secure redirect document or, when no step-up is needed, the settled balance
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param deposit body depositRequest true "Deposit request"
// @Success 200 {object} services.IntentResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Router /deposit [post]
func (h *PaymentHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	dealerID, ok := dealerFromContext(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = models.MethodCard
	}

	result, err := h.service.StartDeposit(&services.DepositRequest{
		DealerID:      dealerID,
		OrderNumber:   req.OrderNumber,
		Amount:        req.Amount,
		Description:   req.Description,
		PaymentMethod: req.PaymentMethod,
		Card:          req.CardInfo,
		Buyer:         req.BuyerInfo,
	})
	if err != nil {
		h.sendPaymentError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// PurchaseFromBalance orders goods against the prepaid balance
// @Summary Purchase from balance
// @Description Debit the dealer balance and complete the purchase atomically; never contacts the gateway
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param purchase body balancePurchaseRequest true "Purchase request"
// @Success 200 {object} services.IntentResult
// @Failure 400 {object} services.ErrorResponse
// @Router /purchase/balance [post]
func (h *PaymentHandler) PurchaseFromBalance(w http.ResponseWriter, r *http.Request) {
	dealerID, ok := dealerFromContext(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req balancePurchaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	quantity, unitPrice := normalizeOrderLine(req.Quantity, req.UnitPrice, req.Amount)

	result, err := h.service.StartPurchase(&services.PurchaseRequest{
		DealerID:      dealerID,
		ReferenceID:   req.ReferenceID,
		Quantity:      quantity,
		UnitPrice:     unitPrice,
		PaymentMethod: models.MethodAccountBalance,
	})
	if err != nil {
		h.sendPaymentError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// CreatePaymentIntent starts a card payment
// @Summary Create a payment intent
// @Description Create a card deposit or purchase intent; returns the redirect document or the gateway payment id
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param intent body paymentIntentRequest true "Payment intent request"
// @Success 200 {object} services.IntentResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 402 {object} services.ErrorResponse
// @Router /payment-intent [post]
func (h *PaymentHandler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	dealerID, ok := dealerFromContext(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req paymentIntentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var result *services.IntentResult
	var err error
	if req.Purpose == models.PurposePurchase {
		quantity, unitPrice := normalizeOrderLine(req.Quantity, req.UnitPrice, req.Amount)
		result, err = h.service.StartPurchase(&services.PurchaseRequest{
			DealerID:      dealerID,
			OrderNumber:   req.OrderNumber,
			Quantity:      quantity,
			UnitPrice:     unitPrice,
			PaymentMethod: models.MethodCard,
			Card:          req.CardInfo,
			Buyer:         req.BuyerInfo,
		})
	} else {
		result, err = h.service.StartDeposit(&services.DepositRequest{
			DealerID:      dealerID,
			OrderNumber:   req.OrderNumber,
			Amount:        req.Amount,
			PaymentMethod: models.MethodCard,
			Card:          req.CardInfo,
			Buyer:         req.BuyerInfo,
		})
	}
	if err != nil {
		h.sendPaymentError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// GatewayCallback receives the processor webhook
// @Summary Gateway callback
// @Description Asynchronous 3-D Secure result; redirects the browser to the payment result page
// @Tags payments
// @Accept json
// @Accept x-www-form-urlencoded
// @Success 303
// @Failure 400 {object} services.ErrorResponse
// @Router /payments/callback [post]
func (h *PaymentHandler) GatewayCallback(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.service.HandleGatewayCallback(r)
	if err != nil {
		if errors.Is(err, gateway.ErrMalformedCallback) {
			services.SendErrorResponse(w, "Malformed callback", http.StatusBadRequest, nil)
			return
		}
		log.Printf("[CALLBACK] processing failed: %v", err)
		services.SendErrorResponse(w, "Callback processing failed", http.StatusInternalServerError, nil)
		return
	}

	// The processor retries on non-2xx/3xx, so unknown and duplicate
	// callbacks still answer with a redirect.
	switch {
	case outcome.Approved:
		redirectResult(w, r, "/payment/success", outcome.OrderNumber, "")
	case outcome.Unknown:
		redirectResult(w, r, "/payment/error", outcome.OrderNumber, "UNKNOWN_ORDER")
	default:
		code := outcome.FailureCode
		if code == "" {
			code = "DECLINED"
		}
		redirectResult(w, r, "/payment/error", outcome.OrderNumber, code)
	}
}

// ExpireIntent fails a stranded intent
// @Summary Expire a payment intent
// @Description Mark a stranded redirect-pending intent as failed
// @Tags payments
// @Produce json
// @Security BearerAuth
// @Param orderNumber path string true "Order number"
// @Success 200 {object} map[string]string
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /payment-intent/{orderNumber}/expire [post]
func (h *PaymentHandler) ExpireIntent(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderNumber")

	if _, ok := h.ownsIntent(w, r, orderNumber); !ok {
		return
	}

	err := h.service.ExpireIntent(orderNumber)
	switch {
	case errors.Is(err, services.ErrUnknownIntent):
		services.SendErrorResponse(w, "Payment intent not found", http.StatusNotFound, nil)
		return
	case errors.Is(err, services.ErrIntentTerminal):
		services.SendErrorResponse(w, "Payment intent already terminal", http.StatusConflict, nil)
		return
	case err != nil:
		services.SendErrorResponse(w, "Failed to expire payment intent", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"orderNumber": orderNumber, "state": models.IntentFailed})
}

// PaymentQR returns a pay-by-link QR code
// @Summary Pay-by-link QR
// @Description QR PNG (base64) encoding the hosted resume URL of a redirect-pending intent
// @Tags payments
// @Produce json
// @Security BearerAuth
// @Param orderNumber path string true "Order number"
// @Success 200 {object} map[string]string
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /payment-intent/{orderNumber}/qr [get]
func (h *PaymentHandler) PaymentQR(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderNumber")

	intent, ok := h.ownsIntent(w, r, orderNumber)
	if !ok {
		return
	}
	if intent.State != models.IntentRedirectPending {
		services.SendErrorResponse(w, "Payment intent is not awaiting authentication", http.StatusConflict, nil)
		return
	}

	qrImage, err := h.qr.GeneratePaymentQR(r.Context(), orderNumber)
	if err != nil {
		log.Printf("[PAYMENT] QR generation failed for %s: %v", orderNumber, err)
		services.SendErrorResponse(w, "Failed to generate QR code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"orderNumber": orderNumber, "qrImage": qrImage})
}

func (h *PaymentHandler) sendPaymentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrInvalidOperation),
		errors.Is(err, services.ErrInsufficientFunds):
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrDuplicateOrder):
		services.SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case errors.Is(err, services.ErrGatewayRejected):
		services.SendErrorResponse(w, err.Error(), http.StatusPaymentRequired, nil)
	default:
		log.Printf("[PAYMENT] request failed: %v", err)
		services.SendErrorResponse(w, "Failed to process payment", http.StatusInternalServerError, nil)
	}
}

// ownsIntent loads the intent and enforces that it belongs to the
// authenticated dealer, answering 401/404 itself. Foreign intents are
// indistinguishable from missing ones.
func (h *PaymentHandler) ownsIntent(w http.ResponseWriter, r *http.Request, orderNumber string) (*models.PaymentIntent, bool) {
	dealerID, ok := dealerFromContext(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return nil, false
	}

	intent, err := h.service.GetIntent(orderNumber)
	if errors.Is(err, services.ErrUnknownIntent) {
		services.SendErrorResponse(w, "Payment intent not found", http.StatusNotFound, nil)
		return nil, false
	}
	if err != nil {
		services.SendErrorResponse(w, "Failed to load payment intent", http.StatusInternalServerError, nil)
		return nil, false
	}
	if intent.DealerID != dealerID {
		services.SendErrorResponse(w, "Payment intent not found", http.StatusNotFound, nil)
		return nil, false
	}
	return intent, true
}

func redirectResult(w http.ResponseWriter, r *http.Request, page, orderNumber, code string) {
	query := url.Values{}
	if orderNumber != "" {
		query.Set("order", orderNumber)
	}
	if code != "" {
		query.Set("code", code)
	}
	http.Redirect(w, r, page+"?"+query.Encode(), http.StatusSeeOther)
}

func normalizeOrderLine(quantity int, unitPrice, amount decimal.Decimal) (int, decimal.Decimal) {
	if quantity == 0 && unitPrice.Sign() == 0 {
		// Plain amount shorthand: one line at the full price.
		return 1, amount
	}
	if quantity == 0 {
		quantity = 1
	}
	return quantity, unitPrice
}

func dealerFromContext(r *http.Request) (string, bool) {
	dealerID, ok := r.Context().Value("dealerID").(string)
	return dealerID, ok && dealerID != ""
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	return true
}
