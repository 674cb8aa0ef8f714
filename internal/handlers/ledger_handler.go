package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tapvizit/backend/internal/services"
)

// LedgerHandler exposes read access to the ledger store. All mutation goes
// through the payment handler.
type LedgerHandler struct {
	ledger *services.LedgerService
}

func NewLedgerHandler(ledger *services.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

// GetBalance returns the authenticated dealer's balance
// @Summary Get balance
// @Description Current prepaid balance of the authenticated dealer
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} services.ErrorResponse
// @Router /balance [get]
func (h *LedgerHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	dealerID, ok := dealerFromContext(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := h.ledger.GetBalance(dealerID)
	if err != nil {
		log.Printf("[LEDGER] balance lookup failed for dealer %s: %v", dealerID, err)
		services.SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"dealerId": dealerID,
		"balance":  balance,
	})
}

// ListOwnEntries lists the authenticated dealer's ledger
// @Summary List own ledger entries
// @Description Ledger entries of the authenticated dealer, newest first
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max entries (default 50, max 100)"
// @Param offset query int false "Offset for restartable paging"
// @Success 200 {object} map[string]interface{}
// @Router /ledger [get]
func (h *LedgerHandler) ListOwnEntries(w http.ResponseWriter, r *http.Request) {
	dealerID, ok := dealerFromContext(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	h.listEntries(w, r, dealerID)
}

// ListDealerEntries lists a dealer's ledger addressed by id
// @Summary List dealer ledger entries
// @Description Ledger entries of the given dealer, newest first; dealers may only address themselves
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Param dealerId path string true "Dealer ID"
// @Param limit query int false "Max entries (default 50, max 100)"
// @Param offset query int false "Offset for restartable paging"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} services.ErrorResponse
// @Router /ledger/{dealerId} [get]
func (h *LedgerHandler) ListDealerEntries(w http.ResponseWriter, r *http.Request) {
	authenticatedID, ok := dealerFromContext(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	dealerID := chi.URLParam(r, "dealerId")
	if dealerID == "" {
		services.SendErrorResponse(w, "dealerId is required", http.StatusBadRequest, nil)
		return
	}
	// No back-office role exists yet, so a dealer token only reads its own
	// ledger.
	if dealerID != authenticatedID {
		services.SendErrorResponse(w, "Forbidden", http.StatusForbidden, nil)
		return
	}

	h.listEntries(w, r, dealerID)
}

func (h *LedgerHandler) listEntries(w http.ResponseWriter, r *http.Request, dealerID string) {
	limit := 50
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil {
			offset = o
		}
	}

	entries, err := h.ledger.ListEntries(dealerID, limit, offset)
	if err != nil {
		log.Printf("[LEDGER] entry listing failed for dealer %s: %v", dealerID, err)
		services.SendErrorResponse(w, "Failed to fetch ledger entries", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"dealerId": dealerID,
		"entries":  entries,
		"count":    len(entries),
	})
}
