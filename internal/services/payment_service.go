package services

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/tapvizit/backend/internal/gateway"
	"github.com/tapvizit/backend/internal/models"
)

// PaymentService drives a single deposit or purchase from intent creation
// through settlement. It exclusively owns PaymentIntent and Purchase state
// transitions and is the only caller of the ledger's commit operations.
type PaymentService struct {
	db           *sql.DB
	ledger       *LedgerService
	gateway      gateway.Client
	provisioning *ProvisioningService
}

func NewPaymentService(db *sql.DB, ledger *LedgerService, gw gateway.Client, provisioning *ProvisioningService) *PaymentService {
	return &PaymentService{
		db:           db,
		ledger:       ledger,
		gateway:      gw,
		provisioning: provisioning,
	}
}

// DepositRequest funds a dealer account. Deposits must come from outside
// the account, so the only valid method is CARD.
type DepositRequest struct {
	DealerID      string
	OrderNumber   string
	Amount        decimal.Decimal
	Description   string
	PaymentMethod string
	Card          *models.CardInfo
	Buyer         *models.BuyerInfo
}

// PurchaseRequest orders goods, paid from balance or by card.
type PurchaseRequest struct {
	DealerID      string
	OrderNumber   string
	ReferenceID   string
	Quantity      int
	UnitPrice     decimal.Decimal
	PaymentMethod string
	Card          *models.CardInfo
	Buyer         *models.BuyerInfo
}

// IntentResult reports how far a monetary intent got within this request.
type IntentResult struct {
	OrderNumber      string          `json:"orderNumber,omitempty"`
	State            string          `json:"state"`
	RedirectHTML     string          `json:"redirectHtml,omitempty"`
	GatewayPaymentID string          `json:"gatewayPaymentId,omitempty"`
	NewBalance       decimal.Decimal `json:"newBalance"`
	PurchaseID       string          `json:"purchaseId,omitempty"`
	PurchaseStatus   string          `json:"purchaseStatus,omitempty"`
}

// CallbackOutcome tells the HTTP layer where to send the browser after the
// processor's callback has been applied.
type CallbackOutcome struct {
	OrderNumber string
	Approved    bool
	Duplicate   bool
	Unknown     bool
	FailureCode string
}

// StartDeposit creates a card deposit intent. On immediate authorization
// (sandbox, or cards not requiring step-up) the ledger credit is committed
// before returning; otherwise the caller gets the redirect document and the
// intent waits for the callback.
func (s *PaymentService) StartDeposit(req *DepositRequest) (*IntentResult, error) {
	if req.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.PaymentMethod != models.MethodCard {
		// Deposits fund the account; drawing them from the account is
		// meaningless.
		return nil, ErrInvalidOperation
	}

	if err := s.createIntent(req.DealerID, req.OrderNumber, req.Amount, models.PurposeDeposit); err != nil {
		return nil, err
	}

	return s.runCardAuthorization(req.OrderNumber, req.DealerID, req.Amount, models.PurposeDeposit, req.Card, req.Buyer)
}

// StartPurchase orders goods. The balance path debits and completes the
// purchase in one atomic step and never touches the gateway; the card path
// mirrors deposits, debiting only on settlement.
func (s *PaymentService) StartPurchase(req *PurchaseRequest) (*IntentResult, error) {
	if req.Quantity <= 0 || req.UnitPrice.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	total := req.UnitPrice.Mul(decimal.NewFromInt(int64(req.Quantity)))

	switch req.PaymentMethod {
	case models.MethodAccountBalance:
		return s.purchaseFromBalance(req, total)
	case models.MethodCard:
		if err := s.createIntent(req.DealerID, req.OrderNumber, total, models.PurposePurchase); err != nil {
			return nil, err
		}
		if err := s.insertPurchase(req, total, models.PurchasePending); err != nil {
			return nil, err
		}
		return s.runCardAuthorization(req.OrderNumber, req.DealerID, total, models.PurposePurchase, req.Card, req.Buyer)
	default:
		return nil, ErrInvalidOperation
	}
}

func (s *PaymentService) purchaseFromBalance(req *PurchaseRequest, total decimal.Decimal) (*IntentResult, error) {
	purchaseID := uuid.NewString()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Debit and purchase creation are one atomic unit; an insufficient
	// balance rolls back with no state change.
	newBalance, err := s.ledger.DebitTx(tx, req.DealerID, total, "purchase from balance", req.ReferenceID)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(`
		INSERT INTO purchases (id, dealer_id, order_number, quantity, unit_price, total_amount, status, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, NOW(), NOW())`,
		purchaseID, req.DealerID, req.ReferenceID, req.Quantity,
		req.UnitPrice.String(), total.String(), models.PurchaseCompleted)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.provisioning.QueueCompletedPurchase(purchaseID, req.DealerID, req.ReferenceID, total)

	return &IntentResult{
		State:          models.IntentSettled,
		NewBalance:     newBalance,
		PurchaseID:     purchaseID,
		PurchaseStatus: models.PurchaseCompleted,
	}, nil
}

// runCardAuthorization drives DRAFT -> AWAITING_GATEWAY and then whichever
// of REDIRECT_PENDING, SETTLED or FAILED the processor's synchronous answer
// dictates. No database lock is held across the network call.
func (s *PaymentService) runCardAuthorization(orderNumber, dealerID string, amount decimal.Decimal, purpose string, card *models.CardInfo, buyer *models.BuyerInfo) (*IntentResult, error) {
	intent := &models.PaymentIntent{
		OrderNumber: orderNumber,
		DealerID:    dealerID,
		Amount:      amount,
		Purpose:     purpose,
	}

	if _, err := s.transitionIntent(s.db, orderNumber, models.IntentAwaitingGateway, "", ""); err != nil {
		return nil, err
	}

	signed, err := s.gateway.BuildAuthorizationRequest(intent, card, buyer)
	if err != nil {
		return nil, err
	}

	result, err := s.gateway.SubmitAuthorization(signed)
	if err != nil {
		return nil, err
	}

	switch result.Status {
	case gateway.StatusRejected:
		if _, err := s.transitionIntent(s.db, orderNumber, models.IntentFailed, "", result.ErrorCode); err != nil {
			return nil, err
		}
		if purpose == models.PurposePurchase {
			if err := s.failPurchase(s.db, orderNumber, "gateway rejected authorization: "+result.ErrorCode); err != nil {
				return nil, err
			}
		}
		log.Printf("[PAYMENT] gateway rejected intent %s: %s %s", orderNumber, result.ErrorCode, result.ErrorMessage)
		return nil, fmt.Errorf("%w: %s", ErrGatewayRejected, result.ErrorCode)

	case gateway.StatusRedirectRequired:
		if _, err := s.transitionIntent(s.db, orderNumber, models.IntentRedirectPending, result.GatewayPaymentID, ""); err != nil {
			return nil, err
		}
		return &IntentResult{
			OrderNumber:      orderNumber,
			State:            models.IntentRedirectPending,
			RedirectHTML:     result.RedirectHTML,
			GatewayPaymentID: result.GatewayPaymentID,
		}, nil

	case gateway.StatusAuthorized:
		return s.settleAuthorized(intent, result.GatewayPaymentID)

	default:
		return nil, fmt.Errorf("gateway returned unknown status %q", result.Status)
	}
}

func (s *PaymentService) settleAuthorized(intent *models.PaymentIntent, gatewayPaymentID string) (*IntentResult, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	settled, err := s.settleTx(tx, intent, gatewayPaymentID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.afterSettlement(intent, settled)

	return &IntentResult{
		OrderNumber:      intent.OrderNumber,
		State:            models.IntentSettled,
		GatewayPaymentID: gatewayPaymentID,
		NewBalance:       settled.newBalance,
		PurchaseID:       settled.purchaseID,
		PurchaseStatus:   settled.purchaseStatus,
	}, nil
}

// HandleGatewayCallback applies the processor's asynchronous answer. It is
// safe under at-least-once delivery: unknown or already-terminal intents
// are logged no-ops so the processor stops retrying.
func (s *PaymentService) HandleGatewayCallback(r *http.Request) (*CallbackOutcome, error) {
	cb, err := s.gateway.ParseCallback(r)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	intent := &models.PaymentIntent{OrderNumber: cb.ConversationID}
	var amountStr string
	err = tx.QueryRow(`
		SELECT dealer_id, amount::text, purpose, state
		FROM payment_intents
		WHERE order_number = $1
		FOR UPDATE`,
		cb.ConversationID).Scan(&intent.DealerID, &amountStr, &intent.Purpose, &intent.State)
	if err == sql.ErrNoRows {
		log.Printf("[CALLBACK] intent %s not found, dropping callback", cb.ConversationID)
		return &CallbackOutcome{OrderNumber: cb.ConversationID, Unknown: true}, nil
	}
	if err != nil {
		return nil, err
	}

	if intent.Terminal() {
		log.Printf("[CALLBACK] intent %s already %s, dropping duplicate callback", cb.ConversationID, intent.State)
		return &CallbackOutcome{OrderNumber: cb.ConversationID, Duplicate: true, Approved: intent.State == models.IntentSettled}, nil
	}

	intent.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("intent %s has malformed amount: %w", cb.ConversationID, err)
	}

	if !cb.Approved {
		if _, err := s.transitionIntentTx(tx, cb.ConversationID, models.IntentFailed, cb.PaymentID, cb.StatusCode); err != nil {
			return nil, err
		}
		if intent.Purpose == models.PurposePurchase {
			if err := s.failPurchase(tx, cb.ConversationID, "gateway declined with status "+cb.StatusCode); err != nil {
				return nil, err
			}
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		log.Printf("[CALLBACK] intent %s failed with status code %s", cb.ConversationID, cb.StatusCode)
		return &CallbackOutcome{OrderNumber: cb.ConversationID, FailureCode: cb.StatusCode}, nil
	}

	settled, err := s.settleTx(tx, intent, cb.PaymentID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.afterSettlement(intent, settled)

	return &CallbackOutcome{OrderNumber: cb.ConversationID, Approved: true}, nil
}

type settlement struct {
	newBalance     decimal.Decimal
	purchaseID     string
	purchaseStatus string
}

// settleTx flips the intent terminal and commits the ledger mutation in the
// caller's transaction, so the two can never diverge.
func (s *PaymentService) settleTx(tx *sql.Tx, intent *models.PaymentIntent, gatewayPaymentID string) (*settlement, error) {
	moved, err := s.transitionIntentTx(tx, intent.OrderNumber, models.IntentSettled, gatewayPaymentID, "")
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, ErrIntentTerminal
	}

	if intent.Purpose == models.PurposeDeposit {
		newBalance, err := s.ledger.CreditTx(tx, intent.DealerID, intent.Amount, models.EntryDeposit, "card deposit", intent.OrderNumber)
		if err != nil {
			return nil, err
		}
		return &settlement{newBalance: newBalance}, nil
	}

	result := &settlement{}
	newBalance, err := s.ledger.DebitTx(tx, intent.DealerID, intent.Amount, "card purchase", intent.OrderNumber)
	if err != nil {
		// Defensive: the processor captured the money, so the intent stays
		// settled and the discrepancy is parked on the purchase for manual
		// review instead of being silently retried.
		log.Printf("[PAYMENT] ledger debit failed after authorization for %s: %v", intent.OrderNumber, err)
		result.purchaseStatus = models.PurchaseFailed
		if err := s.failPurchase(tx, intent.OrderNumber, "ledger debit failed after authorization: "+err.Error()); err != nil {
			return nil, err
		}
		return result, nil
	}

	result.newBalance = newBalance
	result.purchaseStatus = models.PurchaseCompleted
	err = tx.QueryRow(`
		UPDATE purchases
		SET status = $1, updated_at = NOW()
		WHERE order_number = $2
		RETURNING id`,
		models.PurchaseCompleted, intent.OrderNumber).Scan(&result.purchaseID)
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *PaymentService) afterSettlement(intent *models.PaymentIntent, settled *settlement) {
	if intent.Purpose == models.PurposePurchase && settled.purchaseStatus == models.PurchaseCompleted {
		s.provisioning.QueueCompletedPurchase(settled.purchaseID, intent.DealerID, intent.OrderNumber, intent.Amount)
	}
}

// ExpireIntent fails a single stranded intent, e.g. from support tooling.
func (s *PaymentService) ExpireIntent(orderNumber string) error {
	moved, err := s.transitionIntent(s.db, orderNumber, models.IntentFailed, "", "EXPIRED")
	if err != nil {
		return err
	}
	if moved {
		if err := s.failPurchase(s.db, orderNumber, "payment intent expired"); err != nil {
			return err
		}
		log.Printf("[PAYMENT] intent %s expired", orderNumber)
		return nil
	}

	var state string
	err = s.db.QueryRow(`SELECT state FROM payment_intents WHERE order_number = $1`, orderNumber).Scan(&state)
	if err == sql.ErrNoRows {
		return ErrUnknownIntent
	}
	if err != nil {
		return err
	}
	return ErrIntentTerminal
}

// ExpireStaleIntents fails every intent stuck in AWAITING_GATEWAY or
// REDIRECT_PENDING for longer than maxAge and parks their pending purchases.
// Expired intents are excluded from callback settlement by the terminal
// guard in transitionIntentTx.
func (s *PaymentService) ExpireStaleIntents(maxAge time.Duration) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		UPDATE payment_intents
		SET state = $1, failure_reason = 'EXPIRED', updated_at = NOW()
		WHERE state IN ($2, $3) AND created_at < $4
		RETURNING order_number`,
		models.IntentFailed, models.IntentAwaitingGateway, models.IntentRedirectPending,
		time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}

	expired := []string{}
	for rows.Next() {
		var orderNumber string
		if err := rows.Scan(&orderNumber); err != nil {
			rows.Close()
			return 0, err
		}
		expired = append(expired, orderNumber)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if len(expired) > 0 {
		_, err = tx.Exec(`
			UPDATE purchases
			SET status = $1, review_note = 'payment intent expired', updated_at = NOW()
			WHERE status = $2 AND order_number = ANY($3)`,
			models.PurchaseFailed, models.PurchasePending, pq.Array(expired))
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	if len(expired) > 0 {
		log.Printf("[PAYMENT] expired %d stranded payment intents", len(expired))
	}
	return int64(len(expired)), nil
}

// GetIntent loads a single intent, for the pay-by-link and expiry surfaces.
func (s *PaymentService) GetIntent(orderNumber string) (*models.PaymentIntent, error) {
	intent := &models.PaymentIntent{}
	var amountStr string
	var gatewayPaymentID, failureReason sql.NullString
	err := s.db.QueryRow(`
		SELECT order_number, dealer_id, amount::text, purpose, state, gateway_payment_id, failure_reason, created_at, updated_at
		FROM payment_intents
		WHERE order_number = $1`,
		orderNumber).Scan(&intent.OrderNumber, &intent.DealerID, &amountStr, &intent.Purpose,
		&intent.State, &gatewayPaymentID, &failureReason, &intent.CreatedAt, &intent.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUnknownIntent
	}
	if err != nil {
		return nil, err
	}
	intent.GatewayPaymentID = gatewayPaymentID.String
	intent.FailureReason = failureReason.String
	intent.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("intent %s has malformed amount: %w", orderNumber, err)
	}
	return intent, nil
}

func (s *PaymentService) createIntent(dealerID, orderNumber string, amount decimal.Decimal, purpose string) error {
	if orderNumber == "" {
		return errors.New("order number is required")
	}

	_, err := s.db.Exec(`
		INSERT INTO payment_intents (order_number, dealer_id, amount, purpose, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())`,
		orderNumber, dealerID, amount.String(), purpose, models.IntentDraft)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s, resubmit with a fresh one", ErrDuplicateOrder, orderNumber)
	}
	return err
}

func (s *PaymentService) insertPurchase(req *PurchaseRequest, total decimal.Decimal, status string) error {
	_, err := s.db.Exec(`
		INSERT INTO purchases (id, dealer_id, order_number, quantity, unit_price, total_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())`,
		uuid.NewString(), req.DealerID, req.OrderNumber, req.Quantity,
		req.UnitPrice.String(), total.String(), status)
	return err
}

// failPurchase parks a still-pending purchase with the failure note. The
// status guard keeps it from touching completed purchases and makes repeated
// failure paths (decline then expiry) idempotent.
func (s *PaymentService) failPurchase(q execQuerier, orderNumber, note string) error {
	_, err := q.Exec(`
		UPDATE purchases
		SET status = $1, review_note = $2, updated_at = NOW()
		WHERE order_number = $3 AND status = $4`,
		models.PurchaseFailed, note, orderNumber, models.PurchasePending)
	return err
}

// transitionIntent moves an intent to the given state unless it is already
// terminal. It reports whether a row actually moved, which is how duplicate
// callbacks and late callbacks for expired intents become no-ops.
func (s *PaymentService) transitionIntent(q execQuerier, orderNumber, state, gatewayPaymentID, failureReason string) (bool, error) {
	result, err := q.Exec(`
		UPDATE payment_intents
		SET state = $1,
		    gateway_payment_id = COALESCE(NULLIF($2, ''), gateway_payment_id),
		    failure_reason = NULLIF($3, ''),
		    updated_at = NOW()
		WHERE order_number = $4 AND state NOT IN ($5, $6)`,
		state, gatewayPaymentID, failureReason, orderNumber,
		models.IntentSettled, models.IntentFailed)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

func (s *PaymentService) transitionIntentTx(tx *sql.Tx, orderNumber, state, gatewayPaymentID, failureReason string) (bool, error) {
	return s.transitionIntent(tx, orderNumber, state, gatewayPaymentID, failureReason)
}
