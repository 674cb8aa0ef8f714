package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment intent states. DRAFT, SETTLED and FAILED resolve within a single
// request for balance payments; REDIRECT_PENDING is persisted across the
// asynchronous bank redirect.
const (
	IntentDraft           = "DRAFT"
	IntentAwaitingGateway = "AWAITING_GATEWAY"
	IntentRedirectPending = "REDIRECT_PENDING"
	IntentAuthorized      = "AUTHORIZED"
	IntentSettled         = "SETTLED"
	IntentFailed          = "FAILED"
)

// Intent purposes.
const (
	PurposeDeposit  = "DEPOSIT"
	PurposePurchase = "PURCHASE"
)

// Payment methods.
const (
	MethodAccountBalance = "BALANCE"
	MethodCard           = "CARD"
)

// Purchase statuses.
const (
	PurchasePending   = "PENDING"
	PurchaseCompleted = "COMPLETED"
	PurchaseFailed    = "FAILED"
)

// PaymentIntent tracks one deposit-or-purchase attempt through the external
// gateway. OrderNumber is caller-generated and is the correlation key with
// the processor (its conversationId). An intent transitions to a terminal
// state exactly once; retries get a fresh intent.
type PaymentIntent struct {
	OrderNumber      string          `json:"orderNumber" db:"order_number"`
	DealerID         string          `json:"dealerId" db:"dealer_id"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	Purpose          string          `json:"purpose" db:"purpose"`
	State            string          `json:"state" db:"state"`
	GatewayPaymentID string          `json:"gatewayPaymentId,omitempty" db:"gateway_payment_id"`
	FailureReason    string          `json:"failureReason,omitempty" db:"failure_reason"`
	CreatedAt        time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time       `json:"updatedAt" db:"updated_at"`
}

// Terminal reports whether the intent may no longer transition.
func (pi *PaymentIntent) Terminal() bool {
	return pi.State == IntentSettled || pi.State == IntentFailed
}

// Purchase is an order of goods paid from balance or via a settled card
// intent. The provisioning collaborator reads it once status is COMPLETED.
type Purchase struct {
	ID          string          `json:"id" db:"id"`
	DealerID    string          `json:"dealerId" db:"dealer_id"`
	OrderNumber string          `json:"orderNumber,omitempty" db:"order_number"`
	Quantity    int             `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice" db:"unit_price"`
	TotalAmount decimal.Decimal `json:"totalAmount" db:"total_amount"`
	Status      string          `json:"status" db:"status"`
	ReviewNote  string          `json:"reviewNote,omitempty" db:"review_note"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
}

// CardInfo is forwarded to the gateway, never persisted.
type CardInfo struct {
	HolderName  string `json:"cardHolderName" validate:"required"`
	Number      string `json:"cardNumber" validate:"required,numeric,min=12,max=19"`
	ExpireMonth string `json:"expireMonth" validate:"required,len=2"`
	ExpireYear  string `json:"expireYear" validate:"required,len=4"`
	CVC         string `json:"cvc" validate:"required,min=3,max=4"`
}

// BuyerInfo identifies the paying dealer to the processor.
type BuyerInfo struct {
	ID      string `json:"id" validate:"required"`
	Name    string `json:"name" validate:"required"`
	Surname string `json:"surname" validate:"required"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}
