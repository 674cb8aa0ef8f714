package services

import "errors"

// Sentinel errors returned by the ledger store and the purchase
// orchestrator. Handlers map these to HTTP statuses.
var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrInvalidOperation  = errors.New("operation not valid for this payment method")
	ErrUnknownIntent     = errors.New("unknown payment intent")
	ErrIntentTerminal    = errors.New("payment intent already in a terminal state")
	ErrGatewayRejected   = errors.New("payment gateway rejected the authorization")
	ErrDuplicateOrder    = errors.New("order number already used")
)
