package services

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tapvizit/backend/internal/models"
)

// LedgerService exclusively owns Account and LedgerEntry mutation. Every
// balance change appends an entry and updates the materialized balance in
// one database transaction, holding a row lock on the account so that
// concurrent mutations against the same dealer serialize.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// GetBalance returns the dealer's current balance, creating a zero-balance
// account on first access. It never errors for an unknown-but-valid dealer.
func (s *LedgerService) GetBalance(dealerID string) (decimal.Decimal, error) {
	if err := s.ensureAccount(s.db, dealerID); err != nil {
		return decimal.Zero, err
	}

	var balanceStr string
	err := s.db.QueryRow(`
		SELECT balance::text FROM accounts WHERE dealer_id = $1`,
		dealerID).Scan(&balanceStr)
	if err != nil {
		return decimal.Zero, err
	}

	return decimal.NewFromString(balanceStr)
}

// Credit appends a DEPOSIT or REFUND entry and increases the balance.
func (s *LedgerService) Credit(dealerID string, amount decimal.Decimal, kind, description, referenceID string) (decimal.Decimal, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback()

	newBalance, err := s.CreditTx(tx, dealerID, amount, kind, description, referenceID)
	if err != nil {
		return decimal.Zero, err
	}

	return newBalance, tx.Commit()
}

// CreditTx is Credit composed into a caller-owned transaction, so the
// orchestrator can flip an intent terminal and commit the balance mutation
// atomically.
func (s *LedgerService) CreditTx(tx *sql.Tx, dealerID string, amount decimal.Decimal, kind, description, referenceID string) (decimal.Decimal, error) {
	if amount.Sign() <= 0 {
		return decimal.Zero, ErrInvalidAmount
	}
	if kind != models.EntryDeposit && kind != models.EntryRefund {
		return decimal.Zero, fmt.Errorf("ledger credit kind %q not allowed", kind)
	}

	account, err := s.lockAccount(tx, dealerID)
	if err != nil {
		return decimal.Zero, err
	}

	newBalance := account.Balance.Add(amount)

	if err := s.appendEntry(tx, dealerID, kind, amount, description, referenceID); err != nil {
		return decimal.Zero, err
	}

	if err := s.updateBalance(tx, dealerID, newBalance, account.Version); err != nil {
		return decimal.Zero, err
	}

	return newBalance, nil
}

// Debit appends a PURCHASE entry and decreases the balance.
func (s *LedgerService) Debit(dealerID string, amount decimal.Decimal, description, referenceID string) (decimal.Decimal, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback()

	newBalance, err := s.DebitTx(tx, dealerID, amount, description, referenceID)
	if err != nil {
		return decimal.Zero, err
	}

	return newBalance, tx.Commit()
}

// DebitTx is Debit composed into a caller-owned transaction.
func (s *LedgerService) DebitTx(tx *sql.Tx, dealerID string, amount decimal.Decimal, description, referenceID string) (decimal.Decimal, error) {
	if amount.Sign() <= 0 {
		return decimal.Zero, ErrInvalidAmount
	}

	account, err := s.lockAccount(tx, dealerID)
	if err != nil {
		return decimal.Zero, err
	}

	if account.Balance.LessThan(amount) {
		return decimal.Zero, ErrInsufficientFunds
	}

	newBalance := account.Balance.Sub(amount)

	if err := s.appendEntry(tx, dealerID, models.EntryPurchase, amount, description, referenceID); err != nil {
		return decimal.Zero, err
	}

	if err := s.updateBalance(tx, dealerID, newBalance, account.Version); err != nil {
		return decimal.Zero, err
	}

	return newBalance, nil
}

// ListEntries returns the dealer's ledger newest first, restartable via
// offset.
func (s *LedgerService) ListEntries(dealerID string, limit, offset int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(`
		SELECT id, dealer_id, kind, amount::text, description, COALESCE(reference_id, ''), created_at
		FROM ledger_entries
		WHERE dealer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		dealerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var entry models.LedgerEntry
		var amountStr string
		if err := rows.Scan(&entry.ID, &entry.DealerID, &entry.Kind, &amountStr,
			&entry.Description, &entry.ReferenceID, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("ledger entry %d has malformed amount: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

type execQuerier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func (s *LedgerService) ensureAccount(q execQuerier, dealerID string) error {
	_, err := q.Exec(`
		INSERT INTO accounts (dealer_id, balance, version, updated_at)
		VALUES ($1, 0, 1, $2)
		ON CONFLICT (dealer_id) DO NOTHING`,
		dealerID, time.Now())
	return err
}

// lockAccount takes the per-dealer row lock for the remainder of the
// transaction, creating the account first if this is the dealer's initial
// ledger operation.
func (s *LedgerService) lockAccount(tx *sql.Tx, dealerID string) (*models.Account, error) {
	if err := s.ensureAccount(tx, dealerID); err != nil {
		return nil, err
	}

	account := &models.Account{DealerID: dealerID}
	var balanceStr string
	err := tx.QueryRow(`
		SELECT balance::text, version, updated_at
		FROM accounts
		WHERE dealer_id = $1
		FOR UPDATE`,
		dealerID).Scan(&balanceStr, &account.Version, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}

	account.Balance, err = decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("account %s has malformed balance: %w", dealerID, err)
	}

	return account, nil
}

func (s *LedgerService) appendEntry(tx *sql.Tx, dealerID, kind string, amount decimal.Decimal, description, referenceID string) error {
	ref := sql.NullString{String: referenceID, Valid: referenceID != ""}
	_, err := tx.Exec(`
		INSERT INTO ledger_entries (dealer_id, kind, amount, description, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		dealerID, kind, amount.String(), description, ref, time.Now())
	return err
}

func (s *LedgerService) updateBalance(tx *sql.Tx, dealerID string, newBalance decimal.Decimal, version int) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE dealer_id = $3 AND version = $4`,
		newBalance.String(), time.Now(), dealerID, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	// The FOR UPDATE lock should make this impossible; the version guard
	// catches writers that bypassed lockAccount.
	if rowsAffected == 0 {
		log.Printf("[LEDGER] optimistic lock failed for dealer %s at version %d", dealerID, version)
		return fmt.Errorf("optimistic lock failed for dealer %s", dealerID)
	}

	return nil
}
