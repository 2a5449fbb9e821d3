package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/boostpanel/backend/internal/models"
	"github.com/boostpanel/backend/internal/money"
)

const creditedQueueKey = "wallet:credited"

var ErrUserNotFound = errors.New("user not found")

// LedgerService owns every wallet-balance mutation. Request handlers and
// background loops never touch users.balance directly; they go through
// CreditOnce or AdjustBalance, both of which pair the balance write with its
// ledger entry in one database transaction.
type LedgerService struct {
	db    *sql.DB
	redis *redis.Client
	audit *AuditLogger
}

func NewLedgerService(db *sql.DB, redisClient *redis.Client) *LedgerService {
	return &LedgerService{
		db:    db,
		redis: redisClient,
		audit: NewAuditLogger(),
	}
}

// CreditResult reports whether this call moved money or found the work done.
type CreditResult struct {
	Credited   bool    `json:"credited"`
	Already    bool    `json:"already"`
	NewBalance float64 `json:"new_balance,omitempty"`
}

// CreditOptions carries the correlation metadata stamped onto the entry at
// confirmation time.
type CreditOptions struct {
	EventID         string
	EventType       string
	CaptureID       string
	ProviderPayload string
}

const ledgerColumns = `id, user_id, type, status, amount, currency, provider,
	       provider_order_id, provider_capture_id, provider_event_id,
	       balance_before, balance_after, confirmed_at, meta, created_at, updated_at`

// CreatePendingEntry writes a pending ledger entry. Nothing is credited here;
// the entry is the durable intent a later confirmation resolves.
func (ls *LedgerService) CreatePendingEntry(userID, entryType string, amount float64, currency, provider, meta string) (*models.LedgerEntry, error) {
	amount = money.Round2(amount)
	if amount <= 0 {
		return nil, errors.New("amount must be positive")
	}
	if meta == "" {
		meta = "{}"
	}

	now := time.Now()
	entry := &models.LedgerEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      entryType,
		Status:    models.EntryStatusPending,
		Amount:    amount,
		Currency:  currency,
		Provider:  provider,
		Meta:      meta,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := ls.db.Exec(`
		INSERT INTO ledger_entries
		(id, user_id, type, status, amount, currency, provider,
		 provider_order_id, provider_capture_id, provider_event_id, meta, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '', '', '', $8, $9, $9)
	`, entry.ID, entry.UserID, entry.Type, entry.Status, entry.Amount,
		entry.Currency, entry.Provider, entry.Meta, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger entry: %w", err)
	}

	return entry, nil
}

// SetProviderOrderID stamps the provider session id onto a pending entry.
func (ls *LedgerService) SetProviderOrderID(entryID, providerOrderID string) error {
	_, err := ls.db.Exec(`
		UPDATE ledger_entries SET provider_order_id = $1, updated_at = $2 WHERE id = $3
	`, providerOrderID, time.Now(), entryID)
	return err
}

// FindByID fetches one entry.
func (ls *LedgerService) FindByID(entryID string) (*models.LedgerEntry, error) {
	row := ls.db.QueryRow(`
		SELECT `+ledgerColumns+`
		FROM ledger_entries WHERE id = $1
	`, entryID)
	return scanLedgerEntry(row)
}

// FindByEventID looks an entry up by its provider event id. Empty keys never
// match: the idempotency indexes exclude the empty string.
func (ls *LedgerService) FindByEventID(provider, eventID string) (*models.LedgerEntry, error) {
	if eventID == "" {
		return nil, nil
	}
	row := ls.db.QueryRow(`
		SELECT `+ledgerColumns+`
		FROM ledger_entries WHERE provider = $1 AND provider_event_id = $2
	`, provider, eventID)
	return noRowsAsNil(scanLedgerEntry(row))
}

// FindByOrderID looks an entry up by provider session/order id and type.
func (ls *LedgerService) FindByOrderID(provider, providerOrderID, entryType string) (*models.LedgerEntry, error) {
	if providerOrderID == "" {
		return nil, nil
	}
	row := ls.db.QueryRow(`
		SELECT `+ledgerColumns+`
		FROM ledger_entries WHERE provider = $1 AND provider_order_id = $2 AND type = $3
	`, provider, providerOrderID, entryType)
	return noRowsAsNil(scanLedgerEntry(row))
}

// FindByCaptureID looks an entry up by provider capture id and type.
func (ls *LedgerService) FindByCaptureID(provider, captureID, entryType string) (*models.LedgerEntry, error) {
	if captureID == "" {
		return nil, nil
	}
	row := ls.db.QueryRow(`
		SELECT `+ledgerColumns+`
		FROM ledger_entries WHERE provider = $1 AND provider_capture_id = $2 AND type = $3
	`, provider, captureID, entryType)
	return noRowsAsNil(scanLedgerEntry(row))
}

// ListEntries returns a user's wallet history, newest first.
func (ls *LedgerService) ListEntries(userID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := ls.db.Query(`
		SELECT `+ledgerColumns+`
		FROM ledger_entries WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// CreditOnce is the single choke-point that turns a pending entry into wallet
// money. The conditional confirm and the balance increment run in one
// database transaction: either both happen or neither does, and only the
// caller whose conditional update hit a row performs the increment. Every
// other caller, regardless of interleaving, gets already=true.
//
// Expired and failed entries are deliberately still creditable here: a
// reconciliation sweep that finds an expired top-up paid upstream must be
// able to resolve it.
func (ls *LedgerService) CreditOnce(entry *models.LedgerEntry, opts CreditOptions) (*CreditResult, error) {
	if entry == nil {
		return nil, errors.New("nil ledger entry")
	}
	if entry.Status == models.EntryStatusConfirmed {
		return &CreditResult{Already: true}, nil
	}

	tx, err := ls.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var balanceBefore float64
	err = tx.QueryRow(`
		SELECT balance FROM users WHERE id = $1 FOR UPDATE
	`, entry.UserID).Scan(&balanceBefore)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}

	delta := money.Round2(money.SignedAmount(entry))
	balanceAfter := money.Round2(balanceBefore + delta)
	if balanceAfter < 0 {
		return nil, fmt.Errorf("credit would drive balance negative: %.2f", balanceAfter)
	}

	now := time.Now()
	applied, err := ls.confirmIfPendingTx(tx, entry.ID, opts, balanceBefore, balanceAfter, now)
	if err != nil {
		ls.audit.LogError(entry.ID, entry.UserID, err)
		return nil, err
	}
	if !applied {
		// Another caller won the transition. Success-equivalent.
		return &CreditResult{Already: true}, nil
	}

	if _, err := tx.Exec(`
		UPDATE users SET balance = $1, updated_at = $2 WHERE id = $3
	`, balanceAfter, now, entry.UserID); err != nil {
		err = fmt.Errorf("failed to credit wallet: %w", err)
		ls.audit.LogError(entry.ID, entry.UserID, err)
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		err = fmt.Errorf("failed to commit credit: %w", err)
		ls.audit.LogError(entry.ID, entry.UserID, err)
		return nil, err
	}

	entry.Status = models.EntryStatusConfirmed
	entry.ConfirmedAt = &now
	ls.audit.LogCredit(entry.ID, entry.UserID, entry.Provider, delta, balanceAfter)
	ls.notifyCredited(entry, balanceAfter)

	return &CreditResult{Credited: true, NewBalance: balanceAfter}, nil
}

// confirmIfPendingTx is the atomic conditional transition. The WHERE clause
// is the serialization point: exactly one caller ever sees RowsAffected == 1
// for a given entry.
func (ls *LedgerService) confirmIfPendingTx(tx *sql.Tx, entryID string, opts CreditOptions, balanceBefore, balanceAfter float64, now time.Time) (bool, error) {
	result, err := tx.Exec(`
		UPDATE ledger_entries
		SET status = 'confirmed', confirmed_at = $2, updated_at = $2,
		    balance_before = $3, balance_after = $4,
		    provider_capture_id = CASE WHEN provider_capture_id = '' THEN $5 ELSE provider_capture_id END,
		    provider_event_id = CASE WHEN provider_event_id = '' THEN $6 ELSE provider_event_id END,
		    meta = CASE WHEN $7 = '' THEN meta ELSE $7 END
		WHERE id = $1 AND status <> 'confirmed'
	`, entryID, now, balanceBefore, balanceAfter, opts.CaptureID, opts.EventID, opts.ProviderPayload)
	if err != nil {
		return false, fmt.Errorf("failed to confirm entry: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// MarkFailed moves a non-confirmed entry to failed with a diagnostic.
func (ls *LedgerService) MarkFailed(entryID, reason string) error {
	_, err := ls.db.Exec(`
		UPDATE ledger_entries
		SET status = 'failed', meta = jsonb_set(meta, '{error}', to_jsonb($1::text)), updated_at = $2
		WHERE id = $3 AND status <> 'confirmed'
	`, truncateError(reason), time.Now(), entryID)
	return err
}

// ExpireStale marks pending top-ups older than the threshold expired. The
// reconciliation sweep can still confirm them later if the provider reports
// them paid.
func (ls *LedgerService) ExpireStale(olderThan time.Duration) (int64, error) {
	result, err := ls.db.Exec(`
		UPDATE ledger_entries SET status = 'expired', updated_at = $1
		WHERE status = 'pending' AND type = 'topup' AND created_at < $2
	`, time.Now(), time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	expired, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		log.Printf("[LEDGER] Expired %d stale pending top-up entries", expired)
	}
	return expired, nil
}

// AdjustBalance is the explicit admin path: a confirmed adjustment entry and
// the balance change written as one atomic unit. Amount may be negative and
// is stored signed, so the entry's amount always equals the balance delta.
func (ls *LedgerService) AdjustBalance(userID string, amount float64, currency, note, adminID string) (*models.LedgerEntry, error) {
	amount = money.Round2(amount)
	if amount == 0 {
		return nil, errors.New("adjustment amount must be non-zero")
	}

	tx, err := ls.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var balanceBefore float64
	err = tx.QueryRow(`
		SELECT balance FROM users WHERE id = $1 FOR UPDATE
	`, userID).Scan(&balanceBefore)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}

	balanceAfter := money.Round2(balanceBefore + amount)
	if balanceAfter < 0 {
		return nil, fmt.Errorf("adjustment would drive balance negative: %.2f", balanceAfter)
	}

	meta, _ := json.Marshal(map[string]string{"note": note, "admin_id": adminID})
	now := time.Now()
	entry := &models.LedgerEntry{
		ID:            uuid.New().String(),
		UserID:        userID,
		Type:          models.EntryTypeAdjustment,
		Status:        models.EntryStatusConfirmed,
		Amount:        amount,
		Currency:      currency,
		Provider:      models.ProviderInternal,
		BalanceBefore: &balanceBefore,
		BalanceAfter:  &balanceAfter,
		ConfirmedAt:   &now,
		Meta:          string(meta),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if _, err := tx.Exec(`
		INSERT INTO ledger_entries
		(id, user_id, type, status, amount, currency, provider,
		 provider_order_id, provider_capture_id, provider_event_id,
		 balance_before, balance_after, confirmed_at, meta, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '', '', '', $8, $9, $10, $11, $10, $10)
	`, entry.ID, entry.UserID, entry.Type, entry.Status, entry.Amount, entry.Currency,
		entry.Provider, balanceBefore, balanceAfter, now, entry.Meta); err != nil {
		return nil, fmt.Errorf("failed to write adjustment entry: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE users SET balance = $1, updated_at = $2 WHERE id = $3
	`, balanceAfter, now, userID); err != nil {
		return nil, fmt.Errorf("failed to adjust balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit adjustment: %w", err)
	}

	ls.audit.LogCredit(entry.ID, userID, models.ProviderInternal, amount, balanceAfter)
	return entry, nil
}

// SumConfirmed sums the signed amounts of all confirmed entries for a user.
// Used by the admin audit surface to check balance-ledger consistency.
func (ls *LedgerService) SumConfirmed(userID string) (float64, error) {
	var total float64
	err := ls.db.QueryRow(`
		SELECT COALESCE(SUM(CASE
			WHEN type = 'adjustment' THEN amount
			WHEN type IN ('order', 'order_debit') THEN -ABS(amount)
			ELSE ABS(amount) END), 0)
		FROM ledger_entries WHERE user_id = $1 AND status = 'confirmed'
	`, userID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return money.Round2(total), nil
}

func (ls *LedgerService) notifyCredited(entry *models.LedgerEntry, balanceAfter float64) {
	if ls.redis == nil {
		return
	}
	payload, err := json.Marshal(map[string]interface{}{
		"entry_id":      entry.ID,
		"user_id":       entry.UserID,
		"type":          entry.Type,
		"provider":      entry.Provider,
		"amount":        entry.Amount,
		"balance_after": balanceAfter,
	})
	if err != nil {
		return
	}
	if err := ls.redis.RPush(context.Background(), creditedQueueKey, payload).Err(); err != nil {
		log.Printf("[LEDGER] Failed to queue credited event for %s: %v", entry.ID, err)
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLedgerEntry(row rowScanner) (*models.LedgerEntry, error) {
	entry := &models.LedgerEntry{}
	var balanceBefore, balanceAfter sql.NullFloat64
	var confirmedAt sql.NullTime

	err := row.Scan(
		&entry.ID, &entry.UserID, &entry.Type, &entry.Status, &entry.Amount,
		&entry.Currency, &entry.Provider, &entry.ProviderOrderID,
		&entry.ProviderCaptureID, &entry.ProviderEventID,
		&balanceBefore, &balanceAfter, &confirmedAt, &entry.Meta,
		&entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if balanceBefore.Valid {
		entry.BalanceBefore = &balanceBefore.Float64
	}
	if balanceAfter.Valid {
		entry.BalanceAfter = &balanceAfter.Float64
	}
	if confirmedAt.Valid {
		t := confirmedAt.Time
		entry.ConfirmedAt = &t
	}
	return entry, nil
}

func noRowsAsNil(entry *models.LedgerEntry, err error) (*models.LedgerEntry, error) {
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return entry, err
}

func truncateError(msg string) string {
	const maxLen = 256
	if len(msg) > maxLen {
		return msg[:maxLen]
	}
	return msg
}
