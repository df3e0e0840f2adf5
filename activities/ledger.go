package activities

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/fortressi/paysaga"
)

// Ledger accounts posted to for every captured payment.
const (
	AccountCustomerFunds   = "customer_funds"
	AccountMerchantAccount = "merchant_account"
	AccountFXFee           = "fx_fee"
)

// LedgerBook is a double-entry book in SQLite. Each transaction gets one
// debit, one credit and one fee entry; posting it again changes nothing.
type LedgerBook struct {
	db    *sql.DB
	clock func() time.Time
}

// OpenLedgerBook opens (or creates) the book at dsn.
func OpenLedgerBook(dsn string) (*LedgerBook, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)
	return NewLedgerBook(db)
}

// NewLedgerBook wraps an open database and creates the table if needed.
func NewLedgerBook(db *sql.DB) (*LedgerBook, error) {
	b := &LedgerBook{db: db, clock: time.Now}
	query := `
	CREATE TABLE IF NOT EXISTS ledger_entries (
		entry_id       TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL,
		entry_type     TEXT NOT NULL,
		account        TEXT NOT NULL,
		amount         TEXT NOT NULL,
		currency       TEXT NOT NULL,
		posted_at      DATETIME NOT NULL,
		UNIQUE (transaction_id, entry_type)
	);`
	if _, err := db.ExecContext(context.Background(), query); err != nil {
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}
	return b, nil
}

// UpdateLedgers posts the entries of a captured payment.
func (b *LedgerBook) UpdateLedgers(ctx context.Context, in paysaga.LedgerInput) (paysaga.LedgerResult, error) {
	if in.TransactionID == "" {
		return paysaga.LedgerResult{}, paysaga.Invalid("ledger update needs a transaction id")
	}
	entries := []paysaga.LedgerEntry{
		{Type: paysaga.EntryDebit, Account: AccountCustomerFunds, Amount: in.ChargeAmount, Currency: in.ChargeCurrency},
		{Type: paysaga.EntryCredit, Account: AccountMerchantAccount, Amount: in.SettlementAmount, Currency: in.SettlementCurrency},
		{Type: paysaga.EntryFee, Account: AccountFXFee, Amount: in.Fee, Currency: in.SettlementCurrency},
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return paysaga.LedgerResult{}, paysaga.Transient(fmt.Errorf("failed to begin ledger transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	now := b.clock()
	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO ledger_entries
				(entry_id, transaction_id, entry_type, account, amount, currency, posted_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			"le_"+uuid.NewString(), in.TransactionID, string(e.Type), e.Account, e.Amount.String(), e.Currency, now)
		if err != nil {
			return paysaga.LedgerResult{}, fmt.Errorf("failed to post %s entry for %s: %w", e.Type, in.TransactionID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return paysaga.LedgerResult{}, paysaga.Transient(fmt.Errorf("failed to commit ledger transaction: %w", err))
	}

	posted, err := b.Entries(ctx, in.TransactionID)
	if err != nil {
		return paysaga.LedgerResult{}, err
	}
	return paysaga.LedgerResult{Entries: posted}, nil
}

// Entries returns the entries of a transaction in posting order.
func (b *LedgerBook) Entries(ctx context.Context, transactionID string) ([]paysaga.LedgerEntry, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT entry_id, transaction_id, entry_type, account, amount, currency
		FROM ledger_entries WHERE transaction_id = ? ORDER BY rowid`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger for %s: %w", transactionID, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []paysaga.LedgerEntry
	for rows.Next() {
		var (
			e         paysaga.LedgerEntry
			entryType string
			amount    string
		)
		if err := rows.Scan(&e.EntryID, &e.TransactionID, &entryType, &e.Account, &amount, &e.Currency); err != nil {
			return nil, err
		}
		e.Type = paysaga.EntryType(entryType)
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt amount %q in entry %s: %w", amount, e.EntryID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Balance sums the entries of account in currency.
func (b *LedgerBook) Balance(ctx context.Context, account, currency string) (decimal.Decimal, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT amount FROM ledger_entries WHERE account = ? AND currency = ?`, account, currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read balance of %s: %w", account, err)
	}
	defer func() { _ = rows.Close() }()

	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// Close closes the database.
func (b *LedgerBook) Close() error {
	return b.db.Close()
}
