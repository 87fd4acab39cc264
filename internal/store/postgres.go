package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/settled-dev/settled/internal/ledger"
)

// Postgres implements Ledger on top of a pgx connection pool.
//
// Expected schema:
//
//	accounts(id bigserial, full_name text, email text, hidden_token bytea)
//	debts(id bigserial, account_id bigint, total_amount numeric(19,2),
//	      currency text, ts timestamptz, processed timestamptz,
//	      is_refund boolean, category text)
//	payments(id bigserial, account_id bigint, total_amount numeric(19,2),
//	      currency text, ts timestamptz, processed timestamptz)
//	splits(id bigserial, payment_id bigint, debt_id bigint,
//	      amount numeric(19,2), currency text)
type Postgres struct {
	db  pgxQuerier
	loc *time.Location
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same
// query methods serve inside and outside a transaction.
type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// NewPostgres connects a pool and pings it.
func NewPostgres(ctx context.Context, connString string, loc *time.Location) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Postgres{db: pool, loc: loc}, nil
}

// Close releases the underlying pool. No-op inside a transaction.
func (p *Postgres) Close() {
	if pool, ok := p.db.(*pgxpool.Pool); ok {
		pool.Close()
	}
}

func (p *Postgres) ByIDs(ctx context.Context, ids []int64) ([]*ledger.Account, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id, full_name, email, hidden_token FROM accounts WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching accounts by id: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

func (p *Postgres) ByEmails(ctx context.Context, emails []string) ([]*ledger.Account, []string, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id, full_name, email, hidden_token FROM accounts WHERE lower(email) = ANY($1)`,
		lowerAll(emails))
	if err != nil {
		return nil, nil, fmt.Errorf("fetching accounts by email: %w", err)
	}
	defer rows.Close()
	found, err := scanAccounts(rows)
	if err != nil {
		return nil, nil, err
	}
	seen := make(map[string]bool, len(found))
	for _, a := range found {
		seen[strings.ToLower(a.Email)] = true
	}
	var unseen []string
	for _, email := range emails {
		if !seen[strings.ToLower(email)] {
			unseen = append(unseen, email)
		}
	}
	return found, unseen, nil
}

func (p *Postgres) ByFullNames(ctx context.Context, names []string) ([]*ledger.Account, []string, []string, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id, full_name, email, hidden_token FROM accounts WHERE lower(full_name) = ANY($1)`,
		lowerAll(names))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fetching accounts by name: %w", err)
	}
	defer rows.Close()
	matches, err := scanAccounts(rows)
	if err != nil {
		return nil, nil, nil, err
	}
	byName := make(map[string][]*ledger.Account)
	for _, a := range matches {
		key := strings.ToLower(a.FullName)
		byName[key] = append(byName[key], a)
	}
	var found []*ledger.Account
	var unseen, ambiguous []string
	for _, name := range names {
		ms := byName[strings.ToLower(name)]
		switch len(ms) {
		case 0:
			unseen = append(unseen, name)
		case 1:
			found = append(found, ms[0])
		default:
			ambiguous = append(ambiguous, name)
		}
	}
	return found, unseen, ambiguous, nil
}

func (p *Postgres) UnpaidDebtsForAccounts(ctx context.Context, accountIDs []int64) (map[int64][]*ledger.Debt, error) {
	// matched balance via a subquery rather than a join, so the sum
	// stays per-row correct under multiple annotations
	rows, err := p.db.Query(ctx, `
		SELECT d.id, d.account_id, d.total_amount::text, d.currency,
		       d.ts, d.processed, d.is_refund, d.category,
		       COALESCE((SELECT SUM(s.amount) FROM splits s WHERE s.debt_id = d.id), 0)::text
		FROM debts d
		WHERE d.account_id = ANY($1)
		  AND d.total_amount > COALESCE((SELECT SUM(s.amount) FROM splits s WHERE s.debt_id = d.id), 0)
		ORDER BY d.ts, d.id`, accountIDs)
	if err != nil {
		return nil, fmt.Errorf("fetching unpaid debts: %w", err)
	}
	defer rows.Close()

	result := make(map[int64][]*ledger.Debt)
	for rows.Next() {
		var (
			d                  ledger.Debt
			amountStr, matched string
			currency           string
		)
		if err := rows.Scan(&d.ID, &d.AccountID, &amountStr, &currency,
			&d.Timestamp, &d.Processed, &d.IsRefund, &d.Category, &matched); err != nil {
			return nil, fmt.Errorf("scanning debt: %w", err)
		}
		if err := setAmounts(&d.Entry, amountStr, matched, currency); err != nil {
			return nil, err
		}
		result[d.AccountID] = append(result[d.AccountID], &d)
	}
	return result, rows.Err()
}

func (p *Postgres) PaymentSignatureCounts(ctx context.Context, from, to time.Time) (map[ledger.Signature]int, error) {
	rows, err := p.db.Query(ctx, `
		SELECT (ts AT TIME ZONE $3)::date::text, total_amount::text, account_id, COUNT(*)
		FROM payments
		WHERE ts >= $1 AND ts <= $2
		GROUP BY 1, 2, 3`, from, to, p.loc.String())
	if err != nil {
		return nil, fmt.Errorf("counting payment signatures: %w", err)
	}
	defer rows.Close()

	counts := make(map[ledger.Signature]int)
	for rows.Next() {
		var sig ledger.Signature
		var amountStr string
		var n int
		if err := rows.Scan(&sig.Date, &amountStr, &sig.AccountID, &n); err != nil {
			return nil, fmt.Errorf("scanning signature count: %w", err)
		}
		amt, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("decoding amount %q: %w", amountStr, err)
		}
		sig.Amount = amt.StringFixed(2)
		counts[sig] += n
	}
	return counts, rows.Err()
}

func (p *Postgres) SavePayments(ctx context.Context, payments []*ledger.Payment) error {
	batch := &pgx.Batch{}
	for _, pm := range payments {
		batch.Queue(
			`INSERT INTO payments (account_id, total_amount, currency, ts, processed)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			pm.AccountID, pm.TotalAmount.Amount.StringFixed(2), pm.TotalAmount.Currency,
			pm.Timestamp, pm.Processed)
	}
	results := p.db.SendBatch(ctx, batch)
	defer results.Close()
	for _, pm := range payments {
		if err := results.QueryRow().Scan(&pm.ID); err != nil {
			return fmt.Errorf("inserting payment: %w", err)
		}
	}
	return nil
}

func (p *Postgres) SaveDebts(ctx context.Context, debts []*ledger.Debt) error {
	batch := &pgx.Batch{}
	for _, d := range debts {
		batch.Queue(
			`INSERT INTO debts (account_id, total_amount, currency, ts, processed, is_refund, category)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			d.AccountID, d.TotalAmount.Amount.StringFixed(2), d.TotalAmount.Currency,
			d.Timestamp, d.Processed, d.IsRefund, d.Category)
	}
	results := p.db.SendBatch(ctx, batch)
	defer results.Close()
	for _, d := range debts {
		if err := results.QueryRow().Scan(&d.ID); err != nil {
			return fmt.Errorf("inserting debt: %w", err)
		}
	}
	return nil
}

func (p *Postgres) SaveSplits(ctx context.Context, splits []*ledger.Split) error {
	if len(splits) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(splits))
	for _, s := range splits {
		if s.Payment.ID == 0 || s.Debt.ID == 0 {
			return fmt.Errorf("split references unsaved ledger entries")
		}
		rows = append(rows, []any{s.Payment.ID, s.Debt.ID, s.Amount.Amount.StringFixed(2), s.Amount.Currency})
	}
	_, err := copyFrom(ctx, p.db, "splits",
		[]string{"payment_id", "debt_id", "amount", "currency"}, rows)
	if err != nil {
		return fmt.Errorf("inserting splits: %w", err)
	}
	return nil
}

// copyFrom bulk-loads rows via COPY on both pools and transactions.
func copyFrom(ctx context.Context, db pgxQuerier, table string, columns []string, rows [][]any) (int64, error) {
	type copier interface {
		CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	}
	c, ok := db.(copier)
	if !ok {
		return 0, fmt.Errorf("connection does not support COPY")
	}
	return c.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
}

// InTransaction wraps fn in a database transaction; every repository
// method invoked on the Ledger passed to fn runs on that transaction.
func (p *Postgres) InTransaction(ctx context.Context, fn func(Ledger) error) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Postgres{db: tx, loc: p.loc}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func scanAccounts(rows pgx.Rows) ([]*ledger.Account, error) {
	var accounts []*ledger.Account
	for rows.Next() {
		var a ledger.Account
		var token []byte
		if err := rows.Scan(&a.ID, &a.FullName, &a.Email, &token); err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		copy(a.HiddenToken[:], token)
		accounts = append(accounts, &a)
	}
	return accounts, rows.Err()
}

func setAmounts(e *ledger.Entry, total, matched, currency string) error {
	totalAmt, err := decimal.NewFromString(total)
	if err != nil {
		return fmt.Errorf("decoding amount %q: %w", total, err)
	}
	matchedAmt, err := decimal.NewFromString(matched)
	if err != nil {
		return fmt.Errorf("decoding matched balance %q: %w", matched, err)
	}
	e.TotalAmount.Amount = totalAmt
	e.TotalAmount.Currency = currency
	e.SpoofMatchedBalance(matchedAmt)
	return nil
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
