// Package store defines the repository contract the reconciliation
// engine runs against, with a Postgres implementation for production
// and an in-memory implementation for tests and dry runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/settled-dev/settled/internal/ledger"
)

// ErrNotFound is returned by single-entity lookups with no match.
var ErrNotFound = errors.New("not found")

// Accounts offers bulk account lookups. Each call is a single query
// regardless of how many keys are passed.
type Accounts interface {
	// ByIDs fetches accounts by primary key. Unknown ids are simply
	// absent from the result.
	ByIDs(ctx context.Context, ids []int64) ([]*ledger.Account, error)

	// ByEmails fetches accounts by email, case-insensitively. Emails
	// with no match are reported in unseen.
	ByEmails(ctx context.Context, emails []string) (found []*ledger.Account, unseen []string, err error)

	// ByFullNames fetches accounts by full name, case-insensitively.
	// Names with no match are reported in unseen; names matching more
	// than one account are reported in ambiguous and excluded from
	// found.
	ByFullNames(ctx context.Context, names []string) (found []*ledger.Account, unseen, ambiguous []string, err error)
}

// Ledger is the storage collaborator for one debt/payment ledger pair.
type Ledger interface {
	Accounts

	// UnpaidDebtsForAccounts returns every debt with unmatched balance
	// for the given accounts, keyed by account id and ordered ascending
	// by timestamp (stable on insertion order). Matched balances are
	// populated from persisted splits.
	UnpaidDebtsForAccounts(ctx context.Context, accountIDs []int64) (map[int64][]*ledger.Debt, error)

	// PaymentSignatureCounts counts committed payments per duplicate
	// signature within the given timestamp window.
	PaymentSignatureCounts(ctx context.Context, from, to time.Time) (map[ledger.Signature]int, error)

	// SavePayments bulk-inserts payments, assigning generated ids.
	SavePayments(ctx context.Context, payments []*ledger.Payment) error

	// SaveDebts bulk-inserts debts, assigning generated ids.
	SaveDebts(ctx context.Context, debts []*ledger.Debt) error

	// SaveSplits bulk-inserts splits. Referenced payments and debts
	// must already be persisted.
	SaveSplits(ctx context.Context, splits []*ledger.Split) error

	// InTransaction runs fn inside a single atomic transaction; a
	// returned error rolls back every write made through the Ledger
	// handed to fn.
	InTransaction(ctx context.Context, fn func(Ledger) error) error
}
