// Package ledger holds the double-entry domain model and the payment
// apportionment engine: accounts, debt and payment records, the splits
// linking them, and the matching algorithm that allocates payment
// credit against outstanding debts.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/settled-dev/settled/internal/money"
	"github.com/settled-dev/settled/internal/ogm"
)

// Account is one transaction party: the variable side of every debt
// and payment. The fixed side is always the ledger owner.
type Account struct {
	ID       int64
	FullName string
	Email    string

	// HiddenToken seeds the account's payment tracking reference.
	// Never displayed to users.
	HiddenToken [8]byte
}

// TrackingNumber returns the account's formatted payment tracking
// reference for the given discriminator digit.
func (a *Account) TrackingNumber(prefixDigit int) string {
	return ogm.EncodeTracking(prefixDigit, a.ID, a.HiddenToken[1], true)
}

// Entry is one half of a double-entry ledger record, common to debts
// and payments. TotalAmount is immutable once persisted; the matched
// balance changes only through insertion of new splits.
type Entry struct {
	ID          int64
	AccountID   int64
	TotalAmount money.Money
	Timestamp   time.Time
	Processed   time.Time

	matched decimal.Decimal
}

// MatchedBalance is the sum of all split amounts referencing this entry.
func (e *Entry) MatchedBalance() money.Money {
	return money.New(e.matched, e.TotalAmount.Currency)
}

// UnmatchedBalance is TotalAmount minus MatchedBalance. Never negative
// in a consistent ledger.
func (e *Entry) UnmatchedBalance() money.Money {
	return e.TotalAmount.Sub(e.MatchedBalance())
}

// FullyMatched reports whether no unmatched balance remains.
func (e *Entry) FullyMatched() bool {
	return e.UnmatchedBalance().IsZero()
}

// SpoofMatchedBalance overrides the in-memory matched balance without
// touching any persisted split. The apportionment engine uses it to
// keep freshly prepared entries consistent while splits are still
// pending persistence.
func (e *Entry) SpoofMatchedBalance(amount decimal.Decimal) {
	e.matched = amount
}

// Debt is money owed to the ledger owner by an account.
type Debt struct {
	Entry

	// IsRefund marks a synthetic debt created to absorb unmatched
	// payment credit. Refund debts never participate in normal
	// matching.
	IsRefund bool

	// Category names the bookkeeping destination for this debt, e.g.
	// the refund category configured for overpayment absorption.
	Category string
}

// Balance is the portion of the debt not yet paid off.
func (d *Debt) Balance() money.Money { return d.UnmatchedBalance() }

// Paid reports whether the debt is fully paid off.
func (d *Debt) Paid() bool { return d.FullyMatched() }

// Payment is money received from an account.
type Payment struct {
	Entry
}

// CreditRemaining is the portion of the payment not yet applied to any
// debt.
func (p *Payment) CreditRemaining() money.Money { return p.UnmatchedBalance() }

// FullyUsed reports whether the payment's credit is exhausted.
func (p *Payment) FullyUsed() bool { return p.FullyMatched() }

// OutstandingBalance sums the unpaid portion across debts.
func OutstandingBalance(currency string, debts []*Debt) money.Money {
	total := money.Zero(currency)
	for _, d := range debts {
		total = total.Add(d.Balance())
	}
	return total
}

// CreditToRefund sums the unapplied credit across payments.
func CreditToRefund(currency string, payments []*Payment) money.Money {
	total := money.Zero(currency)
	for _, p := range payments {
		total = total.Add(p.CreditRemaining())
	}
	return total
}

// Split is the atomic link between one payment and one debt. Splits
// are created only by the apportionment engine or refund generation,
// and are never mutated or deleted by normal operation.
type Split struct {
	ID      int64
	Payment *Payment
	Debt    *Debt
	Amount  money.Money
}
