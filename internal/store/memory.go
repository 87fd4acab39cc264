package store

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/settled-dev/settled/internal/ledger"
)

// Memory is an in-memory Ledger used by tests and review-only runs.
// Matched balances are recomputed from stored splits on every fetch,
// so spoofed balances on returned copies never leak back in.
type Memory struct {
	mu       sync.Mutex
	loc      *time.Location
	accounts map[int64]*ledger.Account
	debts    []*ledger.Debt
	payments []*ledger.Payment
	splits   []memSplit

	nextAccount int64
	nextDebt    int64
	nextPayment int64
	nextSplit   int64
}

type memSplit struct {
	id        int64
	paymentID int64
	debtID    int64
	amount    decimal.Decimal
	currency  string
}

// NewMemory creates an empty in-memory store using loc as the local
// timezone for duplicate signatures.
func NewMemory(loc *time.Location) *Memory {
	return &Memory{
		loc:      loc,
		accounts: make(map[int64]*ledger.Account),
	}
}

// AddAccount creates an account with a random hidden token.
func (m *Memory) AddAccount(fullName, email string) *ledger.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextAccount++
	a := &ledger.Account{ID: m.nextAccount, FullName: fullName, Email: email}
	if _, err := rand.Read(a.HiddenToken[:]); err != nil {
		panic(err)
	}
	m.accounts[a.ID] = a
	return a
}

func (m *Memory) ByIDs(_ context.Context, ids []int64) ([]*ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found []*ledger.Account
	for _, id := range ids {
		if a, ok := m.accounts[id]; ok {
			found = append(found, a)
		}
	}
	return found, nil
}

func (m *Memory) ByEmails(_ context.Context, emails []string) ([]*ledger.Account, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byEmail := make(map[string]*ledger.Account)
	for _, a := range m.accounts {
		if a.Email != "" {
			byEmail[strings.ToLower(a.Email)] = a
		}
	}
	var found []*ledger.Account
	var unseen []string
	for _, email := range emails {
		if a, ok := byEmail[strings.ToLower(email)]; ok {
			found = append(found, a)
		} else {
			unseen = append(unseen, email)
		}
	}
	return found, unseen, nil
}

func (m *Memory) ByFullNames(_ context.Context, names []string) ([]*ledger.Account, []string, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byName := make(map[string][]*ledger.Account)
	for _, a := range m.accounts {
		key := strings.ToLower(a.FullName)
		byName[key] = append(byName[key], a)
	}
	var found []*ledger.Account
	var unseen, ambiguous []string
	for _, name := range names {
		matches := byName[strings.ToLower(name)]
		switch len(matches) {
		case 0:
			unseen = append(unseen, name)
		case 1:
			found = append(found, matches[0])
		default:
			ambiguous = append(ambiguous, name)
		}
	}
	return found, unseen, ambiguous, nil
}

func (m *Memory) matchedBalance(debtID, paymentID int64) decimal.Decimal {
	total := decimal.Zero
	for _, s := range m.splits {
		if (debtID != 0 && s.debtID == debtID) || (paymentID != 0 && s.paymentID == paymentID) {
			total = total.Add(s.amount)
		}
	}
	return total
}

func (m *Memory) UnpaidDebtsForAccounts(_ context.Context, accountIDs []int64) (map[int64][]*ledger.Debt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[int64]bool, len(accountIDs))
	for _, id := range accountIDs {
		want[id] = true
	}
	result := make(map[int64][]*ledger.Debt)
	for _, d := range m.debts {
		if !want[d.AccountID] {
			continue
		}
		matched := m.matchedBalance(d.ID, 0)
		if matched.Cmp(d.TotalAmount.Amount) >= 0 {
			continue
		}
		clone := *d
		clone.SpoofMatchedBalance(matched)
		result[d.AccountID] = append(result[d.AccountID], &clone)
	}
	for _, debts := range result {
		sort.SliceStable(debts, func(i, j int) bool {
			return debts[i].Timestamp.Before(debts[j].Timestamp)
		})
	}
	return result, nil
}

func (m *Memory) PaymentSignatureCounts(_ context.Context, from, to time.Time) (map[ledger.Signature]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[ledger.Signature]int)
	for _, p := range m.payments {
		if p.Timestamp.Before(from) || p.Timestamp.After(to) {
			continue
		}
		counts[ledger.SignatureOf(p, m.loc)]++
	}
	return counts, nil
}

func (m *Memory) SavePayments(_ context.Context, payments []*ledger.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range payments {
		m.nextPayment++
		p.ID = m.nextPayment
		clone := *p
		m.payments = append(m.payments, &clone)
	}
	return nil
}

func (m *Memory) SaveDebts(_ context.Context, debts []*ledger.Debt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range debts {
		m.nextDebt++
		d.ID = m.nextDebt
		clone := *d
		m.debts = append(m.debts, &clone)
	}
	return nil
}

func (m *Memory) SaveSplits(_ context.Context, splits []*ledger.Split) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range splits {
		if s.Payment.ID == 0 || s.Debt.ID == 0 {
			return fmt.Errorf("split references unsaved ledger entries")
		}
		m.nextSplit++
		s.ID = m.nextSplit
		m.splits = append(m.splits, memSplit{
			id:        s.ID,
			paymentID: s.Payment.ID,
			debtID:    s.Debt.ID,
			amount:    s.Amount.Amount,
			currency:  s.Amount.Currency,
		})
	}
	return nil
}

// InTransaction snapshots the store, runs fn, and restores the
// snapshot if fn fails. Good enough for a single-writer test store.
func (m *Memory) InTransaction(ctx context.Context, fn func(Ledger) error) error {
	m.mu.Lock()
	debts := append([]*ledger.Debt(nil), m.debts...)
	payments := append([]*ledger.Payment(nil), m.payments...)
	splits := append([]memSplit(nil), m.splits...)
	nd, np, ns := m.nextDebt, m.nextPayment, m.nextSplit
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.debts, m.payments, m.splits = debts, payments, splits
		m.nextDebt, m.nextPayment, m.nextSplit = nd, np, ns
		m.mu.Unlock()
		return err
	}
	return nil
}

// Debts returns copies of all stored debts with balances populated, in
// insertion order. Test helper.
func (m *Memory) Debts() []*ledger.Debt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ledger.Debt, 0, len(m.debts))
	for _, d := range m.debts {
		clone := *d
		clone.SpoofMatchedBalance(m.matchedBalance(d.ID, 0))
		out = append(out, &clone)
	}
	return out
}

// Payments returns copies of all stored payments with balances
// populated, in insertion order. Test helper.
func (m *Memory) Payments() []*ledger.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ledger.Payment, 0, len(m.payments))
	for _, p := range m.payments {
		clone := *p
		clone.SpoofMatchedBalance(m.matchedBalance(0, p.ID))
		out = append(out, &clone)
	}
	return out
}

// SplitCount returns the number of stored splits. Test helper.
func (m *Memory) SplitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.splits)
}
