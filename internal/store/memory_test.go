package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settled-dev/settled/internal/ledger"
	"github.com/settled-dev/settled/internal/money"
)

func seedDebt(t *testing.T, m *Memory, accountID int64, amount string, ts time.Time) *ledger.Debt {
	t.Helper()
	d := &ledger.Debt{Entry: ledger.Entry{
		AccountID:   accountID,
		TotalAmount: money.MustParse(amount, "EUR"),
		Timestamp:   ts,
		Processed:   ts,
	}}
	require.NoError(t, m.SaveDebts(context.Background(), []*ledger.Debt{d}))
	return d
}

func seedPayment(t *testing.T, m *Memory, accountID int64, amount string, ts time.Time) *ledger.Payment {
	t.Helper()
	p := &ledger.Payment{Entry: ledger.Entry{
		AccountID:   accountID,
		TotalAmount: money.MustParse(amount, "EUR"),
		Timestamp:   ts,
		Processed:   ts,
	}}
	require.NoError(t, m.SavePayments(context.Background(), []*ledger.Payment{p}))
	return p
}

func TestAccountLookups(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.UTC)
	alice := m.AddAccount("Alice Liddell", "alice@example.com")
	m.AddAccount("Bob Roberts", "bob@example.com")
	m.AddAccount("Bob Roberts", "bob2@example.com") // same name, different person

	found, err := m.ByIDs(ctx, []int64{alice.ID, 999})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, alice.ID, found[0].ID)

	byEmail, unseen, err := m.ByEmails(ctx, []string{"ALICE@example.com", "nobody@example.com"})
	require.NoError(t, err)
	require.Len(t, byEmail, 1)
	assert.Equal(t, alice.ID, byEmail[0].ID)
	assert.Equal(t, []string{"nobody@example.com"}, unseen)

	byName, unseenNames, ambiguous, err := m.ByFullNames(ctx, []string{"alice liddell", "Bob Roberts", "Carol"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, alice.ID, byName[0].ID)
	assert.Equal(t, []string{"Carol"}, unseenNames)
	assert.Equal(t, []string{"Bob Roberts"}, ambiguous)
}

func TestUnpaidDebtsOrderingAndFiltering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.UTC)
	a := m.AddAccount("Alice Liddell", "alice@example.com")

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	late := seedDebt(t, m, a.ID, "20.00", base.AddDate(0, 0, 2))
	early := seedDebt(t, m, a.ID, "30.00", base)
	paid := seedDebt(t, m, a.ID, "10.00", base.AddDate(0, 0, 1))

	p := seedPayment(t, m, a.ID, "10.00", base.AddDate(0, 0, 3))
	require.NoError(t, m.SaveSplits(ctx, []*ledger.Split{
		{Payment: p, Debt: paid, Amount: money.MustParse("10.00", "EUR")},
	}))

	debts, err := m.UnpaidDebtsForAccounts(ctx, []int64{a.ID})
	require.NoError(t, err)
	require.Len(t, debts[a.ID], 2)
	assert.Equal(t, early.ID, debts[a.ID][0].ID)
	assert.Equal(t, late.ID, debts[a.ID][1].ID)

	// balances come back populated from persisted splits
	assert.Equal(t, "30.00 EUR", debts[a.ID][0].Balance().String())
}

func TestUnpaidDebtsReturnsClones(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.UTC)
	a := m.AddAccount("Alice Liddell", "alice@example.com")
	seedDebt(t, m, a.ID, "30.00", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	debts, err := m.UnpaidDebtsForAccounts(ctx, []int64{a.ID})
	require.NoError(t, err)
	debts[a.ID][0].SpoofMatchedBalance(debts[a.ID][0].TotalAmount.Amount)

	// spoofing a fetched copy must not leak into storage
	again, err := m.UnpaidDebtsForAccounts(ctx, []int64{a.ID})
	require.NoError(t, err)
	require.Len(t, again[a.ID], 1)
	assert.Equal(t, "30.00 EUR", again[a.ID][0].Balance().String())
}

func TestPaymentSignatureCounts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.UTC)
	a := m.AddAccount("Alice Liddell", "alice@example.com")

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedPayment(t, m, a.ID, "10.00", ts)
	seedPayment(t, m, a.ID, "10.00", ts.Add(2*time.Hour))
	seedPayment(t, m, a.ID, "10.00", ts.AddDate(0, 0, 10)) // outside window

	counts, err := m.PaymentSignatureCounts(ctx, ts.AddDate(0, 0, -2), ts.AddDate(0, 0, 2))
	require.NoError(t, err)
	sig := ledger.Signature{Date: "2026-03-01", Amount: "10.00", AccountID: a.ID}
	assert.Equal(t, 2, counts[sig])
}

func TestInTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.UTC)
	a := m.AddAccount("Alice Liddell", "alice@example.com")

	err := m.InTransaction(ctx, func(s Ledger) error {
		p := &ledger.Payment{Entry: ledger.Entry{
			AccountID:   a.ID,
			TotalAmount: money.MustParse("10.00", "EUR"),
			Timestamp:   time.Now(),
		}}
		if err := s.SavePayments(ctx, []*ledger.Payment{p}); err != nil {
			return err
		}
		return fmt.Errorf("deliberate failure")
	})
	require.Error(t, err)
	assert.Empty(t, m.Payments())
}

func TestInTransactionCommits(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.UTC)
	a := m.AddAccount("Alice Liddell", "alice@example.com")

	err := m.InTransaction(ctx, func(s Ledger) error {
		p := &ledger.Payment{Entry: ledger.Entry{
			AccountID:   a.ID,
			TotalAmount: money.MustParse("10.00", "EUR"),
			Timestamp:   time.Now(),
		}}
		return s.SavePayments(ctx, []*ledger.Payment{p})
	})
	require.NoError(t, err)
	assert.Len(t, m.Payments(), 1)
}
