package pipeline

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settled-dev/settled/internal/config"
	"github.com/settled-dev/settled/internal/ledger"
	"github.com/settled-dev/settled/internal/money"
	"github.com/settled-dev/settled/internal/ogm"
	"github.com/settled-dev/settled/internal/store"
)

var day0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func day(n int) time.Time { return day0.AddDate(0, 0, n) }

func testConfig(sections ...config.SectionConfig) *config.Config {
	cfg := config.Default()
	cfg.Ledger.Timezone = "UTC"
	if len(sections) > 0 {
		cfg.Sections = sections
	}
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(t *testing.T, cfg *config.Config, st store.Ledger) *Pipeline {
	t.Helper()
	pl, err := FromConfig(cfg, st, testLogger())
	require.NoError(t, err)
	return pl
}

func seedDebt(t *testing.T, st *store.Memory, accountID int64, amount string, ts time.Time) *ledger.Debt {
	t.Helper()
	d := &ledger.Debt{Entry: ledger.Entry{
		AccountID:   accountID,
		TotalAmount: money.MustParse(amount, "EUR"),
		Timestamp:   ts,
		Processed:   ts,
	}}
	require.NoError(t, st.SaveDebts(context.Background(), []*ledger.Debt{d}))
	return d
}

func seedPayment(t *testing.T, st *store.Memory, accountID int64, amount string, ts time.Time) {
	t.Helper()
	p := &ledger.Payment{Entry: ledger.Entry{
		AccountID:   accountID,
		TotalAmount: money.MustParse(amount, "EUR"),
		Timestamp:   ts,
		Processed:   ts,
	}}
	require.NoError(t, st.SavePayments(context.Background(), []*ledger.Payment{p}))
}

func submitTx(accountID int64, amount string, ts time.Time) *ledger.ResolvedTransaction {
	return &ledger.ResolvedTransaction{
		AccountID: accountID,
		Amount:    money.MustParse(amount, "EUR"),
		Timestamp: ts,
		SectionID: 1,
		Messages:  &ledger.MessageContext{},
	}
}

func TestSubmitApportionsAndCommits(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(time.UTC)
	a := st.AddAccount("Alice Liddell", "alice@example.com")
	seedDebt(t, st, a.ID, "20.00", day(0))
	seedDebt(t, st, a.ID, "15.00", day(2))

	cfg := testConfig()
	cfg.Ledger.ExactMatchPriority = false
	pl := newTestPipeline(t, cfg, st)

	txs := []*ledger.ResolvedTransaction{
		submitTx(a.ID, "10.00", day(1)),
		submitTx(a.ID, "25.00", day(3)),
	}
	require.NoError(t, pl.Submit(ctx, txs))
	require.NoError(t, pl.Commit(ctx))

	for _, tx := range txs {
		assert.True(t, tx.ToCommit())
		assert.Empty(t, tx.Messages.Errors)
		assert.Empty(t, tx.Messages.Warnings)
	}

	assert.Equal(t, 3, st.SplitCount())
	for _, d := range st.Debts() {
		assert.True(t, d.Paid())
	}
	payments := st.Payments()
	require.Len(t, payments, 2)
	for _, p := range payments {
		assert.True(t, p.FullyUsed())
	}

	// every debt is now settled
	unpaid, err := st.UnpaidDebtsForAccounts(ctx, []int64{a.ID})
	require.NoError(t, err)
	assert.Empty(t, unpaid[a.ID])
}

func TestReviewDoesNotPersistAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(time.UTC)
	a := st.AddAccount("Alice Liddell", "alice@example.com")
	seedDebt(t, st, a.ID, "32.00", day(0))

	pl := newTestPipeline(t, testConfig(), st)
	tx := submitTx(a.ID, "40.00", day(1))
	require.NoError(t, pl.Submit(ctx, []*ledger.ResolvedTransaction{tx}))

	require.NoError(t, pl.Review(ctx))
	warningsFirst := append([]string(nil), tx.Messages.Warnings...)
	verdictFirst := tx.Messages.Verdict()

	require.NoError(t, pl.Review(ctx))
	assert.Equal(t, warningsFirst, tx.Messages.Warnings)
	assert.Equal(t, verdictFirst, tx.Messages.Verdict())

	assert.Empty(t, st.Payments())
	assert.Zero(t, st.SplitCount())
}

func TestOverpaymentWarnsWithoutRefundCategory(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(time.UTC)
	a := st.AddAccount("Alice Liddell", "alice@example.com")
	seedDebt(t, st, a.ID, "32.00", day(0))

	pl := newTestPipeline(t, testConfig(), st)
	tx := submitTx(a.ID, "40.00", day(1))
	require.NoError(t, pl.Submit(ctx, []*ledger.ResolvedTransaction{tx}))
	require.NoError(t, pl.Commit(ctx))

	require.Len(t, tx.Messages.Warnings, 1)
	assert.Contains(t, tx.Messages.Warnings[0], "40.00")
	assert.Contains(t, tx.Messages.Warnings[0], "32.00")
	assert.True(t, tx.ToCommit())

	debts := st.Debts()
	require.Len(t, debts, 1)
	assert.True(t, debts[0].Paid())

	payments := st.Payments()
	require.Len(t, payments, 1)
	assert.Equal(t, "8.00 EUR", payments[0].CreditRemaining().String())
}

func TestOverpaymentGeneratesRefund(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(time.UTC)
	a := st.AddAccount("Alice Liddell", "alice@example.com")
	seedDebt(t, st, a.ID, "32.00", day(0))

	cfg := testConfig()
	cfg.Ledger.RefundCategory = "refund"
	pl := newTestPipeline(t, cfg, st)

	tx := submitTx(a.ID, "40.00", day(1))
	require.NoError(t, pl.Submit(ctx, []*ledger.ResolvedTransaction{tx}))
	require.NoError(t, pl.Commit(ctx))

	assert.Empty(t, tx.Messages.Warnings)

	debts := st.Debts()
	require.Len(t, debts, 2)
	refund := debts[1]
	assert.True(t, refund.IsRefund)
	assert.Equal(t, "refund", refund.Category)
	assert.Equal(t, "8.00 EUR", refund.TotalAmount.String())
	assert.True(t, refund.Paid())

	payments := st.Payments()
	require.Len(t, payments, 1)
	assert.True(t, payments[0].FullyUsed())
	assert.Equal(t, 2, st.SplitCount())
}

func TestDuplicateAgainstHistorySuggestsDiscard(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(time.UTC)
	a := st.AddAccount("Alice Liddell", "alice@example.com")
	seedPayment(t, st, a.ID, "10.00", day(1))

	pl := newTestPipeline(t, testConfig(), st)
	tx := submitTx(a.ID, "10.00", day(1))
	require.NoError(t, pl.Submit(ctx, []*ledger.ResolvedTransaction{tx}))
	require.NoError(t, pl.Commit(ctx))

	assert.Equal(t, ledger.VerdictSuggestDiscard, tx.Messages.Verdict())
	assert.False(t, tx.ToCommit())
	require.Len(t, tx.Messages.Warnings, 1)
	assert.Contains(t, tx.Messages.Warnings[0], "Alice Liddell")
	assert.Contains(t, tx.Messages.Warnings[0], "duplicate")

	// nothing new was persisted
	assert.Len(t, st.Payments(), 1)
}

func TestDuplicateOverriddenByDoNotSkip(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(time.UTC)
	a := st.AddAccount("Alice Liddell", "alice@example.com")
	seedPayment(t, st, a.ID, "10.00", day(1))

	pl := newTestPipeline(t, testConfig(), st)
	tx := submitTx(a.ID, "10.00", day(1))
	tx.DoNotSkip = true
	require.NoError(t, pl.Submit(ctx, []*ledger.ResolvedTransaction{tx}))
	require.NoError(t, pl.Commit(ctx))

	// still flagged, but persisted anyway
	assert.Equal(t, ledger.VerdictSuggestDiscard, tx.Messages.Verdict())
	assert.True(t, tx.ToCommit())
	assert.Len(t, st.Payments(), 2)
}

func TestSameBatchDuplicateFlagsSecondOccurrence(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(time.UTC)
	a := st.AddAccount("Alice Liddell", "alice@example.com")

	pl := newTestPipeline(t, testConfig(), st)
	first := submitTx(a.ID, "10.00", day(1))
	second := submitTx(a.ID, "10.00", day(1))
	require.NoError(t, pl.Submit(ctx, []*ledger.ResolvedTransaction{first, second}))
	require.NoError(t, pl.Commit(ctx))

	assert.Equal(t, ledger.VerdictCommit, first.Messages.Verdict())
	assert.Equal(t, ledger.VerdictSuggestDiscard, second.Messages.Verdict())
	assert.Len(t, st.Payments(), 1)
}

func TestHistoryCapsDuplicatesWithinBatch(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(time.UTC)
	a := st.AddAccount("Alice Liddell", "alice@example.com")
	seedPayment(t, st, a.ID, "10.00", day(1))

	// one historical copy rules out one of the two batch entries, not both
	pl := newTestPipeline(t, testConfig(), st)
	first := submitTx(a.ID, "10.00", day(1))
	second := submitTx(a.ID, "10.00", day(1))
	require.NoError(t, pl.Submit(ctx, []*ledger.ResolvedTransaction{first, second}))
	require.NoError(t, pl.Commit(ctx))

	assert.Equal(t, ledger.VerdictCommit, first.Messages.Verdict())
	assert.Equal(t, ledger.VerdictSuggestDiscard, second.Messages.Verdict())
	require.Len(t, second.Messages.Warnings, 1)
	assert.Contains(t, second.Messages.Warnings[0], "1 time(s) in history")
	assert.Contains(t, second.Messages.Warnings[0], "1 ruled as duplicate(s)")
	assert.Len(t, st.Payments(), 2)
}

func TestDuplicateProtectionDisabled(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(time.UTC)
	a := st.AddAccount("Alice Liddell", "alice@example.com")
	seedPayment(t, st, a.ID, "10.00", day(1))

	cfg := testConfig(config.SectionConfig{Resolver: "transfer", DuplicateProtection: false})
	pl := newTestPipeline(t, cfg, st)
	tx := submitTx(a.ID, "10.00", day(1))
	require.NoError(t, pl.Submit(ctx, []*ledger.ResolvedTransaction{tx}))
	require.NoError(t, pl.Commit(ctx))

	assert.Equal(t, ledger.VerdictCommit, tx.Messages.Verdict())
	assert.Len(t, st.Payments(), 2)
}

func TestNegativeAmountAlwaysDiscarded(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(time.UTC)
	a := st.AddAccount("Alice Liddell", "alice@example.com")

	pl := newTestPipeline(t, testConfig(), st)
	tx := submitTx(a.ID, "-50.00", day(1))
	tx.DoNotSkip = true
	require.NoError(t, pl.Submit(ctx, []*ledger.ResolvedTransaction{tx}))
	require.NoError(t, pl.Commit(ctx))

	assert.Equal(t, ledger.VerdictDiscard, tx.Messages.Verdict())
	assert.False(t, tx.ToCommit())
	require.Len(t, tx.Messages.Errors, 1)
	assert.Contains(t, tx.Messages.Errors[0], "negative")
	assert.Empty(t, st.Payments())
}

func TestSubmitUnknownAccountID(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(time.UTC)
	st.AddAccount("Alice Liddell", "alice@example.com")

	pl := newTestPipeline(t, testConfig(), st)
	tx := submitTx(999, "10.00", day(1))
	require.NoError(t, pl.Submit(ctx, []*ledger.ResolvedTransaction{tx}))
	require.NoError(t, pl.Commit(ctx))

	assert.Equal(t, ledger.VerdictDiscard, tx.Messages.Verdict())
	require.Len(t, tx.Messages.Errors, 1)
	assert.Contains(t, tx.Messages.Errors[0], "999")
	assert.Empty(t, st.Payments())
}

func TestSubmitRejectsUnknownSection(t *testing.T) {
	st := store.NewMemory(time.UTC)
	pl := newTestPipeline(t, testConfig(), st)
	tx := submitTx(1, "10.00", day(1))
	tx.SectionID = 7
	assert.Error(t, pl.Submit(context.Background(), []*ledger.ResolvedTransaction{tx}))
}

func TestNewRequiresSections(t *testing.T) {
	_, err := New(store.NewMemory(time.UTC), nil)
	assert.Error(t, err)
}

func TestResolveTrackingReference(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(time.UTC)
	a := st.AddAccount("Alice Liddell", "alice@example.com")
	seedDebt(t, st, a.ID, "25.00", day(0))

	pl := newTestPipeline(t, testConfig(), st)
	raw := []ledger.RawTransaction{
		{LineNo: 2, Amount: money.MustParse("25.00", "EUR"), Timestamp: day(1), AccountLookup: a.TrackingNumber(1)},
		{LineNo: 3, Amount: money.MustParse("99.00", "EUR"), Timestamp: day(1), AccountLookup: "no reference here"},
	}
	require.NoError(t, pl.Resolve(ctx, raw))

	txs := pl.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, a.ID, txs[0].AccountID)

	// transfer sections drop unparseable rows silently
	assert.False(t, pl.Feedback().HasErrors())

	require.NoError(t, pl.Commit(ctx))
	assert.Len(t, st.Payments(), 1)
	assert.Equal(t, 1, st.SplitCount())
}

func TestResolveTrackingSeedMismatch(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(time.UTC)
	a := st.AddAccount("Alice Liddell", "alice@example.com")

	// a reference encoding the right id but the wrong seed digest
	ref := ogm.EncodeTracking(1, a.ID, a.HiddenToken[1]+1, true)

	pl := newTestPipeline(t, testConfig(), st)
	raw := []ledger.RawTransaction{
		{LineNo: 2, Amount: money.MustParse("25.00", "EUR"), Timestamp: day(1), AccountLookup: ref},
	}
	require.NoError(t, pl.Resolve(ctx, raw))
	assert.Empty(t, pl.Transactions())
}

func TestResolvePartySection(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(time.UTC)
	alice := st.AddAccount("Alice Liddell", "alice@example.com")
	st.AddAccount("Bob Roberts", "bob@example.com")
	st.AddAccount("Bob Roberts", "bob2@example.com")

	cfg := testConfig(config.SectionConfig{Resolver: "party", DuplicateProtection: true})
	pl := newTestPipeline(t, cfg, st)

	raw := []ledger.RawTransaction{
		{LineNo: 2, Amount: money.MustParse("10.00", "EUR"), Timestamp: day(1), AccountLookup: "alice@example.com"},
		{LineNo: 3, Amount: money.MustParse("10.00", "EUR"), Timestamp: day(1), AccountLookup: "Alice Liddell"},
		{LineNo: 4, Amount: money.MustParse("10.00", "EUR"), Timestamp: day(1), AccountLookup: "nobody@example.com"},
		{LineNo: 5, Amount: money.MustParse("10.00", "EUR"), Timestamp: day(1), AccountLookup: "Bob Roberts"},
		{LineNo: 6, Amount: money.MustParse("10.00", "EUR"), Timestamp: day(1), AccountLookup: "Carol Jones"},
	}
	require.NoError(t, pl.Resolve(ctx, raw))

	txs := pl.Transactions()
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.Equal(t, alice.ID, tx.AccountID)
	}

	fb := pl.Feedback()
	errs, _ := fb.MessagesAt(4)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "unknown")

	errs, _ = fb.MessagesAt(5)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "multiple accounts")

	errs, _ = fb.MessagesAt(6)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "unknown")
}

func TestSubmitLookupResolution(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory(time.UTC)
	alice := st.AddAccount("Alice Liddell", "alice@example.com")
	seedDebt(t, st, alice.ID, "10.00", day(0))

	cfg := testConfig(config.SectionConfig{Resolver: "party", DuplicateProtection: true})
	pl := newTestPipeline(t, cfg, st)

	good := &ledger.ResolvedTransaction{
		AccountLookup: "alice@example.com",
		Amount:        money.MustParse("10.00", "EUR"),
		Timestamp:     day(1),
		LineNo:        1,
		SectionID:     1,
		Messages:      &ledger.MessageContext{},
	}
	bad := &ledger.ResolvedTransaction{
		AccountLookup: "nobody@example.com",
		Amount:        money.MustParse("10.00", "EUR"),
		Timestamp:     day(1),
		LineNo:        2,
		SectionID:     1,
		Messages:      &ledger.MessageContext{},
	}
	require.NoError(t, pl.Submit(ctx, []*ledger.ResolvedTransaction{good, bad}))
	require.NoError(t, pl.Commit(ctx))

	assert.Equal(t, alice.ID, good.AccountID)
	assert.True(t, good.ToCommit())

	assert.Equal(t, ledger.VerdictDiscard, bad.Messages.Verdict())
	assert.Contains(t, bad.Messages.Errors[0], "unknown")

	assert.Len(t, st.Payments(), 1)
}
