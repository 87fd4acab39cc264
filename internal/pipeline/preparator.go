package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/settled-dev/settled/internal/ledger"
	"github.com/settled-dev/settled/internal/money"
	"github.com/settled-dev/settled/internal/store"
)

// duplicateWindow pads the duplicate-check query range on both sides.
// Banks report payments with day granularity and sometimes book them a
// day or two late, so the history window extends beyond the batch's own
// timestamp range.
const duplicateWindow = 48 * time.Hour

// Preparator turns a section's resolved transactions into a persistence
// plan: the payments to save, the splits apportioning them over unpaid
// debts, and any overpayment refunds. The plan is computed once and
// memoized, so a review followed by a commit never recomputes verdicts.
type Preparator struct {
	store           store.Ledger
	loc             *time.Location
	currency        string
	refundCategory  string
	prioritiseExact bool
	exactOnly       bool
	dupProtect      bool

	now func() time.Time

	plan *plan
}

type plan struct {
	// payments holds the committable payments in apportionment order,
	// each paired with its source transaction.
	payments []plannedPayment
	splits   []*ledger.Split
	refunds  []*ledger.Debt
}

type plannedPayment struct {
	tx      *ledger.ResolvedTransaction
	payment *ledger.Payment
}

// Review computes the section's plan without persisting anything.
// Verdicts, errors and warnings land on each transaction's messages;
// line-attributed copies land on fb.
func (p *Preparator) Review(ctx context.Context, txs []*ledger.ResolvedTransaction, fb *ledger.Feedback) error {
	_, err := p.prepare(ctx, txs, fb)
	return err
}

// Commit computes the plan (or reuses the reviewed one) and persists it
// atomically: payments first, then refund debts, then the splits tying
// them together.
func (p *Preparator) Commit(ctx context.Context, txs []*ledger.ResolvedTransaction, fb *ledger.Feedback) error {
	pl, err := p.prepare(ctx, txs, fb)
	if err != nil {
		return err
	}
	return p.store.InTransaction(ctx, func(tx store.Ledger) error {
		payments := make([]*ledger.Payment, len(pl.payments))
		for i, pp := range pl.payments {
			payments[i] = pp.payment
		}
		if err := tx.SavePayments(ctx, payments); err != nil {
			return err
		}
		if err := tx.SaveDebts(ctx, pl.refunds); err != nil {
			return err
		}
		return tx.SaveSplits(ctx, pl.splits)
	})
}

func (p *Preparator) prepare(ctx context.Context, txs []*ledger.ResolvedTransaction, fb *ledger.Feedback) (*plan, error) {
	if p.plan != nil {
		return p.plan, nil
	}

	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Timestamp.Before(txs[j].Timestamp)
	})

	now := p.now()
	var candidates []plannedPayment
	for _, tx := range txs {
		if tx.Amount.IsNegative() {
			msg := fmt.Sprintf("Payment amount %s is negative. Skipped processing.", tx.Amount)
			tx.Messages.Errorf("%s", msg)
			fb.ErrorAt(tx.LineNo, msg)
			continue
		}
		if tx.Messages.Verdict() == ledger.VerdictDiscard {
			continue
		}
		candidates = append(candidates, plannedPayment{
			tx: tx,
			payment: &ledger.Payment{Entry: ledger.Entry{
				AccountID:   tx.AccountID,
				TotalAmount: tx.Amount,
				Timestamp:   tx.Timestamp,
				Processed:   now,
			}},
		})
	}

	if p.dupProtect && len(candidates) > 0 {
		if err := p.flagDuplicates(ctx, candidates, fb); err != nil {
			return nil, err
		}
	}

	pl := &plan{}
	for _, pp := range candidates {
		if pp.tx.ToCommit() {
			pl.payments = append(pl.payments, pp)
		}
	}
	if err := p.apportion(ctx, pl, fb); err != nil {
		return nil, err
	}
	p.plan = pl
	return pl, nil
}

// flagDuplicates compares the batch against committed payment history
// and soft-discards the trailing occurrences of any signature that
// appears more often, in history plus batch combined, than once. The
// override flag on a transaction can still force them through.
func (p *Preparator) flagDuplicates(ctx context.Context, candidates []plannedPayment, fb *ledger.Feedback) error {
	from, to := candidates[0].payment.Timestamp, candidates[0].payment.Timestamp
	for _, pp := range candidates[1:] {
		ts := pp.payment.Timestamp
		if ts.Before(from) {
			from = ts
		}
		if ts.After(to) {
			to = ts
		}
	}
	history, err := p.store.PaymentSignatureCounts(ctx, from.Add(-duplicateWindow), to.Add(duplicateWindow))
	if err != nil {
		return fmt.Errorf("querying payment history: %w", err)
	}

	bySig := make(map[ledger.Signature][]plannedPayment)
	var sigOrder []ledger.Signature
	for _, pp := range candidates {
		sig := ledger.SignatureOf(pp.payment, p.loc)
		if _, seen := bySig[sig]; !seen {
			sigOrder = append(sigOrder, sig)
		}
		bySig[sig] = append(bySig[sig], pp)
	}

	names, err := p.accountNames(ctx, candidates)
	if err != nil {
		return err
	}

	for _, sig := range sigOrder {
		group := bySig[sig]
		hist := history[sig]
		// history caps how many of the group are suspect; with no
		// history an in-batch repeat still flags everything past the
		// first occurrence
		dupcount := min(max(hist, len(group)-1), len(group))
		if dupcount <= 0 {
			continue
		}
		var msg string
		if hist == 1 && len(group) == 1 {
			msg = fmt.Sprintf(
				"A payment by %s for amount %s on date %s already appears in the payment history. "+
					"Resolution: likely duplicate, skipped processing.",
				names[sig.AccountID], group[0].payment.TotalAmount, sig.Date)
		} else {
			msg = fmt.Sprintf(
				"A payment by %s for amount %s on date %s appears %d time(s) in history, "+
					"and %d time(s) in the current batch of data. Resolution: %d ruled as duplicate(s).",
				names[sig.AccountID], group[0].payment.TotalAmount, sig.Date,
				hist, len(group), dupcount)
		}
		var lines []int
		for _, pp := range group[len(group)-dupcount:] {
			pp.tx.Messages.Warnf("%s", msg)
			pp.tx.Messages.SuggestSkip()
			lines = append(lines, pp.tx.LineNo)
		}
		fb.WarningAtLines(lines, msg)
	}
	return nil
}

func (p *Preparator) accountNames(ctx context.Context, candidates []plannedPayment) (map[int64]string, error) {
	seen := make(map[int64]bool)
	var ids []int64
	for _, pp := range candidates {
		if !seen[pp.payment.AccountID] {
			seen[pp.payment.AccountID] = true
			ids = append(ids, pp.payment.AccountID)
		}
	}
	accounts, err := p.store.ByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching account names: %w", err)
	}
	names := make(map[int64]string, len(ids))
	for _, id := range ids {
		names[id] = fmt.Sprintf("account %d", id)
	}
	for _, a := range accounts {
		names[a.ID] = a.FullName
	}
	return names, nil
}

// apportion buckets the committable payments per account, fetches each
// account's unpaid debts and walks the two chronologically to produce
// splits. Leftover credit becomes a refund debt when a refund category
// is configured, and a warning otherwise.
func (p *Preparator) apportion(ctx context.Context, pl *plan, fb *ledger.Feedback) error {
	buckets := make(map[int64][]plannedPayment)
	var accountOrder []int64
	for _, pp := range pl.payments {
		id := pp.payment.AccountID
		if _, seen := buckets[id]; !seen {
			accountOrder = append(accountOrder, id)
		}
		buckets[id] = append(buckets[id], pp)
	}
	if len(accountOrder) == 0 {
		return nil
	}

	debts, err := p.store.UnpaidDebtsForAccounts(ctx, accountOrder)
	if err != nil {
		return fmt.Errorf("fetching unpaid debts: %w", err)
	}

	now := p.now()
	for _, accountID := range accountOrder {
		bucket := buckets[accountID]
		sort.SliceStable(bucket, func(i, j int) bool {
			return bucket[i].payment.Timestamp.Before(bucket[j].payment.Timestamp)
		})
		payments := make([]*ledger.Payment, len(bucket))
		for i, pp := range bucket {
			payments[i] = pp.payment
		}

		splits, _ := ledger.MakePaymentSplits(payments, debts[accountID], p.prioritiseExact, p.exactOnly)
		pl.splits = append(pl.splits, splits...)

		if p.refundCategory != "" {
			refund, refundSplits := ledger.RefundOverpayment(payments, accountID, p.refundCategory, p.currency, now)
			if refund != nil {
				pl.refunds = append(pl.refunds, refund)
				pl.splits = append(pl.splits, refundSplits...)
			}
			continue
		}
		p.warnOverpayment(bucket, fb)
	}
	return nil
}

func (p *Preparator) warnOverpayment(bucket []plannedPayment, fb *ledger.Feedback) {
	received, applied := money.Zero(p.currency), money.Zero(p.currency)
	var unspent []plannedPayment
	for _, pp := range bucket {
		received = received.Add(pp.payment.TotalAmount)
		applied = applied.Add(pp.payment.MatchedBalance())
		if !pp.payment.FullyUsed() {
			unspent = append(unspent, pp)
		}
	}
	if len(unspent) == 0 {
		return
	}
	dates := make([]string, len(unspent))
	lines := make([]int, len(unspent))
	for i, pp := range unspent {
		dates[i] = pp.payment.Timestamp.In(p.loc).Format("2006-01-02")
		lines[i] = pp.tx.LineNo
	}
	msg := fmt.Sprintf(
		"Received %s, but only %s can be applied to outstanding debts. "+
			"Payment(s) dated %s have outstanding balances.",
		received, applied, strings.Join(dates, ", "))
	for _, pp := range unspent {
		pp.tx.Messages.Warnf("%s", msg)
	}
	fb.WarningAtLines(lines, msg)
}
