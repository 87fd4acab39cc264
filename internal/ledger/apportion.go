package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/settled-dev/settled/internal/money"
)

// ApportionmentResult is the aggregate outcome of one apportionment
// run. The four lists preserve encounter order. Results from multiple
// account buckets within one pipeline run accumulate via Merge.
type ApportionmentResult struct {
	FullyUsedPayments []*Payment
	FullyPaidDebts    []*Debt
	RemainingPayments []*Payment
	RemainingDebts    []*Debt
}

// Merge concatenates another result onto this one.
func (r *ApportionmentResult) Merge(o ApportionmentResult) {
	r.FullyUsedPayments = append(r.FullyUsedPayments, o.FullyUsedPayments...)
	r.FullyPaidDebts = append(r.FullyPaidDebts, o.FullyPaidDebts...)
	r.RemainingPayments = append(r.RemainingPayments, o.RemainingPayments...)
	r.RemainingDebts = append(r.RemainingDebts, o.RemainingDebts...)
}

// MakePaymentSplits allocates payment credit against outstanding debts
// for a single account and returns the splits in the order they were
// produced, together with the run's aggregate result.
//
// Both sequences must be sorted ascending by timestamp (ties broken by
// insertion order; sorting is the preparator's responsibility), must
// carry no pre-existing splits from this run, and freshly prepared
// payments must have their matched balance spoofed to zero beforehand.
//
// With prioritiseExact set, a first-fit exact-match pass runs before
// the generic sweep: for each payment in order, the first non-refund
// debt whose balance equals the payment's remaining credit and whose
// timestamp does not postdate the payment is settled with a single
// split. With exactOnly set, the generic sweep is skipped entirely.
//
// The sweep enforces by construction that a debt is only ever paid by
// payments no earlier than the debt itself; refund debts are exempt and
// are skipped outright.
func MakePaymentSplits(payments []*Payment, debts []*Debt, prioritiseExact, exactOnly bool) ([]*Split, ApportionmentResult) {
	var res ApportionmentResult
	var splits []*Split

	if prioritiseExact || exactOnly {
		debtPool := make([]*Debt, len(debts))
		copy(debtPool, debts)
		var deferred []*Payment

		for _, payment := range payments {
			amt := payment.CreditRemaining()
			match := -1
			for i, d := range debtPool {
				if !d.IsRefund && d.Balance().Equal(amt) && !d.Timestamp.After(payment.Timestamp) {
					match = i
					break
				}
			}
			if match < 0 {
				// no exact match, defer to the generic sweep
				deferred = append(deferred, payment)
				continue
			}
			debt := debtPool[match]
			debtPool = append(debtPool[:match], debtPool[match+1:]...)
			payment.SpoofMatchedBalance(payment.TotalAmount.Amount)
			debt.SpoofMatchedBalance(debt.TotalAmount.Amount)
			splits = append(splits, &Split{Payment: payment, Debt: debt, Amount: amt})
			res.FullyUsedPayments = append(res.FullyUsedPayments, payment)
			res.FullyPaidDebts = append(res.FullyPaidDebts, debt)
		}
		payments = deferred
		debts = debtPool
	}

	if exactOnly {
		res.RemainingDebts = append(res.RemainingDebts, debts...)
		res.RemainingPayments = append(res.RemainingPayments, payments...)
		return splits, res
	}

	// The generic sweep is simple: use payments to pay off debts until
	// we either run out of debts, or of money to pay them. Two cursors
	// walk the chronologically sorted sequences; zero remaining on
	// either side means "pull the next item".
	var payment *Payment
	var debt *Debt
	pi, di := 0, 0
	creditRemaining := decimal.Zero
	debtRemaining := decimal.Zero

sweep:
	for {
		// look for some unpaid, non-refund debt
		for debtRemaining.IsZero() || (debt != nil && debt.IsRefund) {
			if debt != nil {
				// either fully paid down, or a refund; a partially paid
				// refund makes no sense, so report it as fully paid
				res.FullyPaidDebts = append(res.FullyPaidDebts, debt)
				debt.SpoofMatchedBalance(debt.TotalAmount.Amount)
			}
			if di >= len(debts) {
				// all debts paid back: flush the in-flight payment and
				// drain the rest
				if payment != nil {
					if !creditRemaining.IsZero() {
						payment.SpoofMatchedBalance(payment.TotalAmount.Amount.Sub(creditRemaining))
						res.RemainingPayments = append(res.RemainingPayments, payment)
					} else {
						payment.SpoofMatchedBalance(payment.TotalAmount.Amount)
						res.FullyUsedPayments = append(res.FullyUsedPayments, payment)
					}
				}
				for ; pi < len(payments); pi++ {
					p := payments[pi]
					if !p.CreditRemaining().IsZero() {
						res.RemainingPayments = append(res.RemainingPayments, p)
					} else {
						res.FullyUsedPayments = append(res.FullyUsedPayments, p)
					}
				}
				break sweep
			}
			debt = debts[di]
			di++
			debtRemaining = debt.Balance().Amount
		}

		// keep trying payments until we find one recent enough to cover
		// the current debt; sequencing is enforced against the debt
		// being serviced, not globally
		for creditRemaining.IsZero() || (payment != nil && payment.Timestamp.Before(debt.Timestamp)) {
			if payment != nil {
				if !creditRemaining.IsZero() {
					payment.SpoofMatchedBalance(payment.TotalAmount.Amount.Sub(creditRemaining))
					res.RemainingPayments = append(res.RemainingPayments, payment)
				} else {
					payment.SpoofMatchedBalance(payment.TotalAmount.Amount)
					res.FullyUsedPayments = append(res.FullyUsedPayments, payment)
				}
			}
			if pi >= len(payments) {
				// no money left: flush the in-flight debt and drain the
				// rest. A drained debt still carrying a balance should
				// not occur with sorted, freshly prepared input, but is
				// classified rather than rejected.
				if !debtRemaining.IsZero() {
					debt.SpoofMatchedBalance(debt.TotalAmount.Amount.Sub(debtRemaining))
					res.RemainingDebts = append(res.RemainingDebts, debt)
				}
				for ; di < len(debts); di++ {
					d := debts[di]
					if !d.Balance().IsZero() {
						res.RemainingDebts = append(res.RemainingDebts, d)
					} else {
						res.FullyPaidDebts = append(res.FullyPaidDebts, d)
					}
				}
				break sweep
			}
			payment = payments[pi]
			pi++
			creditRemaining = payment.CreditRemaining().Amount
		}

		// pay off as much of the current debt as the current credit
		// allows
		amt := decimal.Min(debtRemaining, creditRemaining)
		creditRemaining = creditRemaining.Sub(amt)
		debtRemaining = debtRemaining.Sub(amt)
		splits = append(splits, &Split{
			Payment: payment,
			Debt:    debt,
			Amount:  money.New(amt, payment.TotalAmount.Currency),
		})
	}

	return splits, res
}
