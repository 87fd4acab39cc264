package ledger

import "time"

// RefundOverpayment synthesizes a refund debt absorbing all unmatched
// credit left on the given payments, plus one split per contributing
// payment for its exact remaining credit. Returns nil when no credit
// remains. The refund debt is immediately fully matched by its splits,
// as are the contributing payments.
func RefundOverpayment(payments []*Payment, accountID int64, category string, currency string, now time.Time) (*Debt, []*Split) {
	toRefund := CreditToRefund(currency, payments)
	if toRefund.IsZero() {
		return nil, nil
	}

	refund := &Debt{
		Entry: Entry{
			AccountID:   accountID,
			TotalAmount: toRefund,
			Timestamp:   now,
			Processed:   now,
		},
		IsRefund: true,
		Category: category,
	}

	var splits []*Split
	for _, p := range payments {
		remaining := p.CreditRemaining()
		if remaining.IsZero() {
			continue
		}
		splits = append(splits, &Split{Payment: p, Debt: refund, Amount: remaining})
		p.SpoofMatchedBalance(p.TotalAmount.Amount)
	}
	refund.SpoofMatchedBalance(refund.TotalAmount.Amount)
	return refund, splits
}
