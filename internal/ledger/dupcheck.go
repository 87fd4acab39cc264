package ledger

import (
	"time"
)

// Signature identifies a ledger entry for duplicate detection across
// import batches. Most banks report with day granularity, so the
// signature uses the local calendar date rather than the timestamp; an
// exact timestamp cutoff between imports would make duplicate checking
// unnecessary, but the source data cannot support one.
type Signature struct {
	Date      string // local calendar date, ISO form
	Amount    string // exact decimal, two places
	AccountID int64
}

// SignatureOf computes the duplicate-check signature for a payment in
// the given local timezone.
func SignatureOf(p *Payment, loc *time.Location) Signature {
	return Signature{
		Date:      p.Timestamp.In(loc).Format("2006-01-02"),
		Amount:    p.TotalAmount.Amount.StringFixed(2),
		AccountID: p.AccountID,
	}
}
