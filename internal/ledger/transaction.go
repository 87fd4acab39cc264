package ledger

import (
	"time"

	"github.com/settled-dev/settled/internal/money"
)

// RawTransaction is one parsed input row before account resolution.
type RawTransaction struct {
	// LineNo is the 1-based source line for error attribution. Zero
	// for transactions that did not come from a file.
	LineNo        int
	Amount        money.Money
	Timestamp     time.Time
	AccountLookup string
}

// ResolvedTransaction couples a raw transaction with the account it
// resolved to. It is transient: only the ledger entry it produces is
// persisted.
type ResolvedTransaction struct {
	AccountID int64
	Amount    money.Money
	Timestamp time.Time

	// AccountLookup is set on API submissions that still need account
	// resolution; it is empty once AccountID is known.
	AccountLookup string

	// LineNo carries the source line for file imports, or the batch
	// position for API submissions.
	LineNo int

	// TransactionID is the caller-supplied id used to route feedback
	// on API submissions. Empty for file imports.
	TransactionID string

	// SectionID selects the pipeline section that owns this
	// transaction.
	SectionID int

	// DoNotSkip overrides a SuggestDiscard verdict at commit time.
	DoNotSkip bool

	Messages *MessageContext
}

// ToCommit decides whether this transaction should be persisted,
// honouring the DoNotSkip override for soft verdicts.
func (rt *ResolvedTransaction) ToCommit() bool {
	return rt.Messages.Verdict().DowngradeIfForced(rt.DoNotSkip) == VerdictCommit
}
