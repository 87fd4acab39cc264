package ledger

import "fmt"

// Verdict is the per-transaction outcome of the pipeline. Discard
// subsumes SuggestDiscard: once a hard error is recorded the verdict
// cannot be softened.
type Verdict int

const (
	// VerdictCommit means the transaction should be persisted.
	VerdictCommit Verdict = iota
	// VerdictSuggestDiscard flags a probable duplicate; the caller may
	// override it per transaction.
	VerdictSuggestDiscard
	// VerdictDiscard is final: an error makes the transaction
	// unpersistable regardless of overrides.
	VerdictDiscard
)

func (v Verdict) String() string {
	switch v {
	case VerdictCommit:
		return "commit"
	case VerdictSuggestDiscard:
		return "suggest-discard"
	case VerdictDiscard:
		return "discard"
	}
	return fmt.Sprintf("Verdict(%d)", int(v))
}

// MarshalJSON renders the verdict as its string form.
func (v Verdict) MarshalJSON() ([]byte, error) {
	return []byte(`"` + v.String() + `"`), nil
}

// UnmarshalJSON parses the string form produced by MarshalJSON.
func (v *Verdict) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"commit"`:
		*v = VerdictCommit
	case `"suggest-discard"`:
		*v = VerdictSuggestDiscard
	case `"discard"`:
		*v = VerdictDiscard
	default:
		return fmt.Errorf("unknown verdict %s", data)
	}
	return nil
}

// DowngradeIfForced maps SuggestDiscard back to Commit when the caller
// has set the do-not-skip override. Discard is never overridable.
func (v Verdict) DowngradeIfForced(force bool) Verdict {
	if force && v == VerdictSuggestDiscard {
		return VerdictCommit
	}
	return v
}

// MessageContext accumulates errors, warnings and the running verdict
// for one transaction as it moves through the pipeline. Verdicts kept
// here are communication with the operator; enforcement happens in the
// preparators.
type MessageContext struct {
	verdict  Verdict
	Errors   []string
	Warnings []string
}

// Errorf records a transaction error and forces the Discard verdict.
func (c *MessageContext) Errorf(format string, args ...any) {
	c.Discard()
	c.Errors = append(c.Errors, fmt.Sprintf(format, args...))
}

// Warnf records a non-fatal warning. The verdict is unaffected.
func (c *MessageContext) Warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

// Discard marks the transaction as unpersistable.
func (c *MessageContext) Discard() { c.verdict = VerdictDiscard }

// SuggestSkip softly flags the transaction. A Discard verdict already
// in place is not weakened.
func (c *MessageContext) SuggestSkip() {
	if c.verdict == VerdictCommit {
		c.verdict = VerdictSuggestDiscard
	}
}

// Verdict returns the current verdict.
func (c *MessageContext) Verdict() Verdict { return c.verdict }
