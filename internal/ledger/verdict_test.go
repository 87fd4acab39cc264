package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVerdictDowngradeIfForced(t *testing.T) {
	assert.Equal(t, VerdictCommit, VerdictCommit.DowngradeIfForced(false))
	assert.Equal(t, VerdictCommit, VerdictCommit.DowngradeIfForced(true))
	assert.Equal(t, VerdictSuggestDiscard, VerdictSuggestDiscard.DowngradeIfForced(false))
	assert.Equal(t, VerdictCommit, VerdictSuggestDiscard.DowngradeIfForced(true))
	// a hard discard is never overridable
	assert.Equal(t, VerdictDiscard, VerdictDiscard.DowngradeIfForced(true))
}

func TestVerdictJSON(t *testing.T) {
	b, err := VerdictSuggestDiscard.MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `"suggest-discard"`, string(b))
}

func TestMessageContextVerdicts(t *testing.T) {
	var c MessageContext
	assert.Equal(t, VerdictCommit, c.Verdict())

	c.Warnf("heads up %d", 1)
	assert.Equal(t, VerdictCommit, c.Verdict())
	assert.Equal(t, []string{"heads up 1"}, c.Warnings)

	c.SuggestSkip()
	assert.Equal(t, VerdictSuggestDiscard, c.Verdict())

	c.Errorf("bad %s", "amount")
	assert.Equal(t, VerdictDiscard, c.Verdict())
	assert.Equal(t, []string{"bad amount"}, c.Errors)

	// a later soft suggestion cannot weaken a discard
	c.SuggestSkip()
	assert.Equal(t, VerdictDiscard, c.Verdict())
}

func TestToCommitHonoursOverride(t *testing.T) {
	tx := &ResolvedTransaction{Timestamp: time.Now(), Messages: &MessageContext{}}
	assert.True(t, tx.ToCommit())

	tx.Messages.SuggestSkip()
	assert.False(t, tx.ToCommit())

	tx.DoNotSkip = true
	assert.True(t, tx.ToCommit())

	tx.Messages.Errorf("negative amount")
	assert.False(t, tx.ToCommit())
}

func TestFeedbackRouting(t *testing.T) {
	var fb Feedback
	fb.ErrorAt(3, "boom")
	fb.WarningAtLines([]int{5, 2}, "careful")

	errs, warns := fb.MessagesAt(3)
	assert.Equal(t, []string{"boom"}, errs)
	assert.Empty(t, warns)

	errs, warns = fb.MessagesAt(2)
	assert.Empty(t, errs)
	assert.Equal(t, []string{"careful"}, warns)

	assert.True(t, fb.HasErrors())
	// lines come out sorted
	assert.Equal(t, []int{2, 5}, fb.Warnings()[0].Lines)
}
