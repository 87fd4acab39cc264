package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/settled-dev/settled/internal/ledger"
	"github.com/settled-dev/settled/internal/ogm"
	"github.com/settled-dev/settled/internal/store"
)

// IndexBuilder accumulates account lookup strings, resolves them
// against storage in one bulk query, and then answers point lookups.
// Append claims a transaction; Execute runs the query; Lookup answers
// from the built index. Lookup before Execute always misses.
type IndexBuilder interface {
	Append(tx ledger.RawTransaction) bool
	Execute(ctx context.Context, fb *ledger.Feedback) error
	Lookup(lookup string) *ledger.Account
}

// trackingBuilder resolves free-form transfer references that embed a
// payment tracking number. Claims every string containing a structured
// reference; references with the wrong discriminator digit or an id
// that fails the seed check are logged and dropped without feedback,
// since transfer sections routinely see unrelated references.
type trackingBuilder struct {
	accounts    store.Accounts
	prefixDigit int
	log         *slog.Logger

	candidates map[string]int64 // canonical reference -> decoded account id
	index      map[string]*ledger.Account
}

func newTrackingBuilder(accounts store.Accounts, prefixDigit int, log *slog.Logger) *trackingBuilder {
	return &trackingBuilder{
		accounts:    accounts,
		prefixDigit: prefixDigit,
		log:         log,
		candidates:  make(map[string]int64),
		index:       make(map[string]*ledger.Account),
	}
}

func (b *trackingBuilder) canonical(lookup string) (string, bool) {
	prefix, _, err := ogm.Search(lookup)
	if err != nil {
		return "", false
	}
	return ogm.FromPrefix(prefix, true), true
}

func (b *trackingBuilder) Append(tx ledger.RawTransaction) bool {
	ref, ok := b.canonical(tx.AccountLookup)
	if !ok {
		return false
	}
	if _, seen := b.candidates[ref]; seen {
		return true
	}
	id, err := ogm.DecodeTracking(ref, b.prefixDigit)
	if err != nil {
		b.log.Warn("ignoring unrelated structured reference", "reference", ref, "err", err)
		return true
	}
	b.candidates[ref] = id
	return true
}

func (b *trackingBuilder) Execute(ctx context.Context, fb *ledger.Feedback) error {
	if len(b.candidates) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(b.candidates))
	for _, id := range b.candidates {
		ids = append(ids, id)
	}
	accounts, err := b.accounts.ByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("resolving tracking references: %w", err)
	}
	byID := make(map[int64]*ledger.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	for ref, id := range b.candidates {
		a, ok := byID[id]
		if !ok {
			b.log.Warn("tracking reference decodes to unknown account", "reference", ref, "account_id", id)
			continue
		}
		// The reference must reproduce from the stored token seed,
		// otherwise the decoded id is a coincidence.
		if a.TrackingNumber(b.prefixDigit) != ref {
			b.log.Warn("tracking reference fails seed check", "reference", ref, "account_id", id)
			continue
		}
		b.index[ref] = a
	}
	return nil
}

func (b *trackingBuilder) Lookup(lookup string) *ledger.Account {
	ref, ok := b.canonical(lookup)
	if !ok {
		return nil
	}
	return b.index[ref]
}

// emailBuilder resolves lookups that are email addresses.
type emailBuilder struct {
	accounts store.Accounts

	lines map[string][]int // lowercased email -> claiming lines
	index map[string]*ledger.Account
}

func newEmailBuilder(accounts store.Accounts) *emailBuilder {
	return &emailBuilder{
		accounts: accounts,
		lines:    make(map[string][]int),
		index:    make(map[string]*ledger.Account),
	}
}

func (b *emailBuilder) Append(tx ledger.RawTransaction) bool {
	if !strings.Contains(tx.AccountLookup, "@") {
		return false
	}
	key := strings.ToLower(strings.TrimSpace(tx.AccountLookup))
	b.lines[key] = append(b.lines[key], tx.LineNo)
	return true
}

func (b *emailBuilder) Execute(ctx context.Context, fb *ledger.Feedback) error {
	if len(b.lines) == 0 {
		return nil
	}
	emails := make([]string, 0, len(b.lines))
	for e := range b.lines {
		emails = append(emails, e)
	}
	accounts, unseen, err := b.accounts.ByEmails(ctx, emails)
	if err != nil {
		return fmt.Errorf("resolving account emails: %w", err)
	}
	for _, a := range accounts {
		b.index[strings.ToLower(a.Email)] = a
	}
	for _, e := range unseen {
		fb.ErrorAtLines(b.lines[strings.ToLower(e)],
			fmt.Sprintf("Transaction account %s unknown. Skipped processing.", e))
	}
	return nil
}

func (b *emailBuilder) Lookup(lookup string) *ledger.Account {
	return b.index[strings.ToLower(strings.TrimSpace(lookup))]
}

// nameBuilder resolves the remaining lookups as counterparty names.
// Names are not unique, so an ambiguous match is refused rather than
// guessed at.
type nameBuilder struct {
	accounts store.Accounts

	lines map[string][]int
	index map[string]*ledger.Account
}

func newNameBuilder(accounts store.Accounts) *nameBuilder {
	return &nameBuilder{
		accounts: accounts,
		lines:    make(map[string][]int),
		index:    make(map[string]*ledger.Account),
	}
}

func (b *nameBuilder) Append(tx ledger.RawTransaction) bool {
	name := strings.TrimSpace(tx.AccountLookup)
	if name == "" {
		return false
	}
	key := strings.ToLower(name)
	b.lines[key] = append(b.lines[key], tx.LineNo)
	return true
}

func (b *nameBuilder) Execute(ctx context.Context, fb *ledger.Feedback) error {
	if len(b.lines) == 0 {
		return nil
	}
	names := make([]string, 0, len(b.lines))
	for n := range b.lines {
		names = append(names, n)
	}
	accounts, unseen, ambiguous, err := b.accounts.ByFullNames(ctx, names)
	if err != nil {
		return fmt.Errorf("resolving account names: %w", err)
	}
	for _, a := range accounts {
		b.index[strings.ToLower(a.FullName)] = a
	}
	for _, n := range unseen {
		fb.ErrorAtLines(b.lines[strings.ToLower(n)],
			fmt.Sprintf("Transaction account %s unknown. Skipped processing.", n))
	}
	for _, n := range ambiguous {
		fb.ErrorAtLines(b.lines[strings.ToLower(n)],
			fmt.Sprintf("Designation %s could refer to multiple accounts. Skipped processing.", n))
	}
	return nil
}

func (b *nameBuilder) Lookup(lookup string) *ledger.Account {
	return b.index[strings.ToLower(strings.TrimSpace(lookup))]
}

// Resolver turns raw transactions into resolved ones for a single
// pipeline section, batching all account lookups into bulk queries.
type Resolver struct {
	sectionID int
	builders  []IndexBuilder

	// silentUnresolved drops unclaimed transactions without feedback.
	// Transfer sections set this: a bank statement mixes relevant and
	// irrelevant references and failure to parse is the normal case.
	silentUnresolved bool

	claimed []claimedTx
}

type claimedTx struct {
	tx      ledger.RawTransaction
	builder IndexBuilder
}

// Append offers a raw transaction to the section. It reports whether
// any of the section's builders claimed it.
func (r *Resolver) Append(tx ledger.RawTransaction) bool {
	for _, b := range r.builders {
		if b.Append(tx) {
			r.claimed = append(r.claimed, claimedTx{tx: tx, builder: b})
			return true
		}
	}
	return false
}

// Execute runs every builder's bulk query.
func (r *Resolver) Execute(ctx context.Context, fb *ledger.Feedback) error {
	for _, b := range r.builders {
		if err := b.Execute(ctx, fb); err != nil {
			return err
		}
	}
	return nil
}

// Collect walks the claimed transactions in input order and returns
// those that resolved to an account. Builders have already attributed
// feedback for the ones that did not.
func (r *Resolver) Collect() []*ledger.ResolvedTransaction {
	out := make([]*ledger.ResolvedTransaction, 0, len(r.claimed))
	for _, c := range r.claimed {
		account := c.builder.Lookup(c.tx.AccountLookup)
		if account == nil {
			continue
		}
		out = append(out, &ledger.ResolvedTransaction{
			AccountID: account.ID,
			Amount:    c.tx.Amount,
			Timestamp: c.tx.Timestamp,
			LineNo:    c.tx.LineNo,
			SectionID: r.sectionID,
			Messages:  &ledger.MessageContext{},
		})
	}
	return out
}

// Attach resolves account lookups on externally submitted transactions
// in place. Unlike statement resolution, failures are never silent:
// the submitter named this section explicitly, so an unresolvable
// lookup discards the transaction with an error on its messages.
func (r *Resolver) Attach(ctx context.Context, txs []*ledger.ResolvedTransaction) error {
	fb := &ledger.Feedback{}
	claimed := make([]IndexBuilder, len(txs))
	for i, tx := range txs {
		raw := ledger.RawTransaction{
			LineNo:        tx.LineNo,
			Amount:        tx.Amount,
			Timestamp:     tx.Timestamp,
			AccountLookup: tx.AccountLookup,
		}
		for _, b := range r.builders {
			if b.Append(raw) {
				claimed[i] = b
				break
			}
		}
	}
	if err := r.Execute(ctx, fb); err != nil {
		return err
	}
	for i, tx := range txs {
		if claimed[i] != nil {
			if account := claimed[i].Lookup(tx.AccountLookup); account != nil {
				tx.AccountID = account.ID
				continue
			}
		}
		errors, _ := fb.MessagesAt(tx.LineNo)
		if len(errors) == 0 {
			errors = []string{fmt.Sprintf("Designation %s could not be parsed. Skipped processing.", tx.AccountLookup)}
		}
		for _, msg := range errors {
			tx.Messages.Errorf("%s", msg)
		}
	}
	return nil
}
