package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/settled-dev/settled/internal/config"
	"github.com/settled-dev/settled/internal/ledger"
	"github.com/settled-dev/settled/internal/store"
)

// Section pairs a resolver with a preparator under a 1-based id.
// Statement transactions are offered to sections in order; the first
// section whose resolver claims a transaction owns it.
type Section struct {
	ID         int
	Resolver   *Resolver
	Preparator *Preparator
}

// Pipeline drives a batch of payment transactions through resolution,
// duplicate checking, apportionment and, optionally, persistence. A
// pipeline serves exactly one batch; build a fresh one per import or
// API submission.
type Pipeline struct {
	sections []*Section
	store    store.Ledger
	fb       *ledger.Feedback

	resolved [][]*ledger.ResolvedTransaction
}

// New builds a pipeline over the given sections.
func New(st store.Ledger, sections []*Section) (*Pipeline, error) {
	if len(sections) == 0 {
		return nil, fmt.Errorf("pipeline needs at least one section")
	}
	return &Pipeline{
		sections: sections,
		store:    st,
		fb:       &ledger.Feedback{},
		resolved: make([][]*ledger.ResolvedTransaction, len(sections)),
	}, nil
}

// FromConfig assembles a pipeline from configuration. Section ids are
// the 1-based positions in cfg.Sections.
func FromConfig(cfg *config.Config, st store.Ledger, log *slog.Logger) (*Pipeline, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	sections := make([]*Section, 0, len(cfg.Sections))
	for i, sc := range cfg.Sections {
		id := i + 1
		var resolver *Resolver
		switch sc.Resolver {
		case "transfer":
			resolver = &Resolver{
				sectionID: id,
				builders: []IndexBuilder{
					newTrackingBuilder(st, cfg.Ledger.TrackingPrefix, log),
				},
				silentUnresolved: true,
			}
		case "party":
			resolver = &Resolver{
				sectionID: id,
				builders: []IndexBuilder{
					newEmailBuilder(st),
					newNameBuilder(st),
				},
			}
		default:
			return nil, fmt.Errorf("unknown resolver %q in section %d", sc.Resolver, id)
		}
		sections = append(sections, &Section{
			ID:       id,
			Resolver: resolver,
			Preparator: &Preparator{
				store:           st,
				loc:             loc,
				currency:        cfg.Ledger.Currency,
				refundCategory:  cfg.Ledger.RefundCategory,
				prioritiseExact: cfg.Ledger.ExactMatchPriority,
				exactOnly:       cfg.Ledger.ExactMatchOnly,
				dupProtect:      sc.DuplicateProtection,
				now:             time.Now,
			},
		})
	}
	return New(st, sections)
}

// Resolve routes raw statement transactions to sections and resolves
// their accounts. A transaction claimed by no section is reported as
// unparseable unless every section resolves silently.
func (p *Pipeline) Resolve(ctx context.Context, raw []ledger.RawTransaction) error {
	allSilent := true
	for _, sec := range p.sections {
		if !sec.Resolver.silentUnresolved {
			allSilent = false
		}
	}
	for _, tx := range raw {
		claimed := false
		for _, sec := range p.sections {
			if sec.Resolver.Append(tx) {
				claimed = true
				break
			}
		}
		if !claimed && !allSilent {
			p.fb.ErrorAt(tx.LineNo,
				fmt.Sprintf("Designation %s could not be parsed. Skipped processing.", tx.AccountLookup))
		}
	}
	for i, sec := range p.sections {
		if err := sec.Resolver.Execute(ctx, p.fb); err != nil {
			return err
		}
		p.resolved[i] = sec.Resolver.Collect()
	}
	return nil
}

// Submit accepts externally built transactions, as from the HTTP API.
// Transactions carrying an account id are validated against storage;
// those carrying a lookup string go through the section's resolver.
func (p *Pipeline) Submit(ctx context.Context, txs []*ledger.ResolvedTransaction) error {
	bySection := make([][]*ledger.ResolvedTransaction, len(p.sections))
	for _, tx := range txs {
		if tx.SectionID < 1 || tx.SectionID > len(p.sections) {
			return fmt.Errorf("transaction references unknown section %d", tx.SectionID)
		}
		bySection[tx.SectionID-1] = append(bySection[tx.SectionID-1], tx)
	}

	for i, sec := range p.sections {
		var direct, lookups []*ledger.ResolvedTransaction
		for _, tx := range bySection[i] {
			if tx.AccountID != 0 {
				direct = append(direct, tx)
			} else {
				lookups = append(lookups, tx)
			}
		}
		if err := p.validateDirect(ctx, direct); err != nil {
			return err
		}
		if len(lookups) > 0 {
			if err := sec.Resolver.Attach(ctx, lookups); err != nil {
				return err
			}
		}
		p.resolved[i] = bySection[i]
	}
	return nil
}

func (p *Pipeline) validateDirect(ctx context.Context, txs []*ledger.ResolvedTransaction) error {
	if len(txs) == 0 {
		return nil
	}
	seen := make(map[int64]bool)
	var ids []int64
	for _, tx := range txs {
		if !seen[tx.AccountID] {
			seen[tx.AccountID] = true
			ids = append(ids, tx.AccountID)
		}
	}
	accounts, err := p.store.ByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("validating account ids: %w", err)
	}
	known := make(map[int64]bool, len(accounts))
	for _, a := range accounts {
		known[a.ID] = true
	}
	for _, tx := range txs {
		if !known[tx.AccountID] {
			tx.Messages.Errorf("account with id %d not found", tx.AccountID)
		}
	}
	return nil
}

// Review runs every section's preparator without persisting.
func (p *Pipeline) Review(ctx context.Context) error {
	for i, sec := range p.sections {
		if err := sec.Preparator.Review(ctx, p.resolved[i], p.fb); err != nil {
			return err
		}
	}
	return nil
}

// Commit runs every section's preparator and persists each section's
// plan in its own atomic transaction.
func (p *Pipeline) Commit(ctx context.Context) error {
	for i, sec := range p.sections {
		if err := sec.Preparator.Commit(ctx, p.resolved[i], p.fb); err != nil {
			return err
		}
	}
	return nil
}

// Transactions returns every resolved transaction across sections, in
// section order.
func (p *Pipeline) Transactions() []*ledger.ResolvedTransaction {
	var out []*ledger.ResolvedTransaction
	for _, txs := range p.resolved {
		out = append(out, txs...)
	}
	return out
}

// Feedback exposes the line-attributed messages accumulated so far.
func (p *Pipeline) Feedback() *ledger.Feedback { return p.fb }
