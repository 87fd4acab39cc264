package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/settled-dev/settled/internal/ledger"
	"github.com/settled-dev/settled/internal/ogm"
)

// KBCParser parses KBC CSV exports. KBC reports the structured
// reference in its own column, but customers regularly paste it into
// the free-format message instead; when the dedicated column is empty
// the parser falls back to scanning the free message, and a fruitless
// scan skips the row silently.
type KBCParser struct{}

// Format returns the parser name.
func (p *KBCParser) Format() string { return "kbc" }

// Parse reads a KBC CSV export.
func (p *KBCParser) Parse(r io.Reader, opts Options, fb *ledger.Feedback) ([]ledger.RawTransaction, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading kbc CSV: %w", err)
	}
	if len(records) <= 1 {
		return nil, nil
	}

	idx := headerIndex(records[0])
	cols, err := requireColumns(idx, "datum", "credit", "gestructureerde mededeling")
	if err != nil {
		return nil, err
	}
	colDate, colCredit, colRef := cols[0], cols[1], cols[2]
	colFree, hasFree := idx["vrije mededeling"]

	var txns []ledger.RawTransaction
	for i, rec := range records[1:] {
		line := i + 2
		if len(rec) <= colDate || len(rec) <= colCredit || len(rec) <= colRef {
			fb.ErrorAt(line, "Row has too few columns. Skipped processing.")
			continue
		}
		// debit rows leave the credit column empty
		if strings.TrimSpace(rec[colCredit]) == "" {
			continue
		}
		amount, err := parseStatementAmount(rec[colCredit], opts.Currency)
		if err != nil {
			fb.ErrorAt(line, fmt.Sprintf("Could not parse amount %s. Skipped processing.", rec[colCredit]))
			continue
		}
		if amount.IsNegative() || amount.IsZero() {
			continue
		}
		ts, err := parseStatementDate(rec[colDate], opts.Location)
		if err != nil {
			fb.ErrorAt(line, fmt.Sprintf("Could not parse date %s. Skipped processing.", rec[colDate]))
			continue
		}

		lookup := ""
		if ref := strings.TrimSpace(rec[colRef]); ref != "" {
			normalized, err := ogm.Normalize(ref)
			if err != nil {
				fb.ErrorAt(line, fmt.Sprintf("Could not parse structured reference %s. Skipped processing.", ref))
				continue
			}
			lookup = normalized
		} else if hasFree && len(rec) > colFree {
			prefix, _, err := ogm.Search(rec[colFree])
			if err != nil {
				continue
			}
			lookup = ogm.FromPrefix(prefix, true)
		} else {
			continue
		}

		txns = append(txns, ledger.RawTransaction{
			LineNo:        line,
			Amount:        amount,
			Timestamp:     ts,
			AccountLookup: lookup,
		})
	}
	return txns, nil
}
