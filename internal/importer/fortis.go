package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"

	"github.com/settled-dev/settled/internal/ledger"
	"github.com/settled-dev/settled/internal/ogm"
)

// FortisParser parses BNP Paribas Fortis CSV exports. The structured
// reference lives inside the free-text details column behind a
// "MEDEDELING :" marker; rows without one are other bank activity and
// are skipped without comment.
type FortisParser struct{}

var fortisReferencePattern = regexp.MustCompile(`MEDEDELING\s*:\s*(\S.*)`)

// Format returns the parser name.
func (p *FortisParser) Format() string { return "fortis" }

// Parse reads a Fortis CSV export.
func (p *FortisParser) Parse(r io.Reader, opts Options, fb *ledger.Feedback) ([]ledger.RawTransaction, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading fortis CSV: %w", err)
	}
	if len(records) <= 1 {
		return nil, nil
	}

	cols, err := requireColumns(headerIndex(records[0]), "uitvoeringsdatum", "bedrag", "details")
	if err != nil {
		return nil, err
	}
	colDate, colAmount, colDetails := cols[0], cols[1], cols[2]

	var txns []ledger.RawTransaction
	for i, rec := range records[1:] {
		line := i + 2
		if len(rec) <= colDetails || len(rec) <= colDate || len(rec) <= colAmount {
			fb.ErrorAt(line, "Row has too few columns. Skipped processing.")
			continue
		}
		m := fortisReferencePattern.FindStringSubmatch(rec[colDetails])
		if m == nil {
			continue
		}
		prefix, _, err := ogm.Search(m[1])
		if err != nil {
			continue
		}
		amount, err := parseStatementAmount(rec[colAmount], opts.Currency)
		if err != nil {
			fb.ErrorAt(line, fmt.Sprintf("Could not parse amount %s. Skipped processing.", rec[colAmount]))
			continue
		}
		// outgoing transfers and zero rows are not payments
		if amount.IsNegative() || amount.IsZero() {
			continue
		}
		ts, err := parseStatementDate(rec[colDate], opts.Location)
		if err != nil {
			fb.ErrorAt(line, fmt.Sprintf("Could not parse date %s. Skipped processing.", rec[colDate]))
			continue
		}
		txns = append(txns, ledger.RawTransaction{
			LineNo:        line,
			Amount:        amount,
			Timestamp:     ts,
			AccountLookup: ogm.FromPrefix(prefix, true),
		})
	}
	return txns, nil
}
