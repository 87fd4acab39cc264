package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/settled-dev/settled/internal/ledger"
)

// GenericParser parses a minimal comma-separated statement with
// "date", "amount" and "account" columns. The account column takes
// anything a pipeline section can resolve: a structured reference, an
// email address or a counterparty name.
type GenericParser struct{}

// Format returns the parser name.
func (p *GenericParser) Format() string { return "generic" }

// Parse reads a generic CSV statement.
func (p *GenericParser) Parse(r io.Reader, opts Options, fb *ledger.Feedback) ([]ledger.RawTransaction, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	if len(records) <= 1 {
		return nil, nil
	}

	cols, err := requireColumns(headerIndex(records[0]), "date", "amount", "account")
	if err != nil {
		return nil, err
	}
	colDate, colAmount, colAccount := cols[0], cols[1], cols[2]

	var txns []ledger.RawTransaction
	for i, rec := range records[1:] {
		line := i + 2
		if len(rec) <= colDate || len(rec) <= colAmount || len(rec) <= colAccount {
			fb.ErrorAt(line, "Row has too few columns. Skipped processing.")
			continue
		}
		amount, err := parseStatementAmount(rec[colAmount], opts.Currency)
		if err != nil {
			fb.ErrorAt(line, fmt.Sprintf("Could not parse amount %s. Skipped processing.", rec[colAmount]))
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
		account := strings.TrimSpace(rec[colAccount])
		if account == "" {
			fb.ErrorAt(line, "Row has no account designation. Skipped processing.")
			continue
		}
		txns = append(txns, ledger.RawTransaction{
			LineNo:        line,
			Amount:        amount,
			Timestamp:     ts,
			AccountLookup: account,
		})
	}
	return txns, nil
}
