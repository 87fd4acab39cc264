package importer

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/settled-dev/settled/internal/ledger"
	"github.com/settled-dev/settled/internal/money"
)

// Options carries the ledger settings a statement parser needs.
type Options struct {
	Currency string
	Location *time.Location
}

// Parser converts a bank statement export into raw transactions.
// Row-level problems go to fb attributed to their source line; only an
// unreadable file returns an error.
type Parser interface {
	Parse(r io.Reader, opts Options, fb *ledger.Feedback) ([]ledger.RawTransaction, error)
	Format() string
}

// Registry holds named parsers.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry creates an empty parser registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register adds a parser. Panics on duplicate format.
func (r *Registry) Register(p Parser) {
	key := strings.ToLower(p.Format())
	if _, ok := r.parsers[key]; ok {
		panic("duplicate parser format: " + key)
	}
	r.parsers[key] = p
}

// Get returns the parser for format, or nil.
func (r *Registry) Get(format string) Parser {
	return r.parsers[strings.ToLower(format)]
}

// DefaultRegistry returns a registry with all built-in parsers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&FortisParser{})
	r.Register(&KBCParser{})
	r.Register(&GenericParser{})
	return r
}

// statementDateFormat is the dd/mm/yyyy form Belgian bank exports use.
const statementDateFormat = "02/01/2006"

// parseStatementDate reads a statement date as end-of-day in the
// ledger timezone. Statements carry day granularity only, and booking
// a payment at end of day keeps it after any debt issued that day.
func parseStatementDate(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(statementDateFormat, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, loc), nil
}

// parseStatementAmount reads a decimal that may use a comma separator.
func parseStatementAmount(s string, currency string) (money.Money, error) {
	amt, err := money.ParseDecimal(strings.TrimSpace(s))
	if err != nil {
		return money.Money{}, err
	}
	return money.New(amt, currency), nil
}

// headerIndex maps lowercased column names to positions.
func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

// requireColumns resolves the given column names or fails the import.
func requireColumns(idx map[string]int, names ...string) ([]int, error) {
	out := make([]int, len(names))
	for i, name := range names {
		pos, ok := idx[name]
		if !ok {
			return nil, fmt.Errorf("statement is missing the %q column", name)
		}
		out[i] = pos
	}
	return out, nil
}
