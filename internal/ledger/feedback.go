package ledger

import "sort"

// LineMessage is an error or warning attributed to one or more source
// lines, so an import UI can highlight the offending rows. Multiple
// transactions sharing a fate are reported as one grouped message.
type LineMessage struct {
	Lines   []int  `json:"lines"`
	Message string `json:"message"`
}

// Feedback collects line-attributed errors and warnings for a whole
// import batch.
type Feedback struct {
	errors   []LineMessage
	warnings []LineMessage
}

// ErrorAt records an error against a single line.
func (f *Feedback) ErrorAt(line int, msg string) {
	f.ErrorAtLines([]int{line}, msg)
}

// ErrorAtLines records one grouped error against several lines.
func (f *Feedback) ErrorAtLines(lines []int, msg string) {
	f.errors = append(f.errors, lineMessage(lines, msg))
}

// WarningAt records a warning against a single line.
func (f *Feedback) WarningAt(line int, msg string) {
	f.WarningAtLines([]int{line}, msg)
}

// WarningAtLines records one grouped warning against several lines.
func (f *Feedback) WarningAtLines(lines []int, msg string) {
	f.warnings = append(f.warnings, lineMessage(lines, msg))
}

func lineMessage(lines []int, msg string) LineMessage {
	sorted := make([]int, len(lines))
	copy(sorted, lines)
	sort.Ints(sorted)
	return LineMessage{Lines: sorted, Message: msg}
}

// Errors returns all recorded errors in insertion order.
func (f *Feedback) Errors() []LineMessage { return f.errors }

// Warnings returns all recorded warnings in insertion order.
func (f *Feedback) Warnings() []LineMessage { return f.warnings }

// HasErrors reports whether any error was recorded.
func (f *Feedback) HasErrors() bool { return len(f.errors) > 0 }

// MessagesAt returns the error and warning texts recorded against a
// given line. Used to route grouped line feedback back to individual
// API transactions.
func (f *Feedback) MessagesAt(line int) (errors, warnings []string) {
	for _, m := range f.errors {
		if containsLine(m.Lines, line) {
			errors = append(errors, m.Message)
		}
	}
	for _, m := range f.warnings {
		if containsLine(m.Lines, line) {
			warnings = append(warnings, m.Message)
		}
	}
	return errors, warnings
}

func containsLine(lines []int, line int) bool {
	for _, l := range lines {
		if l == line {
			return true
		}
	}
	return false
}
