package models

import "time"

// SymbolState is the per-symbol position in a pipeline run.
type SymbolState string

const (
	StatePending  SymbolState = "PENDING"
	StateFetching SymbolState = "FETCHING"
	StateParsing  SymbolState = "PARSING"
	StateStoring  SymbolState = "STORING"
	StateDone     SymbolState = "DONE"
	StateFailed   SymbolState = "FAILED"
)

// SymbolOutcome is the terminal (or last reached) state of one symbol.
type SymbolOutcome struct {
	Symbol  string      `json:"symbol"`
	State   SymbolState `json:"state"`
	Records int         `json:"records"`
	// Stage is the state the symbol was in when it failed.
	Stage  SymbolState `json:"stage,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

// VerificationReport summarizes completeness and null-field prevalence for a day.
type VerificationReport struct {
	Date        Date           `json:"date"`
	Present     map[string]int `json:"present"`
	Missing     []string       `json:"missing"`
	NullRecords map[string]int `json:"null_records"`
	Total       int            `json:"total"`
}

// RunReport is the result of one pipeline run.
type RunReport struct {
	RunID        string              `json:"run_id"`
	Date         Date                `json:"date"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   time.Time           `json:"finished_at"`
	Outcomes     []SymbolOutcome     `json:"outcomes"`
	TotalRecords int                 `json:"total_records"`
	Verification *VerificationReport `json:"verification,omitempty"`
	VerifyError  string              `json:"verify_error,omitempty"`
}

// Succeeded returns the symbols that reached DONE.
func (r *RunReport) Succeeded() []string {
	return r.symbolsIn(StateDone)
}

// Failed returns the symbols that ended in FAILED.
func (r *RunReport) Failed() []string {
	return r.symbolsIn(StateFailed)
}

// Outcome returns the outcome for symbol, if present.
func (r *RunReport) Outcome(symbol string) (SymbolOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Symbol == symbol {
			return o, true
		}
	}
	return SymbolOutcome{}, false
}

func (r *RunReport) symbolsIn(state SymbolState) []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.State == state {
			out = append(out, o.Symbol)
		}
	}
	return out
}
