package ledger

import "time"

// DateLayout is the calendar-date key used for the once-per-day constraint.
const DateLayout = "2006-01-02"

// Outcome is the result of a Record call. AlreadyPresentToday is a normal
// idempotent outcome, not an error.
type Outcome int

const (
	OutcomeInserted Outcome = iota
	OutcomeAlreadyPresentToday
)

func (o Outcome) String() string {
	if o == OutcomeAlreadyPresentToday {
		return "already_present"
	}
	return "recorded"
}

// Record is one attendance entry: the first match of an identity on a
// calendar date. Entries are created exactly once per (identity, date) and
// never mutated or deleted.
type Record struct {
	Name      string    `json:"name"`
	Date      string    `json:"date"`
	Timestamp time.Time `json:"timestamp"`
}

// Ledger is the append-only attendance store. Record must be atomic with
// respect to concurrent calls for the same identity on the same date: two
// camera frames processed back-to-back must yield exactly one Inserted.
type Ledger interface {
	// Record marks the identity present for the calendar date of now.
	// The optional source payload is free-form JSON capture metadata;
	// backends may ignore it.
	Record(name string, now time.Time, source []byte) (Outcome, error)

	// RecordsFor returns all attendance records for one identity, sorted
	// by date ascending. One record per attended day.
	RecordsFor(name string) ([]Record, error)
}
