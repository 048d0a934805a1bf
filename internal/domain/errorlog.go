package domain

import "time"

// Error log status values. Only the project owner flips between them.
const (
	StatusOpen     = "Open"
	StatusResolved = "Resolved"
)

// ErrorLog is a single ingested error report. Summary is nil until the
// enrichment worker writes one; it is the only field mutated after creation
// besides Status.
type ErrorLog struct {
	ID         string
	ProjectID  string
	Message    string
	StackTrace string
	Summary    *string
	Status     string
	CreatedAt  time.Time
}
