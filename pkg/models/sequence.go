package models

import "time"

// Sequence is a named, ordered list of steps that can be run any number of times.
type Sequence struct {
	ID          string     `json:"id" db:"id"`                             // UUID
	Name        string     `json:"name" db:"name"`                         // Descriptive name (e.g., "Weekly digest")
	Description string     `json:"description,omitempty" db:"description"` // Optional free text
	Active      bool       `json:"active" db:"active"`                     // Whether triggers may start it
	LastRunAt   *time.Time `json:"last_run_at,omitempty" db:"last_run_at"` // Last successful run
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`             // Creation timestamp
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`             // Last update timestamp
	Steps       []Step     `json:"steps" db:"-"`                           // Populated by the store
	StepCount   int        `json:"step_count,omitempty" db:"step_count"`   // Set by list queries, which omit Steps
}
