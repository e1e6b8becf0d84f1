package model

import "time"

// JobLease is the named lock row behind the single-flight guard. A lease is
// held while held_until lies in the future; expired leases are reclaimable so
// a crashed run cannot wedge its job.
type JobLease struct {
	JobName   string    `json:"job_name"`
	HeldBy    string    `json:"held_by,omitempty"`
	HeldUntil time.Time `json:"held_until"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (l *JobLease) Held(now time.Time) bool {
	return l.HeldUntil.After(now)
}
