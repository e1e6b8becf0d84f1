package model

import "time"

// LinkToken is one row of the pre-generated token pool. Value is opaque to
// callers; IsUsed flips to true when the token is claimed and, outside of
// batch-claim unwinding, never reverts.
type LinkToken struct {
	ID        int64      `json:"id"`
	Value     string     `json:"value"`
	IsUsed    bool       `json:"is_used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
