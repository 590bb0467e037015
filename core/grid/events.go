package grid

import "time"

// ClaimAction names a scheduler decision published on the grid's event bus.
type ClaimAction string

const (
	ClaimAdmitted  ClaimAction = "admitted"
	ClaimRejected  ClaimAction = "rejected"
	ClaimSuspended ClaimAction = "suspended"
	ClaimDelayed   ClaimAction = "delayed"
	ClaimReset     ClaimAction = "reset"
	ClaimResumed   ClaimAction = "resumed"
	ClaimRetracted ClaimAction = "retracted"
)

// ClaimEvent describes one claim lifecycle transition.
type ClaimEvent struct {
	Grid     string      `json:"grid"`
	ClaimID  string      `json:"claim_id"`
	Name     string      `json:"name"`
	Action   ClaimAction `json:"action"`
	Priority int         `json:"priority"`
	Time     time.Time   `json:"time"`
}

// BalanceEvent carries the latest observed power balance of a grid.
type BalanceEvent struct {
	Grid  string    `json:"grid"`
	Watts float64   `json:"watts"`
	Time  time.Time `json:"time"`
}
