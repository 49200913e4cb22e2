package core

import "encoding/json"

// Args are the caller-supplied request arguments.
type Args struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// RequestStatus enumerates journal states of a request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestResolved RequestStatus = "resolved"
	RequestRejected RequestStatus = "rejected"
)

// InteractionOutcome enumerates how a remote-context interaction ended.
type InteractionOutcome string

const (
	OutcomeSuccess    InteractionOutcome = "success"
	OutcomeDone       InteractionOutcome = "done"
	OutcomeError      InteractionOutcome = "error"
	OutcomeUserClosed InteractionOutcome = "user_closed"
	OutcomeBlocked    InteractionOutcome = "blocked"
	OutcomeCancelled  InteractionOutcome = "cancelled"
)

// Interaction records one open of the remote context.
type Interaction struct {
	ID       string             `json:"id"`
	URL      string             `json:"url"`
	Outcome  InteractionOutcome `json:"outcome"`
	Error    string             `json:"error,omitempty"`
	OpenedAt int64              `json:"openedAt"`
	ClosedAt int64              `json:"closedAt"`
}

// RequestRecord records one correlated request.
type RequestRecord struct {
	ID        uint64          `json:"id"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	Status    RequestStatus   `json:"status"`
	Error     string          `json:"error,omitempty"`
	CreatedAt int64           `json:"createdAt"`
	SettledAt int64           `json:"settledAt,omitempty"`
}

// Snapshot is the exported journal written next to the database.
type Snapshot struct {
	Profile      string          `json:"profile"`
	Interactions []Interaction   `json:"interactions"`
	Requests     []RequestRecord `json:"requests"`
}
