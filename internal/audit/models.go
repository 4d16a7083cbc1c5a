package audit

import "time"

// Action names what happened to an organization or one of its accounts.
type Action string

const (
	ActionOrganizationProvisioned Action = "organization.provisioned"
	ActionOrganizationUpdated     Action = "organization.updated"
	ActionOrganizationRemoved     Action = "organization.removed"
	ActionAccountCreated          Action = "account.created"
	ActionAccountUpdated          Action = "account.updated"
	ActionAccountRemoved          Action = "account.removed"
)

// Event is emitted from domain logic after a change commits. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	Timestamp      time.Time `json:"timestamp"`
	Action         Action    `json:"action"`
	OrganizationID string    `json:"organization_id"`
	Subject        string    `json:"subject,omitempty"`
	RequestID      string    `json:"request_id,omitempty"`
}
