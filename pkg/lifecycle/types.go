package lifecycle

import "time"

// Kind identifies an entity kind with its own independent state space.
type Kind string

const (
	KindCampaign          Kind = "campaign"
	KindCall              Kind = "call"
	KindLead              Kind = "lead"
	KindTelephonyCampaign Kind = "telephony_campaign"
)

// State is the canonical, persisted name of a lifecycle state.
type State string

// Campaign states.
const (
	CampaignDraft     State = "Draft"
	CampaignScheduled State = "Scheduled"
	CampaignActive    State = "Active"
	CampaignPaused    State = "Paused"
	CampaignFinished  State = "Finished"
	CampaignCancelled State = "Cancelled"
)

// Call states.
const (
	CallPending     State = "Pending"
	CallInCall      State = "InCall"
	CallRescheduled State = "Rescheduled"
	CallClosed      State = "Closed"
	CallCancelled   State = "Cancelled"
)

// Lead states.
const (
	LeadPending       State = "Pending"
	LeadInCall        State = "InCall"
	LeadRescheduled   State = "Rescheduled"
	LeadSuccessClosed State = "SuccessClosed"
	LeadDiscarded     State = "Discarded"
)

// Action classifies a transition, e.g. ACTIVATION or FINALIZATION.
type Action string

const (
	ActionScheduling   Action = "SCHEDULING"
	ActionRescheduling Action = "RESCHEDULING"
	ActionActivation   Action = "ACTIVATION"
	ActionPause        Action = "PAUSE"
	ActionResumption   Action = "RESUMPTION"
	ActionCancellation Action = "CANCELLATION"
	ActionFinalization Action = "FINALIZATION"
	ActionStatusChange Action = "STATUS_CHANGE"

	// Call actions.
	ActionCallStarted Action = "CALL_STARTED"
	ActionCallClosed  Action = "CALL_CLOSED"

	// Lead actions.
	ActionContactStarted Action = "CONTACT_STARTED"
	ActionConversion     Action = "CONVERSION"
	ActionDiscard        Action = "DISCARD"
)

// Entity is anything whose lifecycle state is governed by a Guard.
type Entity interface {
	EntityID() string
	EntityKind() Kind
	CurrentState() State
	SetState(State)
}

// Record is the persisted view of an entity as seen by the lifecycle layer.
// LinkedID points at the aggregate this entity belongs to in another module
// (a telephony campaign's marketing campaign, a call's telephony campaign).
type Record struct {
	Kind      Kind      `json:"kind"`
	ID        string    `json:"id"`
	State     State     `json:"state"`
	LinkedID  string    `json:"linked_id,omitempty"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *Record) EntityID() string    { return r.ID }
func (r *Record) EntityKind() Kind    { return r.Kind }
func (r *Record) CurrentState() State { return r.State }
func (r *Record) SetState(s State)    { r.State = s }
