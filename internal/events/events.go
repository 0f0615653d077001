// Package events defines the notifications emitted after each committed
// escrow operation and an in-process bus that fans them out.
package events

import (
	"encoding/json"

	"github.com/fentz26/escrowd/internal/models"
)

// Event names.
const (
	NamePlatformInitialized  = "PlatformInitialized"
	NamePlatformPaused       = "PlatformPaused"
	NamePlatformResumed      = "PlatformResumed"
	NamePlatformUpdated      = "PlatformUpdated"
	NameTaskCreated          = "TaskCreated"
	NameTaskClaimed          = "TaskClaimed"
	NameDeliverableSubmitted = "DeliverableSubmitted"
	NameTaskSettled          = "TaskSettled"
	NameSubmissionRejected   = "SubmissionRejected"
	NameTaskCancelled        = "TaskCancelled"
	NameTaskExpired          = "TaskExpired"
	NameTemplateCreated      = "TemplateCreated"
	NameTemplateDeactivated  = "TemplateDeactivated"
	NameDisputeOpened        = "DisputeOpened"
	NameVoteCast             = "VoteCast"
	NameDisputeResolved      = "DisputeResolved"
	NameAgentRegistered      = "AgentRegistered"
	NameAgentProfileUpdated  = "AgentProfileUpdated"
)

// Payload is implemented by every event body.
type Payload interface {
	EventName() string
	// Subject is the address the event is primarily about, used for filtering.
	Subject() models.Address
}

// Envelope is a sealed, committed event as stored in the journal.
type Envelope struct {
	ID      string          `json:"id"`
	Seq     int64           `json:"seq"`
	Name    string          `json:"name"`
	Subject models.Address  `json:"subject"`
	At      int64           `json:"at"`
	Payload json.RawMessage `json:"payload"`
	Digest  string          `json:"digest"`
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Query filters journal reads. Zero values match everything.
type Query struct {
	Name    string
	Subject models.Address
	// AfterSeq returns only events with a larger sequence number.
	AfterSeq int64
	Limit    int
}

// Matches reports whether env satisfies q, ignoring Limit.
func (q Query) Matches(env Envelope) bool {
	if q.Name != "" && env.Name != q.Name {
		return false
	}
	if !q.Subject.IsZero() && env.Subject != q.Subject {
		return false
	}
	return env.Seq > q.AfterSeq
}

type PlatformInitialized struct {
	Authority models.Address `json:"authority"`
	FeeBps    uint16         `json:"fee_bps"`
	Treasury  models.Address `json:"treasury"`
}

func (PlatformInitialized) EventName() string         { return NamePlatformInitialized }
func (e PlatformInitialized) Subject() models.Address { return models.PlatformAddress() }

// PlatformToggled is emitted for both pause and resume.
type PlatformToggled struct {
	Authority models.Address `json:"authority"`
	Paused    bool           `json:"paused"`
}

func (e PlatformToggled) EventName() string {
	if e.Paused {
		return NamePlatformPaused
	}
	return NamePlatformResumed
}
func (e PlatformToggled) Subject() models.Address { return models.PlatformAddress() }

type PlatformUpdated struct {
	Authority models.Address `json:"authority"`
	FeeBps    uint16         `json:"fee_bps"`
	Treasury  models.Address `json:"treasury"`
}

func (PlatformUpdated) EventName() string         { return NamePlatformUpdated }
func (e PlatformUpdated) Subject() models.Address { return models.PlatformAddress() }

type TaskCreated struct {
	Task      models.Address `json:"task"`
	Creator   models.Address `json:"creator"`
	TaskIndex uint64         `json:"task_index"`
	Bounty    uint64         `json:"bounty"`
	Deadline  int64          `json:"deadline"`
}

func (TaskCreated) EventName() string         { return NameTaskCreated }
func (e TaskCreated) Subject() models.Address { return e.Task }

type TaskClaimed struct {
	Task      models.Address `json:"task"`
	Agent     models.Address `json:"agent"`
	TaskIndex uint64         `json:"task_index"`
}

func (TaskClaimed) EventName() string         { return NameTaskClaimed }
func (e TaskClaimed) Subject() models.Address { return e.Task }

type DeliverableSubmitted struct {
	Task            models.Address `json:"task"`
	Agent           models.Address `json:"agent"`
	DeliverableHash models.Hash    `json:"deliverable_hash"`
}

func (DeliverableSubmitted) EventName() string         { return NameDeliverableSubmitted }
func (e DeliverableSubmitted) Subject() models.Address { return e.Task }

type TaskSettled struct {
	Task   models.Address `json:"task"`
	Agent  models.Address `json:"agent"`
	Payout uint64         `json:"payout"`
	Fee    uint64         `json:"fee"`
}

func (TaskSettled) EventName() string         { return NameTaskSettled }
func (e TaskSettled) Subject() models.Address { return e.Task }

type SubmissionRejected struct {
	Task       models.Address `json:"task"`
	Agent      models.Address `json:"agent"`
	ReasonHash models.Hash    `json:"reason_hash"`
}

func (SubmissionRejected) EventName() string         { return NameSubmissionRejected }
func (e SubmissionRejected) Subject() models.Address { return e.Task }

type TaskCancelled struct {
	Task     models.Address `json:"task"`
	Creator  models.Address `json:"creator"`
	Refunded uint64         `json:"refunded"`
}

func (TaskCancelled) EventName() string         { return NameTaskCancelled }
func (e TaskCancelled) Subject() models.Address { return e.Task }

type TaskExpired struct {
	Task     models.Address `json:"task"`
	Creator  models.Address `json:"creator"`
	Refunded uint64         `json:"refunded"`
}

func (TaskExpired) EventName() string         { return NameTaskExpired }
func (e TaskExpired) Subject() models.Address { return e.Task }

type TemplateCreated struct {
	Template      models.Address      `json:"template"`
	Creator       models.Address      `json:"creator"`
	TemplateIndex uint64              `json:"template_index"`
	Category      models.TaskCategory `json:"category"`
}

func (TemplateCreated) EventName() string         { return NameTemplateCreated }
func (e TemplateCreated) Subject() models.Address { return e.Template }

type TemplateDeactivated struct {
	Template models.Address `json:"template"`
	Creator  models.Address `json:"creator"`
}

func (TemplateDeactivated) EventName() string         { return NameTemplateDeactivated }
func (e TemplateDeactivated) Subject() models.Address { return e.Template }

type DisputeOpened struct {
	Dispute   models.Address       `json:"dispute"`
	Task      models.Address       `json:"task"`
	Initiator models.Address       `json:"initiator"`
	Reason    models.DisputeReason `json:"reason"`
}

func (DisputeOpened) EventName() string         { return NameDisputeOpened }
func (e DisputeOpened) Subject() models.Address { return e.Dispute }

type VoteCast struct {
	Dispute models.Address `json:"dispute"`
	Voter   models.Address `json:"voter"`
	Ruling  models.Ruling  `json:"ruling"`
}

func (VoteCast) EventName() string         { return NameVoteCast }
func (e VoteCast) Subject() models.Address { return e.Dispute }

type DisputeResolved struct {
	Dispute    models.Address `json:"dispute"`
	Task       models.Address `json:"task"`
	Ruling     models.Ruling  `json:"ruling"`
	TotalVotes uint16         `json:"total_votes"`
}

func (DisputeResolved) EventName() string         { return NameDisputeResolved }
func (e DisputeResolved) Subject() models.Address { return e.Dispute }

type AgentRegistered struct {
	Agent   models.Address `json:"agent"`
	Profile models.Address `json:"profile"`
}

func (AgentRegistered) EventName() string         { return NameAgentRegistered }
func (e AgentRegistered) Subject() models.Address { return e.Profile }

type AgentProfileUpdated struct {
	Agent           models.Address `json:"agent"`
	ReputationScore int64          `json:"reputation_score"`
	TasksCompleted  uint64         `json:"tasks_completed"`
}

func (AgentProfileUpdated) EventName() string { return NameAgentProfileUpdated }
func (e AgentProfileUpdated) Subject() models.Address {
	return models.AgentProfileAddress(e.Agent)
}
