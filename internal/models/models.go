// Package models defines the durable records of the escrow program.
package models

// Kind discriminates record types stored at an address.
type Kind string

const (
	KindPlatform       Kind = "platform"
	KindCreatorCounter Kind = "creator_counter"
	KindTask           Kind = "task"
	KindTemplate       Kind = "template"
	KindDispute        Kind = "dispute"
	KindVote           Kind = "vote"
	KindAgentProfile   Kind = "agent_profile"
)

// Record is implemented by every value the ledger can hold.
type Record interface {
	RecordKind() Kind
}

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusOpen      TaskStatus = "open"
	TaskStatusClaimed   TaskStatus = "claimed"
	TaskStatusSubmitted TaskStatus = "submitted"
	TaskStatusApproved  TaskStatus = "approved"
	TaskStatusRejected  TaskStatus = "rejected"
	TaskStatusCancelled TaskStatus = "cancelled"
	TaskStatusExpired   TaskStatus = "expired"
	TaskStatusDisputed  TaskStatus = "disputed"
)

// Terminal reports whether no further transition leaves this status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusApproved, TaskStatusCancelled, TaskStatusExpired:
		return true
	}
	return false
}

// TaskCategory tags templates.
type TaskCategory string

const (
	CategoryDataLabeling     TaskCategory = "data_labeling"
	CategoryLiteratureReview TaskCategory = "literature_review"
	CategoryCodeReview       TaskCategory = "code_review"
	CategoryTranslation      TaskCategory = "translation"
	CategoryAnalysis         TaskCategory = "analysis"
	CategoryResearch         TaskCategory = "research"
	CategoryOther            TaskCategory = "other"
)

// Valid reports whether c is a known category.
func (c TaskCategory) Valid() bool {
	switch c {
	case CategoryDataLabeling, CategoryLiteratureReview, CategoryCodeReview,
		CategoryTranslation, CategoryAnalysis, CategoryResearch, CategoryOther:
		return true
	}
	return false
}

// DisputeReason tags why a dispute was opened.
type DisputeReason string

const (
	ReasonQualityIssue   DisputeReason = "quality_issue"
	ReasonDeadlineMissed DisputeReason = "deadline_missed"
	ReasonPlagiarism     DisputeReason = "plagiarism"
	ReasonOther          DisputeReason = "other"
	// ReasonRejectionLimit marks disputes opened by auto-escalation.
	ReasonRejectionLimit DisputeReason = "rejection_limit"
)

// Valid reports whether r is a known reason.
func (r DisputeReason) Valid() bool {
	switch r {
	case ReasonQualityIssue, ReasonDeadlineMissed, ReasonPlagiarism, ReasonOther, ReasonRejectionLimit:
		return true
	}
	return false
}

// Selectable reports whether a party may give r when opening a dispute.
// ReasonRejectionLimit is set only by auto-escalation.
func (r DisputeReason) Selectable() bool {
	return r.Valid() && r != ReasonRejectionLimit
}

// DisputeStatus is Open until resolution.
type DisputeStatus string

const (
	DisputeStatusOpen     DisputeStatus = "open"
	DisputeStatusResolved DisputeStatus = "resolved"
)

// Platform is the singleton configuration record.
type Platform struct {
	Authority           Address `json:"authority"`
	FeeBps              uint16  `json:"fee_bps"`
	MinBounty           uint64  `json:"min_bounty"`
	Treasury            Address `json:"treasury"`
	TaskCount           uint64  `json:"task_count"`
	TemplateCount       uint64  `json:"template_count"`
	TotalSettled        uint64  `json:"total_settled"`
	DisputeVotingPeriod int64   `json:"dispute_voting_period"`
	DisputeMinVotes     uint8   `json:"dispute_min_votes"`
	MinVoterReputation  int64   `json:"min_voter_reputation"`
	ClaimGracePeriod    int64   `json:"claim_grace_period"`
	Paused              bool    `json:"paused"`
}

func (*Platform) RecordKind() Kind { return KindPlatform }

// CreatorCounter holds the next task index expected from a creator.
type CreatorCounter struct {
	Authority Address `json:"authority"`
	TaskCount uint64  `json:"task_count"`
}

func (*CreatorCounter) RecordKind() Kind { return KindCreatorCounter }

// Task is a unit of work whose bounty is held in the task's own balance.
type Task struct {
	Creator          Address    `json:"creator"`
	TaskIndex        uint64     `json:"task_index"`
	Bounty           uint64     `json:"bounty"`
	Status           TaskStatus `json:"status"`
	Agent            Address    `json:"agent"`
	Deadline         int64      `json:"deadline"`
	CreatedAt        int64      `json:"created_at"`
	SettledAt        int64      `json:"settled_at"`
	ReputationReward int64      `json:"reputation_reward"`
	Title            string     `json:"title"`
	DescriptionHash  Hash       `json:"description_hash"`
	DeliverableHash  Hash       `json:"deliverable_hash"`
	// TemplateIndex is 1-indexed; 0 means the task was not created from a template.
	TemplateIndex  uint64 `json:"template_index"`
	RejectionCount uint8  `json:"rejection_count"`
}

func (*Task) RecordKind() Kind { return KindTask }

// HasAgent reports whether the task has been claimed.
func (t *Task) HasAgent() bool { return !t.Agent.IsZero() }

// TaskTemplate is a reusable task blueprint. Templates are never destroyed.
type TaskTemplate struct {
	Creator         Address      `json:"creator"`
	TemplateIndex   uint64       `json:"template_index"`
	Title           string       `json:"title"`
	DescriptionHash Hash         `json:"description_hash"`
	DefaultBounty   uint64       `json:"default_bounty"`
	TimesUsed       uint64       `json:"times_used"`
	Category        TaskCategory `json:"category"`
	Active          bool         `json:"active"`
}

func (*TaskTemplate) RecordKind() Kind { return KindTemplate }

// Dispute is the arbitration record for a task.
type Dispute struct {
	Task            Address       `json:"task"`
	Initiator       Address       `json:"initiator"`
	Reason          DisputeReason `json:"reason"`
	EvidenceHash    Hash          `json:"evidence_hash"`
	Status          DisputeStatus `json:"status"`
	VotesForCreator uint16        `json:"votes_for_creator"`
	VotesForAgent   uint16        `json:"votes_for_agent"`
	VotesForSplit   uint16        `json:"votes_for_split"`
	OpenedAt        int64         `json:"opened_at"`
	ResolvedAt      int64         `json:"resolved_at"`
	Ruling          Ruling        `json:"ruling"`
}

func (*Dispute) RecordKind() Kind { return KindDispute }

// ArbitratorVote is the audit record of one cast vote.
type ArbitratorVote struct {
	Dispute    Address `json:"dispute"`
	Arbitrator Address `json:"arbitrator"`
	Ruling     Ruling  `json:"ruling"`
	VotedAt    int64   `json:"voted_at"`
}

func (*ArbitratorVote) RecordKind() Kind { return KindVote }

// AgentProfile carries an agent's reputation. The score may go negative.
type AgentProfile struct {
	Authority       Address `json:"authority"`
	ReputationScore int64   `json:"reputation_score"`
	TasksCompleted  uint64  `json:"tasks_completed"`
	TasksDisputed   uint64  `json:"tasks_disputed"`
	DisputesWon     uint64  `json:"disputes_won"`
	DisputesLost    uint64  `json:"disputes_lost"`
	TotalEarned     uint64  `json:"total_earned"`
	RegisteredAt    int64   `json:"registered_at"`
	// SkillTags is a bitmap: bit 0 DataLabeling through bit 6 Other.
	SkillTags uint8 `json:"skill_tags"`
}

func (*AgentProfile) RecordKind() Kind { return KindAgentProfile }
