package models

import "fmt"

// Ruling is the stored outcome tag of a dispute or vote. Pending is only
// ever the initial value of an unresolved dispute.
type Ruling string

const (
	RulingPending     Ruling = "pending"
	RulingCreatorWins Ruling = "creator_wins"
	RulingAgentWins   Ruling = "agent_wins"
	RulingSplit       Ruling = "split"
)

// Verdict is a decided ruling. It has no Pending member, so tally and
// settlement code never handles an undecided outcome.
type Verdict uint8

const (
	VerdictCreatorWins Verdict = iota
	VerdictAgentWins
	VerdictSplit
)

// Verdict narrows r. It fails for Pending and unknown tags.
func (r Ruling) Verdict() (Verdict, bool) {
	switch r {
	case RulingCreatorWins:
		return VerdictCreatorWins, true
	case RulingAgentWins:
		return VerdictAgentWins, true
	case RulingSplit:
		return VerdictSplit, true
	}
	return 0, false
}

// Ruling widens v back to its stored tag.
func (v Verdict) Ruling() Ruling {
	switch v {
	case VerdictCreatorWins:
		return RulingCreatorWins
	case VerdictAgentWins:
		return RulingAgentWins
	case VerdictSplit:
		return RulingSplit
	}
	panic(fmt.Sprintf("models: verdict %d out of range", v))
}

func (v Verdict) String() string { return string(v.Ruling()) }
