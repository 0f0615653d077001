package escrow

import (
	"context"
	"errors"

	"github.com/fentz26/escrowd/internal/events"
	"github.com/fentz26/escrowd/internal/ledger"
	"github.com/fentz26/escrowd/internal/models"
)

// OpenDisputeParams names the task and the caller's grounds.
type OpenDisputeParams struct {
	Task         models.Address       `json:"task"`
	Reason       models.DisputeReason `json:"reason"`
	EvidenceHash models.Hash          `json:"evidence_hash"`
}

// Resolution reports a resolved dispute and where the bounty went.
type Resolution struct {
	Dispute      models.Address `json:"dispute"`
	Task         models.Address `json:"task"`
	Ruling       models.Ruling  `json:"ruling"`
	TotalVotes   uint16         `json:"total_votes"`
	Distribution Distribution   `json:"distribution"`
}

// OpenDispute moves a Submitted or Rejected task into arbitration. Only the
// creator or the assigned agent may open it.
func (e *Engine) OpenDispute(ctx context.Context, caller models.Address, params OpenDisputeParams) (models.Address, error) {
	addr := models.DisputeAddress(params.Task)
	err := e.run(ctx, "open-dispute", caller, func(t *txn) error {
		if !params.Reason.Selectable() {
			return ErrInvalidReason
		}
		task, err := t.task(params.Task)
		if err != nil {
			return err
		}
		if task.Status != models.TaskStatusSubmitted && task.Status != models.TaskStatusRejected {
			return ErrTaskNotDisputable
		}
		if caller != task.Creator && caller != task.Agent {
			return ErrNotTaskParty
		}
		task.Status = models.TaskStatusDisputed
		if err := t.Put(params.Task, task); err != nil {
			return err
		}
		return t.openDispute(params.Task, caller, params.Reason, params.EvidenceHash)
	})
	if err != nil {
		return models.Address{}, err
	}
	return addr, nil
}

func (t *txn) openDispute(task, initiator models.Address, reason models.DisputeReason, evidence models.Hash) error {
	addr := models.DisputeAddress(task)
	d := &models.Dispute{
		Task:         task,
		Initiator:    initiator,
		Reason:       reason,
		EvidenceHash: evidence,
		Status:       models.DisputeStatusOpen,
		OpenedAt:     t.now(),
		Ruling:       models.RulingPending,
	}
	if err := t.Create(addr, d); err != nil {
		return err
	}
	return t.emit(events.DisputeOpened{Dispute: addr, Task: task, Initiator: initiator, Reason: reason})
}

// CastVote records caller's ruling on an open dispute. Task parties may not
// vote, voters need a profile with at least the platform's minimum
// reputation, and each identity votes once per dispute.
func (e *Engine) CastVote(ctx context.Context, caller, addr models.Address, ruling models.Ruling) error {
	return e.run(ctx, "cast-vote", caller, func(t *txn) error {
		d, err := t.dispute(addr)
		if err != nil {
			return err
		}
		if d.Status != models.DisputeStatusOpen {
			return ErrDisputeNotOpen
		}
		verdict, ok := ruling.Verdict()
		if !ok {
			return ErrInvalidRuling
		}
		p, err := t.platform()
		if err != nil {
			return err
		}
		closes, err := addI64(d.OpenedAt, p.DisputeVotingPeriod)
		if err != nil {
			return err
		}
		if t.now() >= closes {
			return ErrVotingPeriodEnded
		}
		task, err := t.task(d.Task)
		if err != nil {
			return err
		}
		if caller == task.Creator || caller == task.Agent {
			return ErrPartyCannotVote
		}
		voter, err := t.profile(caller)
		if err != nil {
			return err
		}
		if voter.ReputationScore < p.MinVoterReputation {
			return ErrInsufficientReputation
		}

		vote := &models.ArbitratorVote{Dispute: addr, Arbitrator: caller, Ruling: verdict.Ruling(), VotedAt: t.now()}
		if err := t.Create(models.VoteAddress(addr, caller), vote); err != nil {
			if errors.Is(err, ledger.ErrExists) {
				return ErrAlreadyVoted.wrap(err)
			}
			return err
		}
		if err := countVote(d, verdict); err != nil {
			return err
		}
		if err := t.Put(addr, d); err != nil {
			return err
		}
		return t.emit(events.VoteCast{Dispute: addr, Voter: caller, Ruling: verdict.Ruling()})
	})
}

func countVote(d *models.Dispute, v models.Verdict) error {
	var err error
	switch v {
	case models.VerdictCreatorWins:
		d.VotesForCreator, err = incU16(d.VotesForCreator)
	case models.VerdictAgentWins:
		d.VotesForAgent, err = incU16(d.VotesForAgent)
	case models.VerdictSplit:
		d.VotesForSplit, err = incU16(d.VotesForSplit)
	}
	return err
}

// ResolveDispute settles a dispute by majority once voting has closed with
// quorum. Both the task and the dispute are destroyed. Anyone may call it.
func (e *Engine) ResolveDispute(ctx context.Context, caller, addr models.Address) (Resolution, error) {
	var res Resolution
	err := e.run(ctx, "resolve-dispute", caller, func(t *txn) error {
		d, err := t.dispute(addr)
		if err != nil {
			return err
		}
		if d.Status != models.DisputeStatusOpen {
			return ErrDisputeNotOpen
		}
		task, err := t.task(d.Task)
		if err != nil {
			return err
		}
		if task.Status != models.TaskStatusDisputed {
			return ErrTaskNotDisputed
		}
		p, err := t.platform()
		if err != nil {
			return err
		}
		closes, err := addI64(d.OpenedAt, p.DisputeVotingPeriod)
		if err != nil {
			return err
		}
		if t.now() < closes {
			return ErrVotingPeriodNotEnded
		}
		total, err := totalVotes(d)
		if err != nil {
			return err
		}
		if total < uint16(p.DisputeMinVotes) {
			return ErrInsufficientVotes
		}

		verdict := tally(d)
		dist, err := Distribute(verdict, task.Bounty, p.FeeBps)
		if err != nil {
			return err
		}
		if verdict != models.VerdictCreatorWins {
			if p.TotalSettled, err = addU64(p.TotalSettled, task.Bounty); err != nil {
				return err
			}
		}
		profile, err := t.profile(task.Agent)
		if err != nil {
			return err
		}
		if err := applyVerdict(profile, verdict, task.ReputationReward, dist); err != nil {
			return err
		}

		if _, err := t.release(d.Task, task, p.Treasury, dist); err != nil {
			return err
		}
		if _, err := t.Close(addr, task.Creator); err != nil {
			return err
		}
		if err := t.Put(models.PlatformAddress(), p); err != nil {
			return err
		}
		if err := t.putProfile(profile); err != nil {
			return err
		}

		res = Resolution{Dispute: addr, Task: d.Task, Ruling: verdict.Ruling(), TotalVotes: total, Distribution: dist}
		if err := t.emit(events.DisputeResolved{Dispute: addr, Task: d.Task, Ruling: res.Ruling, TotalVotes: total}); err != nil {
			return err
		}
		return t.emitProfile(profile)
	})
	return res, err
}
