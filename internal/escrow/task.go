package escrow

import (
	"context"
	"unicode/utf8"

	"github.com/fentz26/escrowd/internal/events"
	"github.com/fentz26/escrowd/internal/models"
)

// CreateTaskParams describes a new task. TaskIndex must equal the
// creator's current counter.
type CreateTaskParams struct {
	Title            string      `json:"title"`
	DescriptionHash  models.Hash `json:"description_hash"`
	Bounty           uint64      `json:"bounty"`
	TaskIndex        uint64      `json:"task_index"`
	Deadline         int64       `json:"deadline"`
	ReputationReward int64       `json:"reputation_reward"`
}

// TemplateTaskParams describes a task created from a template. A zero
// Bounty uses the template default.
type TemplateTaskParams struct {
	Template         models.Address `json:"template"`
	Bounty           uint64         `json:"bounty"`
	TaskIndex        uint64         `json:"task_index"`
	Deadline         int64          `json:"deadline"`
	ReputationReward int64          `json:"reputation_reward"`
}

// Settlement reports how an approved task was paid out.
type Settlement struct {
	Task   models.Address `json:"task"`
	Agent  models.Address `json:"agent"`
	Payout uint64         `json:"payout"`
	Fee    uint64         `json:"fee"`
}

// CreateTask escrows the bounty from caller into a new Open task.
func (e *Engine) CreateTask(ctx context.Context, caller models.Address, params CreateTaskParams) (models.Address, error) {
	addr := models.TaskAddress(caller, params.TaskIndex)
	err := e.run(ctx, "create-task", caller, func(t *txn) error {
		if utf8.RuneCountInString(params.Title) > maxTitleLen {
			return ErrTitleTooLong
		}
		task := &models.Task{
			Title:            params.Title,
			DescriptionHash:  params.DescriptionHash,
			Bounty:           params.Bounty,
			Deadline:         params.Deadline,
			ReputationReward: params.ReputationReward,
		}
		return t.openTask(caller, params.TaskIndex, task)
	})
	if err != nil {
		return models.Address{}, err
	}
	return addr, nil
}

// CreateTaskFromTemplate escrows a new task whose title and description
// come from an active template.
func (e *Engine) CreateTaskFromTemplate(ctx context.Context, caller models.Address, params TemplateTaskParams) (models.Address, error) {
	addr := models.TaskAddress(caller, params.TaskIndex)
	err := e.run(ctx, "create-task-from-template", caller, func(t *txn) error {
		tmpl, err := t.template(params.Template)
		if err != nil {
			return err
		}
		if !tmpl.Active {
			return ErrTemplateInactive
		}
		bounty := params.Bounty
		if bounty == 0 {
			bounty = tmpl.DefaultBounty
		}
		linkage, err := addU64(tmpl.TemplateIndex, 1)
		if err != nil {
			return err
		}
		task := &models.Task{
			Title:            tmpl.Title,
			DescriptionHash:  tmpl.DescriptionHash,
			Bounty:           bounty,
			Deadline:         params.Deadline,
			ReputationReward: params.ReputationReward,
			TemplateIndex:    linkage,
		}
		if err := t.openTask(caller, params.TaskIndex, task); err != nil {
			return err
		}
		if tmpl.TimesUsed, err = addU64(tmpl.TimesUsed, 1); err != nil {
			return err
		}
		return t.Put(params.Template, tmpl)
	})
	if err != nil {
		return models.Address{}, err
	}
	return addr, nil
}

// openTask validates task against the platform, claims the creator's next
// index and moves the bounty into the new task's balance.
func (t *txn) openTask(creator models.Address, index uint64, task *models.Task) error {
	p, err := t.platform()
	if err != nil {
		return err
	}
	if p.Paused {
		return ErrPlatformPaused
	}
	if task.Bounty < p.MinBounty {
		return ErrBountyTooLow
	}
	now := t.now()
	if task.Deadline <= now {
		return ErrDeadlineInPast
	}
	if task.ReputationReward < 0 || task.ReputationReward > maxRepReward {
		return ErrInvalidRepReward
	}

	counter, fresh, err := t.counter(creator)
	if err != nil {
		return err
	}
	if index != counter.TaskCount {
		return ErrInvalidTaskIndex
	}
	if counter.TaskCount, err = addU64(counter.TaskCount, 1); err != nil {
		return err
	}
	if fresh {
		err = t.Create(models.CreatorCounterAddress(creator), counter)
	} else {
		err = t.Put(models.CreatorCounterAddress(creator), counter)
	}
	if err != nil {
		return err
	}

	if p.TaskCount, err = addU64(p.TaskCount, 1); err != nil {
		return err
	}
	if err := t.Put(models.PlatformAddress(), p); err != nil {
		return err
	}

	task.Creator = creator
	task.TaskIndex = index
	task.Status = models.TaskStatusOpen
	task.CreatedAt = now
	addr := models.TaskAddress(creator, index)
	if err := t.Create(addr, task); err != nil {
		return err
	}
	if err := t.Transfer(creator, addr, task.Bounty); err != nil {
		return err
	}
	return t.emit(events.TaskCreated{
		Task:      addr,
		Creator:   creator,
		TaskIndex: index,
		Bounty:    task.Bounty,
		Deadline:  task.Deadline,
	})
}

// ClaimTask assigns an Open task to caller, who must hold an agent profile.
func (e *Engine) ClaimTask(ctx context.Context, caller, addr models.Address) error {
	return e.run(ctx, "claim-task", caller, func(t *txn) error {
		p, err := t.platform()
		if err != nil {
			return err
		}
		if p.Paused {
			return ErrPlatformPaused
		}
		task, err := t.task(addr)
		if err != nil {
			return err
		}
		if task.Status != models.TaskStatusOpen {
			return ErrTaskNotOpen
		}
		if t.now() >= task.Deadline {
			return ErrTaskExpired
		}
		if _, err := t.profile(caller); err != nil {
			return err
		}
		task.Agent = caller
		task.Status = models.TaskStatusClaimed
		if err := t.Put(addr, task); err != nil {
			return err
		}
		return t.emit(events.TaskClaimed{Task: addr, Agent: caller, TaskIndex: task.TaskIndex})
	})
}

// SubmitDeliverable records the assigned agent's work on a Claimed or
// Rejected task.
func (e *Engine) SubmitDeliverable(ctx context.Context, caller, addr models.Address, deliverable models.Hash) error {
	return e.run(ctx, "submit-deliverable", caller, func(t *txn) error {
		p, err := t.platform()
		if err != nil {
			return err
		}
		if p.Paused {
			return ErrPlatformPaused
		}
		task, err := t.task(addr)
		if err != nil {
			return err
		}
		if task.Status != models.TaskStatusClaimed && task.Status != models.TaskStatusRejected {
			return ErrTaskNotClaimedOrRejected
		}
		if task.Agent != caller {
			return ErrNotAssignedAgent
		}
		task.DeliverableHash = deliverable
		task.Status = models.TaskStatusSubmitted
		if err := t.Put(addr, task); err != nil {
			return err
		}
		return t.emit(events.DeliverableSubmitted{Task: addr, Agent: caller, DeliverableHash: deliverable})
	})
}

// ApproveAndSettle pays the agent bounty minus fee, pays the fee to the
// treasury and destroys the task.
func (e *Engine) ApproveAndSettle(ctx context.Context, caller, addr models.Address) (Settlement, error) {
	var s Settlement
	err := e.run(ctx, "approve-and-settle", caller, func(t *txn) error {
		task, err := t.task(addr)
		if err != nil {
			return err
		}
		if task.Status != models.TaskStatusSubmitted {
			return ErrTaskNotSubmitted
		}
		if task.Creator != caller {
			return ErrNotTaskCreator
		}
		p, err := t.platform()
		if err != nil {
			return err
		}
		d, err := Distribute(models.VerdictAgentWins, task.Bounty, p.FeeBps)
		if err != nil {
			return err
		}
		if p.TotalSettled, err = addU64(p.TotalSettled, task.Bounty); err != nil {
			return err
		}
		profile, err := t.profile(task.Agent)
		if err != nil {
			return err
		}
		if err := creditSettlement(profile, task.ReputationReward, d.Agent); err != nil {
			return err
		}

		if _, err := t.release(addr, task, p.Treasury, d); err != nil {
			return err
		}
		if err := t.Put(models.PlatformAddress(), p); err != nil {
			return err
		}
		if err := t.putProfile(profile); err != nil {
			return err
		}
		s = Settlement{Task: addr, Agent: task.Agent, Payout: d.Agent, Fee: d.Fee}
		if err := t.emit(events.TaskSettled{Task: addr, Agent: task.Agent, Payout: d.Agent, Fee: d.Fee}); err != nil {
			return err
		}
		return t.emitProfile(profile)
	})
	return s, err
}

// RejectSubmission sends a Submitted task back to the agent. The third
// rejection escalates the task straight to arbitration, opening the
// dispute on the creator's behalf with the rejection reason as evidence.
func (e *Engine) RejectSubmission(ctx context.Context, caller, addr models.Address, reason models.Hash) error {
	return e.run(ctx, "reject-submission", caller, func(t *txn) error {
		task, err := t.task(addr)
		if err != nil {
			return err
		}
		if task.Status != models.TaskStatusSubmitted {
			return ErrTaskNotSubmitted
		}
		if task.Creator != caller {
			return ErrNotTaskCreator
		}
		if task.RejectionCount == 255 {
			return ErrArithmeticOverflow
		}
		task.RejectionCount++
		task.Status = models.TaskStatusRejected
		if task.RejectionCount >= maxRejections {
			task.Status = models.TaskStatusDisputed
		}
		if err := t.Put(addr, task); err != nil {
			return err
		}
		if err := t.emit(events.SubmissionRejected{Task: addr, Agent: task.Agent, ReasonHash: reason}); err != nil {
			return err
		}
		if task.Status == models.TaskStatusDisputed {
			return t.openDispute(addr, caller, models.ReasonRejectionLimit, reason)
		}
		return nil
	})
}

// CancelTask refunds an Open task to its creator and destroys it.
func (e *Engine) CancelTask(ctx context.Context, caller, addr models.Address) (uint64, error) {
	var refunded uint64
	err := e.run(ctx, "cancel-task", caller, func(t *txn) error {
		task, err := t.task(addr)
		if err != nil {
			return err
		}
		if task.Status != models.TaskStatusOpen {
			return ErrTaskNotOpen
		}
		if task.Creator != caller {
			return ErrNotTaskCreator
		}
		if refunded, err = t.Close(addr, task.Creator); err != nil {
			return err
		}
		return t.emit(events.TaskCancelled{Task: addr, Creator: task.Creator, Refunded: refunded})
	})
	return refunded, err
}

// ExpireTask refunds an Open or Claimed task whose deadline has passed.
// Claimed tasks get the platform grace period on top of the deadline.
// Anyone may call it.
func (e *Engine) ExpireTask(ctx context.Context, caller, addr models.Address) (uint64, error) {
	var refunded uint64
	err := e.run(ctx, "expire-task", caller, func(t *txn) error {
		task, err := t.task(addr)
		if err != nil {
			return err
		}
		p, err := t.platform()
		if err != nil {
			return err
		}
		deadline, err := effectiveDeadline(task, p)
		if err != nil {
			return err
		}
		if t.now() < deadline {
			return ErrDeadlineNotReached
		}
		if refunded, err = t.Close(addr, task.Creator); err != nil {
			return err
		}
		return t.emit(events.TaskExpired{Task: addr, Creator: task.Creator, Refunded: refunded})
	})
	return refunded, err
}

func effectiveDeadline(task *models.Task, p *models.Platform) (int64, error) {
	switch task.Status {
	case models.TaskStatusOpen:
		return task.Deadline, nil
	case models.TaskStatusClaimed:
		return addI64(task.Deadline, p.ClaimGracePeriod)
	}
	return 0, ErrTaskCannotExpire
}
