package escrow

import (
	"testing"
	"time"

	"github.com/fentz26/escrowd/internal/events"
	"github.com/fentz26/escrowd/internal/ledger"
	"github.com/fentz26/escrowd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApproveAndSettle(t *testing.T) {
	f := newFixture(t)
	creatorStart := f.balance(f.creator)

	task := f.createTask(5000)
	assert.Equal(t, uint64(5000), f.balance(task))
	assert.Equal(t, creatorStart-5000, f.balance(f.creator))

	var counter models.CreatorCounter
	require.NoError(t, f.ledger.View(f.ctx, func(r ledger.Reader) error {
		return r.Get(models.CreatorCounterAddress(f.creator), &counter)
	}))
	assert.Equal(t, uint64(1), counter.TaskCount)

	require.NoError(t, f.engine.ClaimTask(f.ctx, f.agent, task))
	assert.Equal(t, models.TaskStatusClaimed, f.status(task))

	require.NoError(t, f.engine.SubmitDeliverable(f.ctx, f.agent, task, models.ContentHash([]byte("labels.csv"))))
	assert.Equal(t, models.TaskStatusSubmitted, f.status(task))

	s, err := f.engine.ApproveAndSettle(f.ctx, f.creator, task)
	require.NoError(t, err)
	assert.Equal(t, uint64(4875), s.Payout)
	assert.Equal(t, uint64(125), s.Fee)

	assert.Equal(t, uint64(4875), f.balance(f.agent))
	assert.Equal(t, uint64(125), f.balance(f.treasury))
	assert.Equal(t, creatorStart-5000, f.balance(f.creator), "no residual beyond the bounty")
	assert.Zero(t, f.balance(task))

	_, err = f.engine.Task(f.ctx, task)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	p := f.profile(f.agent)
	assert.Equal(t, uint64(1), p.TasksCompleted)
	assert.Equal(t, int64(taskReward), p.ReputationScore)
	assert.Equal(t, uint64(4875), p.TotalEarned)

	platform := f.platform()
	assert.Equal(t, uint64(5000), platform.TotalSettled)
	assert.Equal(t, uint64(1), platform.TaskCount)

	names := eventNames(t, f, events.Query{AfterSeq: 2})
	assert.Equal(t, []string{
		events.NameTaskCreated,
		events.NameTaskClaimed,
		events.NameDeliverableSubmitted,
		events.NameTaskSettled,
		events.NameAgentProfileUpdated,
	}, names)
}

func TestApproveRequiresCreatorAndSubmitted(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(5000)

	_, err := f.engine.ApproveAndSettle(f.ctx, f.creator, task)
	assert.ErrorIs(t, err, ErrTaskNotSubmitted)

	require.NoError(t, f.engine.ClaimTask(f.ctx, f.agent, task))
	require.NoError(t, f.engine.SubmitDeliverable(f.ctx, f.agent, task, models.Hash{1}))

	_, err = f.engine.ApproveAndSettle(f.ctx, f.agent, task)
	assert.ErrorIs(t, err, ErrNotTaskCreator)
	assert.Equal(t, uint64(5000), f.balance(task))
}

func TestRejectionLimitEscalates(t *testing.T) {
	f := newFixture(t)
	task := f.submittedTask(5000)
	reason := models.ContentHash([]byte("labels are wrong"))

	for i := 1; i < maxRejections; i++ {
		require.NoError(t, f.engine.RejectSubmission(f.ctx, f.creator, task, reason))
		assert.Equal(t, models.TaskStatusRejected, f.status(task))
		require.NoError(t, f.engine.SubmitDeliverable(f.ctx, f.agent, task, models.Hash{byte(i)}))
	}
	require.NoError(t, f.engine.RejectSubmission(f.ctx, f.creator, task, reason))

	entry, err := f.engine.Task(f.ctx, task)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDisputed, entry.Task.Status)
	assert.Equal(t, uint8(3), entry.Task.RejectionCount)
	assert.Equal(t, uint64(5000), entry.Balance)

	d, err := f.engine.Dispute(f.ctx, models.DisputeAddress(task))
	require.NoError(t, err)
	assert.Equal(t, models.ReasonRejectionLimit, d.Dispute.Reason)
	assert.Equal(t, f.creator, d.Dispute.Initiator)
	assert.Equal(t, reason, d.Dispute.EvidenceHash)
	assert.Equal(t, models.DisputeStatusOpen, d.Dispute.Status)
	assert.Equal(t, models.RulingPending, d.Dispute.Ruling)

	assert.ErrorIs(t, f.engine.SubmitDeliverable(f.ctx, f.agent, task, models.Hash{9}), ErrTaskNotClaimedOrRejected)
	assert.ErrorIs(t, f.engine.RejectSubmission(f.ctx, f.creator, task, reason), ErrTaskNotSubmitted)
}

func TestRejectRequiresCreator(t *testing.T) {
	f := newFixture(t)
	task := f.submittedTask(5000)

	assert.ErrorIs(t, f.engine.RejectSubmission(f.ctx, f.agent, task, models.Hash{}), ErrNotTaskCreator)
	assert.Equal(t, models.TaskStatusSubmitted, f.status(task))
}

func TestExpireClaimedTaskHonoursGracePeriod(t *testing.T) {
	f := newFixture(t)
	creatorStart := f.balance(f.creator)
	keeper := models.Address{0xee}

	task := f.createTask(5000)
	require.NoError(t, f.engine.ClaimTask(f.ctx, f.agent, task))

	f.clock.Set(start.Add(time.Hour))
	_, err := f.engine.ExpireTask(f.ctx, keeper, task)
	assert.ErrorIs(t, err, ErrDeadlineNotReached)
	assert.Equal(t, KindTiming, KindOf(err))

	f.clock.Advance(gracePeriod - time.Second)
	_, err = f.engine.ExpireTask(f.ctx, keeper, task)
	assert.ErrorIs(t, err, ErrDeadlineNotReached)

	f.clock.Advance(time.Second)
	refunded, err := f.engine.ExpireTask(f.ctx, keeper, task)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), refunded)
	assert.Equal(t, creatorStart, f.balance(f.creator))
	assert.Zero(t, f.balance(f.agent))

	_, err = f.engine.Task(f.ctx, task)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestExpireOpenTaskAtDeadline(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(5000)

	_, err := f.engine.ExpireTask(f.ctx, f.agent, task)
	assert.ErrorIs(t, err, ErrDeadlineNotReached)

	f.clock.Set(start.Add(time.Hour))
	assert.ErrorIs(t, f.engine.ClaimTask(f.ctx, f.agent, task), ErrTaskExpired)

	_, err = f.engine.ExpireTask(f.ctx, f.agent, task)
	require.NoError(t, err)
}

func TestExpireRejectsSubmittedTask(t *testing.T) {
	f := newFixture(t)
	task := f.submittedTask(5000)
	f.clock.Set(start.Add(24 * time.Hour))

	_, err := f.engine.ExpireTask(f.ctx, f.agent, task)
	assert.ErrorIs(t, err, ErrTaskCannotExpire)
}

func TestTaskIndexMustMatchCounter(t *testing.T) {
	f := newFixture(t)
	f.createTask(5000)
	before := f.balance(f.creator)

	_, err := f.engine.CreateTask(f.ctx, f.creator, CreateTaskParams{
		Title:     "Out of order",
		Bounty:    5000,
		TaskIndex: 5,
		Deadline:  f.deadline(),
	})
	assert.ErrorIs(t, err, ErrInvalidTaskIndex)

	var counter models.CreatorCounter
	require.NoError(t, f.ledger.View(f.ctx, func(r ledger.Reader) error {
		return r.Get(models.CreatorCounterAddress(f.creator), &counter)
	}))
	assert.Equal(t, uint64(1), counter.TaskCount)
	assert.Equal(t, before, f.balance(f.creator))

	_, err = f.engine.CreateTask(f.ctx, f.creator, CreateTaskParams{Bounty: 5000, TaskIndex: 0, Deadline: f.deadline()})
	assert.ErrorIs(t, err, ErrInvalidTaskIndex, "indexes are never reused")
}

func TestCreatorCounterRead(t *testing.T) {
	f := newFixture(t)

	counter, err := f.engine.CreatorCounter(f.ctx, f.creator)
	require.NoError(t, err)
	assert.Equal(t, f.creator, counter.Authority)
	assert.Equal(t, uint64(0), counter.TaskCount, "no tasks yet")

	task := f.createTask(5000)
	_, err = f.engine.CancelTask(f.ctx, f.creator, task)
	require.NoError(t, err)

	counter, err = f.engine.CreatorCounter(f.ctx, f.creator)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), counter.TaskCount, "closing a task keeps the counter")

	_, err = f.engine.CreateTask(f.ctx, f.creator, CreateTaskParams{
		Title:     "Next",
		Bounty:    5000,
		TaskIndex: counter.TaskCount,
		Deadline:  f.deadline(),
	})
	assert.NoError(t, err)
}

func TestCreateTaskValidation(t *testing.T) {
	f := newFixture(t)
	long := ""
	for i := 0; i < 65; i++ {
		long += "é"
	}
	exact := long[:len(long)-len("é")]

	tests := []struct {
		name   string
		params CreateTaskParams
		want   error
	}{
		{"bounty below minimum", CreateTaskParams{Bounty: 999, Deadline: f.deadline()}, ErrBountyTooLow},
		{"title too long", CreateTaskParams{Title: long, Bounty: 1000, Deadline: f.deadline()}, ErrTitleTooLong},
		{"deadline now", CreateTaskParams{Bounty: 1000, Deadline: start.Unix()}, ErrDeadlineInPast},
		{"negative reward", CreateTaskParams{Bounty: 1000, Deadline: f.deadline(), ReputationReward: -1}, ErrInvalidRepReward},
		{"reward above cap", CreateTaskParams{Bounty: 1000, Deadline: f.deadline(), ReputationReward: 1001}, ErrInvalidRepReward},
		{"more than the creator holds", CreateTaskParams{Bounty: 2_000_000, Deadline: f.deadline()}, ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateTask(f.ctx, f.creator, tt.params)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := f.engine.CreateTask(f.ctx, f.creator, CreateTaskParams{Title: exact, Bounty: 1000, Deadline: f.deadline(), ReputationReward: 1000})
	assert.NoError(t, err, "64 code points is allowed")
}

func TestClaimRequiresProfile(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(5000)

	err := f.engine.ClaimTask(f.ctx, models.Address{0x77}, task)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	require.NoError(t, f.engine.ClaimTask(f.ctx, f.agent, task))
	assert.ErrorIs(t, f.engine.ClaimTask(f.ctx, f.agent, task), ErrTaskNotOpen)
}

func TestSubmitRequiresAssignedAgent(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(5000)

	assert.ErrorIs(t, f.engine.SubmitDeliverable(f.ctx, f.agent, task, models.Hash{}), ErrTaskNotClaimedOrRejected)
	require.NoError(t, f.engine.ClaimTask(f.ctx, f.agent, task))
	assert.ErrorIs(t, f.engine.SubmitDeliverable(f.ctx, f.creator, task, models.Hash{}), ErrNotAssignedAgent)
}

func TestCancelTask(t *testing.T) {
	f := newFixture(t)
	creatorStart := f.balance(f.creator)
	task := f.createTask(5000)

	_, err := f.engine.CancelTask(f.ctx, f.agent, task)
	assert.ErrorIs(t, err, ErrNotTaskCreator)

	refunded, err := f.engine.CancelTask(f.ctx, f.creator, task)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), refunded)
	assert.Equal(t, creatorStart, f.balance(f.creator))

	claimed := f.createTask(5000)
	require.NoError(t, f.engine.ClaimTask(f.ctx, f.agent, claimed))
	_, err = f.engine.CancelTask(f.ctx, f.creator, claimed)
	assert.ErrorIs(t, err, ErrTaskNotOpen)
}

func TestPauseBlocksNewWork(t *testing.T) {
	f := newFixture(t)
	claimed := f.createTask(5000)
	open := f.createTask(5000)
	require.NoError(t, f.engine.ClaimTask(f.ctx, f.agent, claimed))

	require.NoError(t, f.engine.PausePlatform(f.ctx, f.authority))

	_, err := f.engine.CreateTask(f.ctx, f.creator, CreateTaskParams{Bounty: 5000, TaskIndex: f.nextIndex, Deadline: f.deadline()})
	assert.ErrorIs(t, err, ErrPlatformPaused)
	assert.ErrorIs(t, f.engine.ClaimTask(f.ctx, f.agent, open), ErrPlatformPaused)
	assert.ErrorIs(t, f.engine.SubmitDeliverable(f.ctx, f.agent, claimed, models.Hash{}), ErrPlatformPaused)

	_, err = f.engine.CancelTask(f.ctx, f.creator, open)
	assert.NoError(t, err, "refunds stay available while paused")
}

func TestBountyConservation(t *testing.T) {
	f := newFixture(t)
	accounts := []models.Address{f.creator, f.agent, f.treasury}
	total := func(extra ...models.Address) uint64 {
		var sum uint64
		for _, a := range append(accounts, extra...) {
			sum += f.balance(a)
		}
		return sum
	}
	want := total()

	settled := f.submittedTask(7777)
	cancelled := f.createTask(3000)
	disputed := f.submittedTask(1001)
	assert.Equal(t, want, total(settled, cancelled, disputed))

	_, err := f.engine.ApproveAndSettle(f.ctx, f.creator, settled)
	require.NoError(t, err)
	_, err = f.engine.CancelTask(f.ctx, f.creator, cancelled)
	require.NoError(t, err)
	_, err = f.engine.OpenDispute(f.ctx, f.agent, OpenDisputeParams{Task: disputed, Reason: models.ReasonQualityIssue})
	require.NoError(t, err)
	assert.Equal(t, want, total(settled, cancelled, disputed))

	voters := f.voters(3)
	accounts = append(accounts, voters...)
	for _, v := range voters {
		require.NoError(t, f.engine.CastVote(f.ctx, v, models.DisputeAddress(disputed), models.RulingSplit))
	}
	f.clock.Advance(votingPeriod)
	_, err = f.engine.ResolveDispute(f.ctx, voters[0], models.DisputeAddress(disputed))
	require.NoError(t, err)
	assert.Equal(t, want, total(settled, cancelled, disputed))
}

func TestTemplateLifecycle(t *testing.T) {
	f := newFixture(t)

	tmplAddr, err := f.engine.CreateTemplate(f.ctx, f.creator, TemplateParams{
		Title:           "Translate abstract",
		DescriptionHash: models.ContentHash([]byte("translate to English")),
		DefaultBounty:   2500,
		Category:        models.CategoryTranslation,
	})
	require.NoError(t, err)
	assert.Equal(t, models.TemplateAddress(f.creator, 0), tmplAddr)
	assert.Equal(t, uint64(1), f.platform().TemplateCount)

	task, err := f.engine.CreateTaskFromTemplate(f.ctx, f.creator, TemplateTaskParams{
		Template:         tmplAddr,
		TaskIndex:        0,
		Deadline:         f.deadline(),
		ReputationReward: 10,
	})
	require.NoError(t, err)

	entry, err := f.engine.Task(f.ctx, task)
	require.NoError(t, err)
	assert.Equal(t, uint64(2500), entry.Task.Bounty, "zero bounty uses the template default")
	assert.Equal(t, uint64(2500), entry.Balance)
	assert.Equal(t, "Translate abstract", entry.Task.Title)
	assert.Equal(t, uint64(1), entry.Task.TemplateIndex, "linkage is one-based")

	templates, err := f.engine.Templates(f.ctx, f.creator, false)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, uint64(1), templates[0].Template.TimesUsed)

	assert.ErrorIs(t, f.engine.DeactivateTemplate(f.ctx, f.agent, tmplAddr), ErrNotTaskCreator)
	require.NoError(t, f.engine.DeactivateTemplate(f.ctx, f.creator, tmplAddr))
	assert.ErrorIs(t, f.engine.DeactivateTemplate(f.ctx, f.creator, tmplAddr), ErrTemplateInactive)

	_, err = f.engine.CreateTaskFromTemplate(f.ctx, f.creator, TemplateTaskParams{
		Template:  tmplAddr,
		TaskIndex: 1,
		Deadline:  f.deadline(),
	})
	assert.ErrorIs(t, err, ErrTemplateInactive)

	active, err := f.engine.Templates(f.ctx, models.Address{}, true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestCreateTemplateValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateTemplate(f.ctx, f.creator, TemplateParams{Title: "x", Category: "poetry"})
	assert.ErrorIs(t, err, ErrInvalidCategory)
	assert.Zero(t, f.platform().TemplateCount)
}

func TestListTasksFilters(t *testing.T) {
	f := newFixture(t)
	small := f.createTask(1000)
	big := f.createTask(9000)
	require.NoError(t, f.engine.ClaimTask(f.ctx, f.agent, big))

	all, err := f.engine.ListTasks(f.ctx, TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	open, err := f.engine.ListTasks(f.ctx, TaskFilter{Status: models.TaskStatusOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, small, open[0].Address)

	mine, err := f.engine.ListTasks(f.ctx, TaskFilter{Agent: f.agent})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, big, mine[0].Address)

	rich, err := f.engine.ListTasks(f.ctx, TaskFilter{MinBounty: 5000, Creator: f.creator})
	require.NoError(t, err)
	require.Len(t, rich, 1)
	assert.Equal(t, uint64(9000), rich[0].Balance)

	limited, err := f.engine.ListTasks(f.ctx, TaskFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
