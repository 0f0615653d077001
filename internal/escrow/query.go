package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/fentz26/escrowd/internal/events"
	"github.com/fentz26/escrowd/internal/ledger"
	"github.com/fentz26/escrowd/internal/models"
)

// TaskEntry is a task with its address and held balance.
type TaskEntry struct {
	Address models.Address `json:"address"`
	Balance uint64         `json:"balance"`
	Task    models.Task    `json:"task"`
}

// TaskFilter narrows ListTasks. Zero fields match everything.
type TaskFilter struct {
	Status    models.TaskStatus
	Creator   models.Address
	Agent     models.Address
	MinBounty uint64
	Limit     int
}

func (f TaskFilter) matches(t *models.Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if !f.Creator.IsZero() && t.Creator != f.Creator {
		return false
	}
	if !f.Agent.IsZero() && t.Agent != f.Agent {
		return false
	}
	return t.Bounty >= f.MinBounty
}

// TemplateEntry is a template with its address.
type TemplateEntry struct {
	Address  models.Address      `json:"address"`
	Template models.TaskTemplate `json:"template"`
}

// DisputeEntry is an open dispute with the votes cast on it so far.
type DisputeEntry struct {
	Address models.Address          `json:"address"`
	Dispute models.Dispute          `json:"dispute"`
	Votes   []models.ArbitratorVote `json:"votes"`
}

// Due lists the permissionless work that has become valid at a given time.
type Due struct {
	Expirable  []models.Address `json:"expirable"`
	Resolvable []models.Address `json:"resolvable"`
}

func (e *Engine) view(ctx context.Context, fn func(ledger.Reader) error) error {
	return storeError(e.ledger.View(ctx, fn))
}

// Platform returns the platform configuration.
func (e *Engine) Platform(ctx context.Context) (*models.Platform, error) {
	var p models.Platform
	err := e.view(ctx, func(r ledger.Reader) error {
		return r.Get(models.PlatformAddress(), &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Task returns the task at addr.
func (e *Engine) Task(ctx context.Context, addr models.Address) (*TaskEntry, error) {
	entry := &TaskEntry{Address: addr}
	err := e.view(ctx, func(r ledger.Reader) error {
		if err := r.Get(addr, &entry.Task); err != nil {
			return err
		}
		var err error
		entry.Balance, err = r.Balance(addr)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListTasks returns live tasks matching f, in address order.
func (e *Engine) ListTasks(ctx context.Context, f TaskFilter) ([]TaskEntry, error) {
	var out []TaskEntry
	err := e.view(ctx, func(r ledger.Reader) error {
		return r.Scan(models.KindTask, func(addr models.Address, decode func(models.Record) error) error {
			if f.Limit > 0 && len(out) >= f.Limit {
				return nil
			}
			var task models.Task
			if err := decode(&task); err != nil {
				return err
			}
			if !f.matches(&task) {
				return nil
			}
			balance, err := r.Balance(addr)
			if err != nil {
				return err
			}
			out = append(out, TaskEntry{Address: addr, Balance: balance, Task: task})
			return nil
		})
	})
	return out, err
}

// Agent returns the profile owned by owner.
func (e *Engine) Agent(ctx context.Context, owner models.Address) (*models.AgentProfile, error) {
	var p models.AgentProfile
	err := e.view(ctx, func(r ledger.Reader) error {
		return r.Get(models.AgentProfileAddress(owner), &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatorCounter returns the creator's task counter. TaskCount is the index
// the next CreateTask from creator must carry; a creator with no tasks yet
// gets a zero counter.
func (e *Engine) CreatorCounter(ctx context.Context, creator models.Address) (*models.CreatorCounter, error) {
	c := &models.CreatorCounter{Authority: creator}
	err := e.view(ctx, func(r ledger.Reader) error {
		err := r.Get(models.CreatorCounterAddress(creator), c)
		if errors.Is(err, ledger.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Templates lists templates, optionally only those made by creator.
func (e *Engine) Templates(ctx context.Context, creator models.Address, activeOnly bool) ([]TemplateEntry, error) {
	var out []TemplateEntry
	err := e.view(ctx, func(r ledger.Reader) error {
		return r.Scan(models.KindTemplate, func(addr models.Address, decode func(models.Record) error) error {
			var tmpl models.TaskTemplate
			if err := decode(&tmpl); err != nil {
				return err
			}
			if !creator.IsZero() && tmpl.Creator != creator {
				return nil
			}
			if activeOnly && !tmpl.Active {
				return nil
			}
			out = append(out, TemplateEntry{Address: addr, Template: tmpl})
			return nil
		})
	})
	return out, err
}

// Dispute returns an open dispute and its votes.
func (e *Engine) Dispute(ctx context.Context, addr models.Address) (*DisputeEntry, error) {
	entry := &DisputeEntry{Address: addr}
	err := e.view(ctx, func(r ledger.Reader) error {
		if err := r.Get(addr, &entry.Dispute); err != nil {
			return err
		}
		var err error
		entry.Votes, err = votesFor(r, addr)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Votes returns every vote recorded against a dispute. Votes outlive the
// dispute they were cast on.
func (e *Engine) Votes(ctx context.Context, dispute models.Address) ([]models.ArbitratorVote, error) {
	var out []models.ArbitratorVote
	err := e.view(ctx, func(r ledger.Reader) error {
		var err error
		out, err = votesFor(r, dispute)
		return err
	})
	return out, err
}

func votesFor(r ledger.Reader, dispute models.Address) ([]models.ArbitratorVote, error) {
	var out []models.ArbitratorVote
	err := r.Scan(models.KindVote, func(_ models.Address, decode func(models.Record) error) error {
		var v models.ArbitratorVote
		if err := decode(&v); err != nil {
			return err
		}
		if v.Dispute == dispute {
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

// Balance returns the held balance of any account or record.
func (e *Engine) Balance(ctx context.Context, addr models.Address) (uint64, error) {
	var balance uint64
	err := e.view(ctx, func(r ledger.Reader) error {
		var err error
		balance, err = r.Balance(addr)
		return err
	})
	return balance, err
}

// History returns committed events matching q.
func (e *Engine) History(ctx context.Context, q events.Query) ([]events.Envelope, error) {
	return e.ledger.History(ctx, q)
}

// Due reports tasks that can be expired and disputes that can be resolved
// as of now. It is advisory: each operation rechecks against the
// transaction clock.
func (e *Engine) Due(ctx context.Context, now time.Time) (Due, error) {
	var due Due
	ts := now.Unix()
	err := e.view(ctx, func(r ledger.Reader) error {
		var p models.Platform
		if err := r.Get(models.PlatformAddress(), &p); err != nil {
			return err
		}
		err := r.Scan(models.KindTask, func(addr models.Address, decode func(models.Record) error) error {
			var task models.Task
			if err := decode(&task); err != nil {
				return err
			}
			deadline, err := effectiveDeadline(&task, &p)
			if err != nil {
				return nil
			}
			if ts >= deadline {
				due.Expirable = append(due.Expirable, addr)
			}
			return nil
		})
		if err != nil {
			return err
		}
		return r.Scan(models.KindDispute, func(addr models.Address, decode func(models.Record) error) error {
			var d models.Dispute
			if err := decode(&d); err != nil {
				return err
			}
			if d.Status != models.DisputeStatusOpen {
				return nil
			}
			closes, err := addI64(d.OpenedAt, p.DisputeVotingPeriod)
			if err != nil || ts < closes {
				return nil
			}
			total, err := totalVotes(&d)
			if err != nil || total < uint16(p.DisputeMinVotes) {
				return nil
			}
			due.Resolvable = append(due.Resolvable, addr)
			return nil
		})
	})
	return due, err
}
