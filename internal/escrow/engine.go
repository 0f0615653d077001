// Package escrow implements the task escrow program: platform configuration,
// agent profiles, the task lifecycle with its held bounty, templates and
// dispute arbitration. Each exported operation runs as one ledger
// transaction; a returned error means nothing was written.
package escrow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fentz26/escrowd/internal/audit"
	"github.com/fentz26/escrowd/internal/events"
	"github.com/fentz26/escrowd/internal/ledger"
	"github.com/fentz26/escrowd/internal/models"
)

// ErrInvalidCaller is returned when an operation is invoked without an identity.
var ErrInvalidCaller = newError(KindAuthorization, "InvalidCaller", "caller identity is required")

// Engine executes escrow operations against a ledger.
type Engine struct {
	ledger ledger.Ledger
	bus    *events.Bus
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithBus publishes committed events to b.
func WithBus(b *events.Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine over l.
func New(l ledger.Ledger, opts ...Option) *Engine {
	e := &Engine{ledger: l, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ledger returns the underlying ledger.
func (e *Engine) Ledger() ledger.Ledger { return e.ledger }

// run executes fn as a single transaction and publishes what it emitted
// once committed.
func (e *Engine) run(ctx context.Context, op string, caller models.Address, fn func(*txn) error) error {
	if caller.IsZero() {
		return ErrInvalidCaller
	}
	envs, err := e.ledger.Update(ctx, func(tx ledger.Tx) error {
		return storeError(fn(&txn{Tx: tx}))
	})
	if err != nil {
		e.logger.Debug("operation refused", "op", op, "caller", caller.Short(), "code", CodeOf(err))
		return err
	}
	e.logger.Debug("operation committed", "op", op, "caller", caller.Short(), "events", len(envs))
	e.bus.Publish(envs...)
	return nil
}

// txn adds typed record access to a ledger transaction.
type txn struct {
	ledger.Tx
}

func (t *txn) now() int64 { return t.Now().Unix() }

func (t *txn) emit(p events.Payload) error {
	env, err := audit.Seal(p, t.now())
	if err != nil {
		return err
	}
	t.Emit(env)
	return nil
}

func (t *txn) platform() (*models.Platform, error) {
	var p models.Platform
	if err := t.Get(models.PlatformAddress(), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *txn) task(addr models.Address) (*models.Task, error) {
	var task models.Task
	if err := t.Get(addr, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (t *txn) template(addr models.Address) (*models.TaskTemplate, error) {
	var tmpl models.TaskTemplate
	if err := t.Get(addr, &tmpl); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

func (t *txn) dispute(addr models.Address) (*models.Dispute, error) {
	var d models.Dispute
	if err := t.Get(addr, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (t *txn) profile(owner models.Address) (*models.AgentProfile, error) {
	var p models.AgentProfile
	if err := t.Get(models.AgentProfileAddress(owner), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *txn) putProfile(p *models.AgentProfile) error {
	return t.Put(models.AgentProfileAddress(p.Authority), p)
}

// counter loads the creator's counter, creating it at zero on first use.
func (t *txn) counter(creator models.Address) (*models.CreatorCounter, bool, error) {
	var c models.CreatorCounter
	err := t.Get(models.CreatorCounterAddress(creator), &c)
	if errors.Is(err, ledger.ErrNotFound) {
		return &models.CreatorCounter{Authority: creator}, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &c, false, nil
}

// release pays a distribution out of a task's held balance and destroys the
// task. Whatever remains after the agent and treasury are paid, including
// the creator's share, returns to the creator.
func (t *txn) release(addr models.Address, task *models.Task, treasury models.Address, d Distribution) (uint64, error) {
	if d.Agent > 0 {
		if err := t.Transfer(addr, task.Agent, d.Agent); err != nil {
			return 0, err
		}
	}
	if d.Fee > 0 {
		if err := t.Transfer(addr, treasury, d.Fee); err != nil {
			return 0, err
		}
	}
	return t.Close(addr, task.Creator)
}
