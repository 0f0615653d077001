// Package keeper runs the permissionless escrow operations on a schedule:
// it expires tasks past their deadline and resolves disputes whose voting
// window has closed with quorum.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fentz26/escrowd/internal/escrow"
	"github.com/fentz26/escrowd/internal/ledger"
	"github.com/fentz26/escrowd/internal/models"
)

// Config defines the keeper configuration.
type Config struct {
	// Enabled starts the keeper with the daemon.
	Enabled bool `yaml:"enabled" toml:"enabled"`
	// Interval is the time between sweeps.
	Interval time.Duration `yaml:"interval" toml:"interval"`
	// GlobalMax is the maximum number of operations in flight per sweep.
	GlobalMax int `yaml:"global_max" toml:"global_max"`
	// KeyPath is the keeper's signing identity.
	KeyPath string `yaml:"key_path" toml:"key_path"`
}

// DefaultConfig returns the default keeper configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Interval:  30 * time.Second,
		GlobalMax: 4,
	}
}

// Stats counts keeper outcomes since start.
type Stats struct {
	Sweeps   uint64 `json:"sweeps"`
	Expired  uint64 `json:"expired"`
	Resolved uint64 `json:"resolved"`
	Skipped  uint64 `json:"skipped"`
	Failed   uint64 `json:"failed"`
	Active   int    `json:"active"`
}

// Keeper sweeps the ledger for due work.
type Keeper struct {
	engine *escrow.Engine
	caller models.Address
	config *Config
	clock  ledger.Clock
	logger *slog.Logger

	mu    sync.Mutex
	stats Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Keeper.
type Option func(*Keeper)

// WithClock sets the clock used to find due work.
func WithClock(c ledger.Clock) Option {
	return func(k *Keeper) { k.clock = c }
}

// WithLogger sets the keeper logger.
func WithLogger(l *slog.Logger) Option {
	return func(k *Keeper) { k.logger = l }
}

// New creates a keeper that signs its operations as caller.
func New(engine *escrow.Engine, caller models.Address, cfg *Config, opts ...Option) *Keeper {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	k := &Keeper{
		engine: engine,
		caller: caller,
		config: cfg,
		clock:  ledger.SystemClock{},
		logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Start begins the sweep loop.
func (k *Keeper) Start() {
	k.wg.Add(1)
	go k.loop()
	k.logger.Info("keeper started", "interval", k.config.Interval, "global_max", k.config.GlobalMax, "caller", k.caller.Short())
}

// Stop cancels the loop and waits for in-flight operations.
func (k *Keeper) Stop() {
	k.cancel()
	k.wg.Wait()
	k.logger.Info("keeper stopped")
}

func (k *Keeper) loop() {
	defer k.wg.Done()

	interval := k.config.Interval
	if interval <= 0 {
		interval = DefaultConfig().Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-k.ctx.Done():
			return
		case <-ticker.C:
			if err := k.Sweep(k.ctx); err != nil && !errors.Is(err, context.Canceled) {
				k.logger.Warn("sweep failed", "error", err)
			}
		}
	}
}

type job struct {
	kind string
	addr models.Address
}

// Sweep runs one pass: it lists due work and executes it with at most
// GlobalMax operations in flight.
func (k *Keeper) Sweep(ctx context.Context) error {
	due, err := k.engine.Due(ctx, k.clock.Now())
	if err != nil {
		return err
	}
	jobs := make([]job, 0, len(due.Expirable)+len(due.Resolvable))
	for _, addr := range due.Expirable {
		jobs = append(jobs, job{kind: "expire", addr: addr})
	}
	for _, addr := range due.Resolvable {
		jobs = append(jobs, job{kind: "resolve", addr: addr})
	}

	k.mu.Lock()
	k.stats.Sweeps++
	k.mu.Unlock()
	if len(jobs) == 0 {
		return nil
	}

	workers := k.config.GlobalMax
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	queue := make(chan job)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range queue {
				k.run(ctx, j)
			}
		}()
	}
	for _, j := range jobs {
		select {
		case queue <- j:
		case <-ctx.Done():
		}
	}
	close(queue)
	wg.Wait()
	return ctx.Err()
}

func (k *Keeper) run(ctx context.Context, j job) {
	if ctx.Err() != nil {
		return
	}
	k.track(1)
	defer k.track(-1)

	var err error
	switch j.kind {
	case "expire":
		var refunded uint64
		refunded, err = k.engine.ExpireTask(ctx, k.caller, j.addr)
		if err == nil {
			k.logger.Info("expired task", "task", j.addr.Short(), "refunded", refunded)
		}
	case "resolve":
		var res escrow.Resolution
		res, err = k.engine.ResolveDispute(ctx, k.caller, j.addr)
		if err == nil {
			k.logger.Info("resolved dispute", "dispute", j.addr.Short(), "ruling", res.Ruling, "votes", res.TotalVotes)
		}
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	switch {
	case err == nil && j.kind == "expire":
		k.stats.Expired++
	case err == nil:
		k.stats.Resolved++
	case stale(err):
		// Another caller got there first, or the ledger clock disagrees.
		k.stats.Skipped++
		k.logger.Debug("skipped", "op", j.kind, "addr", j.addr.Short(), "code", escrow.CodeOf(err))
	default:
		k.stats.Failed++
		k.logger.Warn("operation failed", "op", j.kind, "addr", j.addr.Short(), "error", err)
	}
}

func stale(err error) bool {
	switch escrow.KindOf(err) {
	case escrow.KindNotFound, escrow.KindTiming, escrow.KindState, escrow.KindQuorum:
		return true
	}
	return false
}

func (k *Keeper) track(delta int) {
	k.mu.Lock()
	k.stats.Active += delta
	k.mu.Unlock()
}

// Stats returns a snapshot of keeper counters.
func (k *Keeper) Stats() Stats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.stats
}
