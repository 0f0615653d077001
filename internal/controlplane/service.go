// Package controlplane provides the HTTP API and service layer for escrowd.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/fentz26/escrowd/internal/escrow"
	"github.com/fentz26/escrowd/internal/events"
	"github.com/fentz26/escrowd/internal/keeper"
	"github.com/fentz26/escrowd/internal/models"
	"github.com/fentz26/escrowd/internal/search"
)

// Operation names accepted by POST /v1/ops/{op}.
const (
	OpInitializePlatform     = "initialize-platform"
	OpPausePlatform          = "pause-platform"
	OpResumePlatform         = "resume-platform"
	OpUpdatePlatform         = "update-platform"
	OpRegisterAgent          = "register-agent"
	OpUpdateAgentSkills      = "update-agent-skills"
	OpCreateTask             = "create-task"
	OpCreateTaskFromTemplate = "create-task-from-template"
	OpClaimTask              = "claim-task"
	OpSubmitDeliverable      = "submit-deliverable"
	OpApproveAndSettle       = "approve-and-settle"
	OpRejectSubmission       = "reject-submission"
	OpCancelTask             = "cancel-task"
	OpExpireTask             = "expire-task"
	OpCreateTemplate         = "create-template"
	OpDeactivateTemplate     = "deactivate-template"
	OpOpenDispute            = "open-dispute"
	OpCastVote               = "cast-vote"
	OpResolveDispute         = "resolve-dispute"
)

// Request bodies for operations that take a single reference or a small
// argument set. The remaining operations take the escrow params types.
type (
	TaskRequest struct {
		Task models.Address `json:"task"`
	}
	SkillsRequest struct {
		SkillTags uint8 `json:"skill_tags"`
	}
	SubmitRequest struct {
		Task            models.Address `json:"task"`
		DeliverableHash models.Hash    `json:"deliverable_hash"`
	}
	RejectRequest struct {
		Task       models.Address `json:"task"`
		ReasonHash models.Hash    `json:"reason_hash"`
	}
	TemplateRequest struct {
		Template models.Address `json:"template"`
	}
	VoteRequest struct {
		Dispute models.Address `json:"dispute"`
		Ruling  models.Ruling  `json:"ruling"`
	}
	DisputeRequest struct {
		Dispute models.Address `json:"dispute"`
	}
	FaucetRequest struct {
		Amount uint64 `json:"amount"`
	}
)

// OpResponse is the result of a committed operation. Only the fields the
// operation produces are set.
type OpResponse struct {
	Op         string             `json:"op"`
	Address    *models.Address    `json:"address,omitempty"`
	Refunded   *uint64            `json:"refunded,omitempty"`
	Settlement *escrow.Settlement `json:"settlement,omitempty"`
	Resolution *escrow.Resolution `json:"resolution,omitempty"`
}

// FaucetConfig gates Mint.
type FaucetConfig struct {
	Enabled   bool
	MaxAmount uint64
}

// StatsProvider reports keeper activity.
type StatsProvider interface {
	Stats() keeper.Stats
}

// Searcher answers title searches over live tasks and templates.
type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Hit, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type opFunc func(ctx context.Context, caller models.Address, body []byte) (OpResponse, error)

// Service provides the control plane business logic.
type Service struct {
	engine *escrow.Engine
	bus    *events.Bus
	faucet FaucetConfig
	keeper StatsProvider
	search Searcher
	logger *slog.Logger
	ops    map[string]opFunc
}

// NewService creates a control plane service over engine. bus may be nil,
// in which case event streaming is unavailable.
func NewService(engine *escrow.Engine, bus *events.Bus, faucet FaucetConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		engine: engine,
		bus:    bus,
		faucet: faucet,
		logger: logger,
	}
	s.ops = s.operations()
	return s
}

// SetKeeper attaches the keeper whose stats are reported by the API.
func (s *Service) SetKeeper(k StatsProvider) {
	s.keeper = k
}

// SetSearch attaches the title index served at /v1/search.
func (s *Service) SetSearch(x Searcher) {
	s.search = x
}

// Search runs q, or reports false when no index is attached.
func (s *Service) Search(ctx context.Context, q search.Query) ([]search.Hit, bool, error) {
	if s.search == nil {
		return nil, false, nil
	}
	hits, err := s.search.Search(ctx, q)
	return hits, true, err
}

// Engine returns the underlying program.
func (s *Service) Engine() *escrow.Engine { return s.engine }

// Operations lists the accepted operation names in sorted order.
func (s *Service) Operations() []string {
	names := make([]string, 0, len(s.ops))
	for name := range s.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute decodes body for op and runs it as caller.
func (s *Service) Execute(ctx context.Context, op string, caller models.Address, body []byte) (OpResponse, error) {
	fn, ok := s.ops[op]
	if !ok {
		return OpResponse{}, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
	resp, err := fn(ctx, caller, body)
	if err != nil {
		return OpResponse{}, err
	}
	resp.Op = op
	return resp, nil
}

// Mint credits caller from the faucet.
func (s *Service) Mint(ctx context.Context, caller models.Address, amount uint64) (uint64, error) {
	if !s.faucet.Enabled {
		return 0, ErrFaucetDisabled
	}
	if amount == 0 || amount > s.faucet.MaxAmount {
		return 0, ErrFaucetLimit
	}
	if err := s.engine.Ledger().Mint(ctx, caller, amount); err != nil {
		return 0, fmt.Errorf("minting: %w", err)
	}
	s.logger.Info("faucet mint", "account", caller.Short(), "amount", amount)
	return s.engine.Balance(ctx, caller)
}

// KeeperStats returns the keeper's counters, or false when none is attached.
func (s *Service) KeeperStats() (keeper.Stats, bool) {
	if s.keeper == nil {
		return keeper.Stats{}, false
	}
	return s.keeper.Stats(), true
}

// Ping checks the ledger when it supports it.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.engine.Ledger().(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Subscribe returns a live event feed, or false when no bus is configured.
func (s *Service) Subscribe(buffer int) (<-chan events.Envelope, func(), bool) {
	if s.bus == nil {
		return nil, func() {}, false
	}
	ch, cancel := s.bus.Subscribe(buffer)
	return ch, cancel, true
}

// decode strictly parses body into v. An empty body decodes as {}.
func decode(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

// handle adapts an operation taking a decoded request of type T.
func handle[T any](fn func(ctx context.Context, caller models.Address, req T) (OpResponse, error)) opFunc {
	return func(ctx context.Context, caller models.Address, body []byte) (OpResponse, error) {
		var req T
		if err := decode(body, &req); err != nil {
			return OpResponse{}, err
		}
		return fn(ctx, caller, req)
	}
}

func created(addr models.Address, err error) (OpResponse, error) {
	if err != nil {
		return OpResponse{}, err
	}
	return OpResponse{Address: &addr}, nil
}

func refunded(amount uint64, err error) (OpResponse, error) {
	if err != nil {
		return OpResponse{}, err
	}
	return OpResponse{Refunded: &amount}, nil
}

func done(err error) (OpResponse, error) {
	return OpResponse{}, err
}

type empty struct{}

func (s *Service) operations() map[string]opFunc {
	e := s.engine
	return map[string]opFunc{
		OpInitializePlatform: handle(func(ctx context.Context, caller models.Address, p escrow.PlatformParams) (OpResponse, error) {
			return done(e.InitializePlatform(ctx, caller, p))
		}),
		OpPausePlatform: handle(func(ctx context.Context, caller models.Address, _ empty) (OpResponse, error) {
			return done(e.PausePlatform(ctx, caller))
		}),
		OpResumePlatform: handle(func(ctx context.Context, caller models.Address, _ empty) (OpResponse, error) {
			return done(e.ResumePlatform(ctx, caller))
		}),
		OpUpdatePlatform: handle(func(ctx context.Context, caller models.Address, p escrow.PlatformParams) (OpResponse, error) {
			return done(e.UpdatePlatform(ctx, caller, p))
		}),
		OpRegisterAgent: handle(func(ctx context.Context, caller models.Address, r SkillsRequest) (OpResponse, error) {
			return created(e.RegisterAgent(ctx, caller, r.SkillTags))
		}),
		OpUpdateAgentSkills: handle(func(ctx context.Context, caller models.Address, r SkillsRequest) (OpResponse, error) {
			return done(e.UpdateAgentSkills(ctx, caller, r.SkillTags))
		}),
		OpCreateTask: handle(func(ctx context.Context, caller models.Address, p escrow.CreateTaskParams) (OpResponse, error) {
			return created(e.CreateTask(ctx, caller, p))
		}),
		OpCreateTaskFromTemplate: handle(func(ctx context.Context, caller models.Address, p escrow.TemplateTaskParams) (OpResponse, error) {
			return created(e.CreateTaskFromTemplate(ctx, caller, p))
		}),
		OpClaimTask: handle(func(ctx context.Context, caller models.Address, r TaskRequest) (OpResponse, error) {
			return done(e.ClaimTask(ctx, caller, r.Task))
		}),
		OpSubmitDeliverable: handle(func(ctx context.Context, caller models.Address, r SubmitRequest) (OpResponse, error) {
			return done(e.SubmitDeliverable(ctx, caller, r.Task, r.DeliverableHash))
		}),
		OpApproveAndSettle: handle(func(ctx context.Context, caller models.Address, r TaskRequest) (OpResponse, error) {
			st, err := e.ApproveAndSettle(ctx, caller, r.Task)
			if err != nil {
				return OpResponse{}, err
			}
			return OpResponse{Settlement: &st}, nil
		}),
		OpRejectSubmission: handle(func(ctx context.Context, caller models.Address, r RejectRequest) (OpResponse, error) {
			return done(e.RejectSubmission(ctx, caller, r.Task, r.ReasonHash))
		}),
		OpCancelTask: handle(func(ctx context.Context, caller models.Address, r TaskRequest) (OpResponse, error) {
			return refunded(e.CancelTask(ctx, caller, r.Task))
		}),
		OpExpireTask: handle(func(ctx context.Context, caller models.Address, r TaskRequest) (OpResponse, error) {
			return refunded(e.ExpireTask(ctx, caller, r.Task))
		}),
		OpCreateTemplate: handle(func(ctx context.Context, caller models.Address, p escrow.TemplateParams) (OpResponse, error) {
			return created(e.CreateTemplate(ctx, caller, p))
		}),
		OpDeactivateTemplate: handle(func(ctx context.Context, caller models.Address, r TemplateRequest) (OpResponse, error) {
			return done(e.DeactivateTemplate(ctx, caller, r.Template))
		}),
		OpOpenDispute: handle(func(ctx context.Context, caller models.Address, p escrow.OpenDisputeParams) (OpResponse, error) {
			return created(e.OpenDispute(ctx, caller, p))
		}),
		OpCastVote: handle(func(ctx context.Context, caller models.Address, r VoteRequest) (OpResponse, error) {
			return done(e.CastVote(ctx, caller, r.Dispute, r.Ruling))
		}),
		OpResolveDispute: handle(func(ctx context.Context, caller models.Address, r DisputeRequest) (OpResponse, error) {
			res, err := e.ResolveDispute(ctx, caller, r.Dispute)
			if err != nil {
				return OpResponse{}, err
			}
			return OpResponse{Resolution: &res}, nil
		}),
	}
}
