package escrow

import (
	"context"

	"github.com/fentz26/escrowd/internal/events"
	"github.com/fentz26/escrowd/internal/models"
)

// PlatformParams is the configuration accepted by InitializePlatform and
// UpdatePlatform.
type PlatformParams struct {
	FeeBps              uint16         `json:"fee_bps"`
	MinBounty           uint64         `json:"min_bounty"`
	DisputeVotingPeriod int64          `json:"dispute_voting_period"`
	DisputeMinVotes     uint8          `json:"dispute_min_votes"`
	MinVoterReputation  int64          `json:"min_voter_reputation"`
	ClaimGracePeriod    int64          `json:"claim_grace_period"`
	Treasury            models.Address `json:"treasury"`
}

func (p PlatformParams) validate() error {
	if p.FeeBps > maxFeeBps {
		return ErrInvalidFee
	}
	if p.DisputeVotingPeriod <= 0 || p.DisputeMinVotes == 0 ||
		p.MinVoterReputation < 0 || p.ClaimGracePeriod < 0 {
		return ErrInvalidConfig
	}
	return nil
}

func (p PlatformParams) apply(dst *models.Platform) {
	dst.FeeBps = p.FeeBps
	dst.MinBounty = p.MinBounty
	dst.DisputeVotingPeriod = p.DisputeVotingPeriod
	dst.DisputeMinVotes = p.DisputeMinVotes
	dst.MinVoterReputation = p.MinVoterReputation
	dst.ClaimGracePeriod = p.ClaimGracePeriod
	dst.Treasury = p.Treasury
}

// InitializePlatform creates the platform record with caller as authority.
// It succeeds at most once.
func (e *Engine) InitializePlatform(ctx context.Context, caller models.Address, params PlatformParams) error {
	return e.run(ctx, "initialize-platform", caller, func(t *txn) error {
		if err := params.validate(); err != nil {
			return err
		}
		p := &models.Platform{Authority: caller}
		params.apply(p)
		if err := t.Create(models.PlatformAddress(), p); err != nil {
			return err
		}
		return t.emit(events.PlatformInitialized{Authority: caller, FeeBps: p.FeeBps, Treasury: p.Treasury})
	})
}

// PausePlatform stops task creation, claims and submissions.
func (e *Engine) PausePlatform(ctx context.Context, caller models.Address) error {
	return e.setPaused(ctx, "pause-platform", caller, true)
}

// ResumePlatform lifts a pause.
func (e *Engine) ResumePlatform(ctx context.Context, caller models.Address) error {
	return e.setPaused(ctx, "resume-platform", caller, false)
}

func (e *Engine) setPaused(ctx context.Context, op string, caller models.Address, paused bool) error {
	return e.run(ctx, op, caller, func(t *txn) error {
		p, err := t.authorized(caller)
		if err != nil {
			return err
		}
		if p.Paused == paused {
			if paused {
				return ErrPlatformAlreadyPaused
			}
			return ErrPlatformNotPaused
		}
		p.Paused = paused
		if err := t.Put(models.PlatformAddress(), p); err != nil {
			return err
		}
		return t.emit(events.PlatformToggled{Authority: caller, Paused: paused})
	})
}

// UpdatePlatform replaces the tunable configuration, treasury included.
// Counters and the paused flag are untouched.
func (e *Engine) UpdatePlatform(ctx context.Context, caller models.Address, params PlatformParams) error {
	return e.run(ctx, "update-platform", caller, func(t *txn) error {
		p, err := t.authorized(caller)
		if err != nil {
			return err
		}
		if err := params.validate(); err != nil {
			return err
		}
		params.apply(p)
		if err := t.Put(models.PlatformAddress(), p); err != nil {
			return err
		}
		return t.emit(events.PlatformUpdated{Authority: caller, FeeBps: p.FeeBps, Treasury: p.Treasury})
	})
}

// authorized loads the platform and checks caller against its authority
// before anything else.
func (t *txn) authorized(caller models.Address) (*models.Platform, error) {
	p, err := t.platform()
	if err != nil {
		return nil, err
	}
	if p.Authority != caller {
		return nil, ErrNotPlatformAuthority
	}
	return p, nil
}
