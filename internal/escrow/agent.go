package escrow

import (
	"context"

	"github.com/fentz26/escrowd/internal/events"
	"github.com/fentz26/escrowd/internal/models"
)

// RegisterAgent creates caller's profile with zeroed counters. A second
// registration fails with ErrAccountExists.
func (e *Engine) RegisterAgent(ctx context.Context, caller models.Address, skillTags uint8) (models.Address, error) {
	addr := models.AgentProfileAddress(caller)
	err := e.run(ctx, "register-agent", caller, func(t *txn) error {
		profile := &models.AgentProfile{
			Authority:    caller,
			RegisteredAt: t.now(),
			SkillTags:    skillTags,
		}
		if err := t.Create(addr, profile); err != nil {
			return err
		}
		return t.emit(events.AgentRegistered{Agent: caller, Profile: addr})
	})
	if err != nil {
		return models.Address{}, err
	}
	return addr, nil
}

// UpdateAgentSkills replaces the skill bitmap on caller's own profile.
func (e *Engine) UpdateAgentSkills(ctx context.Context, caller models.Address, skillTags uint8) error {
	return e.run(ctx, "update-agent-skills", caller, func(t *txn) error {
		profile, err := t.profile(caller)
		if err != nil {
			return err
		}
		if profile.Authority != caller {
			return ErrNotProfileOwner
		}
		profile.SkillTags = skillTags
		if err := t.putProfile(profile); err != nil {
			return err
		}
		return t.emitProfile(profile)
	})
}

func (t *txn) emitProfile(p *models.AgentProfile) error {
	return t.emit(events.AgentProfileUpdated{
		Agent:           p.Authority,
		ReputationScore: p.ReputationScore,
		TasksCompleted:  p.TasksCompleted,
	})
}

// creditSettlement records a successful settlement on the agent's profile.
func creditSettlement(p *models.AgentProfile, reward int64, earned uint64) error {
	completed, err := addU64(p.TasksCompleted, 1)
	if err != nil {
		return err
	}
	score, err := addI64(p.ReputationScore, reward)
	if err != nil {
		return err
	}
	total, err := addU64(p.TotalEarned, earned)
	if err != nil {
		return err
	}
	p.TasksCompleted, p.ReputationScore, p.TotalEarned = completed, score, total
	return nil
}

// applyVerdict records a dispute outcome on the agent's profile. Only a
// loss saturates; every other counter fails on overflow.
func applyVerdict(p *models.AgentProfile, v models.Verdict, reward int64, d Distribution) error {
	disputed, err := addU64(p.TasksDisputed, 1)
	if err != nil {
		return err
	}
	next := *p
	next.TasksDisputed = disputed

	switch v {
	case models.VerdictAgentWins:
		if next.DisputesWon, err = addU64(p.DisputesWon, 1); err != nil {
			return err
		}
		if next.ReputationScore, err = addI64(p.ReputationScore, reward); err != nil {
			return err
		}
		if next.TotalEarned, err = addU64(p.TotalEarned, d.Agent); err != nil {
			return err
		}
	case models.VerdictCreatorWins:
		if next.DisputesLost, err = addU64(p.DisputesLost, 1); err != nil {
			return err
		}
		next.ReputationScore = subSaturating(p.ReputationScore, reward/2)
	case models.VerdictSplit:
		if next.TotalEarned, err = addU64(p.TotalEarned, d.Agent); err != nil {
			return err
		}
	}
	*p = next
	return nil
}
