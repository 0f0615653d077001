package escrow

import (
	"math"
	"testing"

	"github.com/fentz26/escrowd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlatformFee(t *testing.T) {
	fee, err := PlatformFee(5000, 250)
	require.NoError(t, err)
	assert.Equal(t, uint64(125), fee)

	fee, err = PlatformFee(39, 250)
	require.NoError(t, err)
	assert.Zero(t, fee, "truncates toward zero")

	_, err = PlatformFee(math.MaxUint64, 2)
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestDistributeConservesBounty(t *testing.T) {
	bounties := []uint64{0, 1, 2, 999, 1000, 1001, 5000, 123457, 1 << 40}
	fees := []uint16{0, 1, 250, 2999, 3001}
	verdicts := []models.Verdict{models.VerdictCreatorWins, models.VerdictAgentWins, models.VerdictSplit}

	for _, bounty := range bounties {
		for _, bps := range fees {
			for _, v := range verdicts {
				d, err := Distribute(v, bounty, bps)
				require.NoError(t, err)
				assert.Equal(t, bounty, d.Creator+d.Agent+d.Fee, "bounty %d fee %d %s", bounty, bps, v)
				assert.LessOrEqual(t, d.Fee, bounty)
				if v == models.VerdictSplit {
					diff := d.Creator - d.Agent
					assert.True(t, d.Creator >= d.Agent && diff <= 1, "split %d/%d", d.Creator, d.Agent)
				}
			}
		}
	}
}

func TestTallyTieBreaks(t *testing.T) {
	tests := []struct {
		creator, agent, split uint16
		want                  models.Verdict
	}{
		{0, 0, 0, models.VerdictCreatorWins},
		{2, 2, 2, models.VerdictCreatorWins},
		{1, 2, 2, models.VerdictAgentWins},
		{1, 1, 2, models.VerdictSplit},
		{3, 1, 1, models.VerdictCreatorWins},
	}
	for _, tt := range tests {
		d := &models.Dispute{VotesForCreator: tt.creator, VotesForAgent: tt.agent, VotesForSplit: tt.split}
		assert.Equal(t, tt.want, tally(d), "%d/%d/%d", tt.creator, tt.agent, tt.split)
	}
}

func TestLostDisputeSaturates(t *testing.T) {
	p := &models.AgentProfile{ReputationScore: math.MinInt64 + 10}
	require.NoError(t, applyVerdict(p, models.VerdictCreatorWins, 1000, Distribution{}))
	assert.Equal(t, int64(math.MinInt64), p.ReputationScore)
	assert.Equal(t, uint64(1), p.DisputesLost)

	p = &models.AgentProfile{ReputationScore: math.MaxInt64}
	err := applyVerdict(p, models.VerdictAgentWins, 1, Distribution{Agent: 1})
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
	assert.Zero(t, p.TasksDisputed, "profile untouched on failure")
}

func TestTotalVotes(t *testing.T) {
	total, err := totalVotes(&models.Dispute{VotesForCreator: 1, VotesForAgent: 2, VotesForSplit: 3})
	require.NoError(t, err)
	assert.Equal(t, uint16(6), total)

	_, err = totalVotes(&models.Dispute{VotesForCreator: math.MaxUint16, VotesForAgent: 1})
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
}
