package escrow

import (
	"math"
	"math/bits"

	"github.com/fentz26/escrowd/internal/models"
)

const (
	maxFeeBps      = 3001
	bpsDenominator = 10000
	maxTitleLen    = 64
	maxRepReward   = 1000
	// maxRejections escalates a task to arbitration on the third rejection.
	maxRejections = 3
)

// Distribution is how a task's bounty leaves escrow.
type Distribution struct {
	Creator uint64 `json:"creator"`
	Agent   uint64 `json:"agent"`
	Fee     uint64 `json:"fee"`
}

// PlatformFee is floor(bounty * feeBps / 10000).
func PlatformFee(bounty uint64, feeBps uint16) (uint64, error) {
	hi, lo := bits.Mul64(bounty, uint64(feeBps))
	if hi != 0 {
		return 0, ErrArithmeticOverflow
	}
	return lo / bpsDenominator, nil
}

// Distribute splits bounty for a verdict. Creator wins are refunded in full
// with no fee. In a split the creator takes the ceiling half of what remains
// after the fee.
func Distribute(v models.Verdict, bounty uint64, feeBps uint16) (Distribution, error) {
	if v == models.VerdictCreatorWins {
		return Distribution{Creator: bounty}, nil
	}
	fee, err := PlatformFee(bounty, feeBps)
	if err != nil {
		return Distribution{}, err
	}
	afterFee, err := subU64(bounty, fee)
	if err != nil {
		return Distribution{}, err
	}
	if v == models.VerdictAgentWins {
		return Distribution{Agent: afterFee, Fee: fee}, nil
	}
	half := afterFee / 2
	return Distribution{Creator: afterFee - half, Agent: half, Fee: fee}, nil
}

// tally picks the majority verdict. Ties break toward the creator, then the
// agent.
func tally(d *models.Dispute) models.Verdict {
	switch {
	case d.VotesForCreator >= d.VotesForAgent && d.VotesForCreator >= d.VotesForSplit:
		return models.VerdictCreatorWins
	case d.VotesForAgent >= d.VotesForSplit:
		return models.VerdictAgentWins
	default:
		return models.VerdictSplit
	}
}

func totalVotes(d *models.Dispute) (uint16, error) {
	sum := uint32(d.VotesForCreator) + uint32(d.VotesForAgent) + uint32(d.VotesForSplit)
	if sum > math.MaxUint16 {
		return 0, ErrArithmeticOverflow
	}
	return uint16(sum), nil
}

func addU64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

func subU64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrArithmeticOverflow
	}
	return a - b, nil
}

func incU16(v uint16) (uint16, error) {
	if v == math.MaxUint16 {
		return 0, ErrArithmeticOverflow
	}
	return v + 1, nil
}

func addI64(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrArithmeticOverflow
	}
	return a + b, nil
}

// subSaturating clamps at the int64 bounds instead of failing.
func subSaturating(a, b int64) int64 {
	switch {
	case b > 0 && a < math.MinInt64+b:
		return math.MinInt64
	case b < 0 && a > math.MaxInt64+b:
		return math.MaxInt64
	}
	return a - b
}
