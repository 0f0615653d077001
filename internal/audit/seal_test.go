package audit

import (
	"testing"

	"github.com/fentz26/escrowd/internal/events"
	"github.com/fentz26/escrowd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealAndVerify(t *testing.T) {
	task := models.TaskAddress(models.Address{1}, 0)
	env, err := Seal(events.TaskCreated{Task: task, Bounty: 5000, Deadline: 100}, 42)
	require.NoError(t, err)

	assert.NotEmpty(t, env.ID)
	assert.Equal(t, events.NameTaskCreated, env.Name)
	assert.Equal(t, task, env.Subject)
	assert.Equal(t, int64(42), env.At)
	assert.True(t, Verify(env))

	var decoded events.TaskCreated
	require.NoError(t, env.Decode(&decoded))
	assert.Equal(t, uint64(5000), decoded.Bounty)
}

func TestVerifyDetectsTampering(t *testing.T) {
	env, err := Seal(events.TaskSettled{Payout: 4875, Fee: 125}, 1)
	require.NoError(t, err)

	env.Payload = []byte(`{"payout":5000,"fee":0}`)
	assert.False(t, Verify(env))
}

func TestVerifyIgnoresSeq(t *testing.T) {
	env, err := Seal(events.VoteCast{Ruling: models.RulingSplit}, 1)
	require.NoError(t, err)

	env.Seq = 99
	assert.True(t, Verify(env))
}
