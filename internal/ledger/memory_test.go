package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fentz26/escrowd/internal/events"
	"github.com/fentz26/escrowd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = models.Address{0xa1}
	bob   = models.Address{0xb0}
)

func TestMemoryCreateGetPut(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	addr := models.AgentProfileAddress(alice)

	_, err := m.Update(ctx, func(tx Tx) error {
		return tx.Create(addr, &models.AgentProfile{Authority: alice, SkillTags: 3})
	})
	require.NoError(t, err)

	_, err = m.Update(ctx, func(tx Tx) error {
		return tx.Create(addr, &models.AgentProfile{Authority: alice})
	})
	assert.ErrorIs(t, err, ErrExists)

	_, err = m.Update(ctx, func(tx Tx) error {
		var p models.AgentProfile
		if err := tx.Get(addr, &p); err != nil {
			return err
		}
		p.ReputationScore = 10
		return tx.Put(addr, &p)
	})
	require.NoError(t, err)

	err = m.View(ctx, func(r Reader) error {
		var p models.AgentProfile
		require.NoError(t, r.Get(addr, &p))
		assert.Equal(t, int64(10), p.ReputationScore)
		assert.Equal(t, uint8(3), p.SkillTags)

		var task models.Task
		assert.ErrorIs(t, r.Get(addr, &task), ErrKindMismatch)
		assert.ErrorIs(t, r.Get(models.Address{1}, &task), ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryRollbackOnError(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	require.NoError(t, m.Mint(ctx, alice, 100))

	boom := errors.New("boom")
	_, err := m.Update(ctx, func(tx Tx) error {
		require.NoError(t, tx.Transfer(alice, bob, 60))
		require.NoError(t, tx.Create(models.PlatformAddress(), &models.Platform{}))
		tx.Emit(events.Envelope{Name: "x"})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = m.View(ctx, func(r Reader) error {
		a, _ := r.Balance(alice)
		b, _ := r.Balance(bob)
		assert.Equal(t, uint64(100), a)
		assert.Equal(t, uint64(0), b)
		ok, _ := r.Exists(models.PlatformAddress())
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)

	history, err := m.History(ctx, events.Query{})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestMemoryTransferChecks(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	require.NoError(t, m.Mint(ctx, alice, 10))

	_, err := m.Update(ctx, func(tx Tx) error {
		return tx.Transfer(alice, bob, 11)
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	require.NoError(t, m.Mint(ctx, bob, ^uint64(0)))
	_, err = m.Update(ctx, func(tx Tx) error {
		return tx.Transfer(alice, bob, 1)
	})
	assert.ErrorIs(t, err, ErrBalanceOverflow)
}

func TestMemoryCloseRefundsResidual(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)
	require.NoError(t, m.Mint(ctx, alice, 500))
	task := models.TaskAddress(alice, 0)

	_, err := m.Update(ctx, func(tx Tx) error {
		if err := tx.Create(task, &models.Task{Creator: alice}); err != nil {
			return err
		}
		return tx.Transfer(alice, task, 300)
	})
	require.NoError(t, err)

	var refunded uint64
	_, err = m.Update(ctx, func(tx Tx) error {
		if err := tx.Transfer(task, bob, 100); err != nil {
			return err
		}
		var err error
		refunded, err = tx.Close(task, alice)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(200), refunded)

	err = m.View(ctx, func(r Reader) error {
		a, _ := r.Balance(alice)
		b, _ := r.Balance(bob)
		tb, _ := r.Balance(task)
		assert.Equal(t, uint64(400), a)
		assert.Equal(t, uint64(100), b)
		assert.Zero(t, tb)
		ok, _ := r.Exists(task)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryScanAndHistory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)

	envs, err := m.Update(ctx, func(tx Tx) error {
		for i := uint64(0); i < 3; i++ {
			if err := tx.Create(models.TaskAddress(alice, i), &models.Task{TaskIndex: i}); err != nil {
				return err
			}
		}
		tx.Emit(events.Envelope{Name: events.NameTaskCreated})
		tx.Emit(events.Envelope{Name: events.NameTaskClaimed})
		return tx.Create(models.AgentProfileAddress(alice), &models.AgentProfile{})
	})
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, int64(1), envs[0].Seq)
	assert.Equal(t, int64(2), envs[1].Seq)

	var indexes []uint64
	err = m.View(ctx, func(r Reader) error {
		return r.Scan(models.KindTask, func(addr models.Address, decode func(models.Record) error) error {
			var task models.Task
			if err := decode(&task); err != nil {
				return err
			}
			indexes = append(indexes, task.TaskIndex)
			return nil
		})
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{0, 1, 2}, indexes)

	claimed, err := m.History(ctx, events.Query{Name: events.NameTaskClaimed})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, int64(2), claimed[0].Seq)
}

func TestMemoryTransactionClock(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	clock := NewManualClock(start)
	m := NewMemory(clock)

	_, err := m.Update(context.Background(), func(tx Tx) error {
		clock.Advance(time.Hour)
		assert.Equal(t, start, tx.Now())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, start.Add(time.Hour), clock.Now())
}
