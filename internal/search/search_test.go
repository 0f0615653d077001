package search

import (
	"context"
	"testing"
	"time"

	"github.com/fentz26/escrowd/internal/escrow"
	"github.com/fentz26/escrowd/internal/events"
	"github.com/fentz26/escrowd/internal/ledger"
	"github.com/fentz26/escrowd/internal/logging"
	"github.com/fentz26/escrowd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	start     = time.Unix(1_700_000_000, 0).UTC()
	authority = models.Address{0x01}
	treasury  = models.Address{0x02}
	creator   = models.Address{0xc0}
	agent     = models.Address{0xa0}
)

func setup(t *testing.T) (*escrow.Engine, *events.Bus) {
	t.Helper()
	ctx := context.Background()
	mem := ledger.NewMemory(ledger.NewManualClock(start))
	bus := events.NewBus()
	engine := escrow.New(mem, escrow.WithBus(bus), escrow.WithLogger(logging.Discard()))

	require.NoError(t, engine.InitializePlatform(ctx, authority, escrow.PlatformParams{
		MinBounty:           100,
		DisputeVotingPeriod: 600,
		DisputeMinVotes:     1,
		Treasury:            treasury,
	}))
	require.NoError(t, mem.Mint(ctx, creator, 1_000_000))
	_, err := engine.RegisterAgent(ctx, agent, 0)
	require.NoError(t, err)
	return engine, bus
}

func createTask(t *testing.T, engine *escrow.Engine, index uint64, title string) models.Address {
	t.Helper()
	addr, err := engine.CreateTask(context.Background(), creator, escrow.CreateTaskParams{
		Title:     title,
		Bounty:    500,
		TaskIndex: index,
		Deadline:  start.Add(time.Hour).Unix(),
	})
	require.NoError(t, err)
	return addr
}

func newIndex(t *testing.T, engine *escrow.Engine) *Index {
	t.Helper()
	idx, err := New(engine, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func addresses(hits []Hit) []models.Address {
	out := make([]models.Address, len(hits))
	for i, h := range hits {
		out[i] = h.Address
	}
	return out
}

func TestRebuildAndSearch(t *testing.T) {
	ctx := context.Background()
	engine, _ := setup(t)
	labels := createTask(t, engine, 0, "Label street photos")
	review := createTask(t, engine, 1, "Review survey paper")
	tmpl, err := engine.CreateTemplate(ctx, creator, escrow.TemplateParams{
		Title:         "Photo labeling batch",
		DefaultBounty: 200,
		Category:      models.CategoryDataLabeling,
	})
	require.NoError(t, err)

	idx := newIndex(t, engine)
	require.NoError(t, idx.Rebuild(ctx))
	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	hits, err := idx.Search(ctx, Query{Text: "paper"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, review, hits[0].Address)
	assert.Equal(t, KindTask, hits[0].Kind)
	assert.Equal(t, "Review survey paper", hits[0].Title)
	assert.Equal(t, string(models.TaskStatusOpen), hits[0].Status)

	hits, err = idx.Search(ctx, Query{Text: "photos", Kind: KindTask})
	require.NoError(t, err)
	assert.Equal(t, []models.Address{labels}, addresses(hits))

	hits, err = idx.Search(ctx, Query{Kind: KindTemplate, Category: string(models.CategoryDataLabeling)})
	require.NoError(t, err)
	assert.Equal(t, []models.Address{tmpl}, addresses(hits))

	hits, err = idx.Search(ctx, Query{Creator: agent})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestApplyTracksLifecycle(t *testing.T) {
	ctx := context.Background()
	engine, _ := setup(t)
	idx := newIndex(t, engine)

	apply := func(after int64) int64 {
		envs, err := engine.History(ctx, events.Query{AfterSeq: after})
		require.NoError(t, err)
		for _, env := range envs {
			require.NoError(t, idx.Apply(ctx, env))
			after = env.Seq
		}
		return after
	}
	seq := apply(0)

	task := createTask(t, engine, 0, "Translate onboarding guide")
	seq = apply(seq)
	hits, err := idx.Search(ctx, Query{Text: "onboarding"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, string(models.TaskStatusOpen), hits[0].Status)

	require.NoError(t, engine.ClaimTask(ctx, agent, task))
	seq = apply(seq)
	hits, err = idx.Search(ctx, Query{Status: string(models.TaskStatusClaimed)})
	require.NoError(t, err)
	assert.Equal(t, []models.Address{task}, addresses(hits))

	require.NoError(t, engine.SubmitDeliverable(ctx, agent, task, models.ContentHash([]byte("guide.md"))))
	_, err = engine.ApproveAndSettle(ctx, creator, task)
	require.NoError(t, err)
	apply(seq)

	hits, err = idx.Search(ctx, Query{Text: "onboarding"})
	require.NoError(t, err)
	assert.Empty(t, hits, "settled tasks are closed")
}

func TestFollowAppliesBusEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	engine, bus := setup(t)
	idx := newIndex(t, engine)
	done := idx.Follow(ctx, bus)

	task := createTask(t, engine, 0, "Annotate audio clips")
	tmpl, err := engine.CreateTemplate(ctx, creator, escrow.TemplateParams{Title: "Audio batch", DefaultBounty: 100, Category: models.CategoryOther})
	require.NoError(t, err)
	require.NoError(t, engine.DeactivateTemplate(ctx, creator, tmpl))

	assert.Eventually(t, func() bool {
		hits, err := idx.Search(ctx, Query{Text: "audio", Kind: KindTask})
		return err == nil && len(hits) == 1 && hits[0].Address == task
	}, 2*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool {
		hits, err := idx.Search(ctx, Query{Kind: KindTemplate, Status: "inactive"})
		return err == nil && len(hits) == 1 && hits[0].Address == tmpl
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}
