package events

import (
	"testing"

	"github.com/fentz26/escrowd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(4)
	defer cancel()

	bus.Publish(Envelope{Seq: 1, Name: NameTaskCreated}, Envelope{Seq: 2, Name: NameTaskClaimed})

	first := <-ch
	second := <-ch
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, NameTaskClaimed, second.Name)
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)

	bus.Publish(Envelope{Seq: 1}, Envelope{Seq: 2})
	cancel()

	var got []int64
	for env := range ch {
		got = append(got, env.Seq)
	}
	assert.Equal(t, []int64{1}, got)
}

func TestNilBusPublish(t *testing.T) {
	var bus *Bus
	require.NotPanics(t, func() { bus.Publish(Envelope{}) })
}

func TestQueryMatches(t *testing.T) {
	task := models.TaskAddress(models.Address{1}, 0)
	env := Envelope{Seq: 5, Name: NameTaskCreated, Subject: task}

	assert.True(t, Query{}.Matches(env))
	assert.True(t, Query{Name: NameTaskCreated, Subject: task}.Matches(env))
	assert.False(t, Query{Name: NameTaskClaimed}.Matches(env))
	assert.False(t, Query{Subject: models.Address{2}}.Matches(env))
	assert.False(t, Query{AfterSeq: 5}.Matches(env))
}

func TestPlatformToggledName(t *testing.T) {
	assert.Equal(t, NamePlatformPaused, PlatformToggled{Paused: true}.EventName())
	assert.Equal(t, NamePlatformResumed, PlatformToggled{}.EventName())
}
