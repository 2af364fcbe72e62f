package events

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDispatchesToSubscribers(t *testing.T) {
	bus := NewBus()

	var typed, all []Event
	bus.Subscribe(TypeSwap, func(e Event) { typed = append(typed, e) })
	bus.SubscribeAll(func(e Event) { all = append(all, e) })

	bus.Publish(TypeSwap, "", map[string]interface{}{"poolId": "CRWN-USDT"})
	bus.Publish(TypeOrder, "", nil)

	require.Len(t, typed, 1)
	assert.Equal(t, TypeSwap, typed[0].Type)
	assert.Equal(t, "CRWN-USDT", typed[0].Data["poolId"])
	assert.Len(t, all, 2)
}

func TestRingEvictsOldestAtCapacity(t *testing.T) {
	bus := NewBus()
	for i := 0; i < ringCap+25; i++ {
		bus.Publish(TypeDexUpdate, "", map[string]interface{}{"seq": i})
	}

	assert.Equal(t, ringCap, bus.Size())

	recent := bus.Recent(0, "")
	require.Len(t, recent, ringCap)
	assert.Equal(t, ringCap+24, recent[0].Data["seq"], "newest first")
	assert.Equal(t, 25, recent[len(recent)-1].Data["seq"], "oldest 25 evicted")
}

func TestRecentScopesPrivateEvents(t *testing.T) {
	bus := NewBus()
	bus.Publish(TypeSwap, "", nil)
	bus.Publish(TypeAutoTrade, "alice", nil)
	bus.Publish(TypeAutoError, "bob", nil)

	alice := bus.Recent(10, "alice")
	require.Len(t, alice, 2)
	assert.Equal(t, TypeAutoTrade, alice[0].Type)
	assert.Equal(t, TypeSwap, alice[1].Type)

	anon := bus.Recent(10, "")
	require.Len(t, anon, 1)
	assert.Equal(t, TypeSwap, anon[0].Type)
}

func TestRecentHonorsLimit(t *testing.T) {
	bus := NewBus()
	for i := 0; i < 10; i++ {
		bus.Publish(TypeOrder, "", map[string]interface{}{"id": fmt.Sprintf("o%d", i)})
	}
	recent := bus.Recent(3, "")
	require.Len(t, recent, 3)
	assert.Equal(t, "o9", recent[0].Data["id"])
}
