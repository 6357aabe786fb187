package event_test

import (
	"testing"

	"github.com/aretw0/audiencia/pkg/domain"
	"github.com/aretw0/audiencia/pkg/event"
	"github.com/stretchr/testify/assert"
)

func TestBus_PublishOrder(t *testing.T) {
	bus := event.NewBus()
	var got []string

	bus.SubscribeAll(func(domain.Event) { got = append(got, "wildcard") })
	bus.Subscribe(domain.EventDialogueChanged, func(domain.Event) { got = append(got, "first") })
	bus.Subscribe(domain.EventDialogueChanged, func(domain.Event) { got = append(got, "second") })
	bus.Subscribe(domain.EventSessionLeft, func(domain.Event) { got = append(got, "other") })

	bus.Publish(domain.NewEvent(domain.EventDialogueChanged, domain.Identity{SessionID: 7}, nil))

	assert.Equal(t, []string{"first", "second", "wildcard"}, got)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := event.NewBus()
	calls := 0
	id := bus.Subscribe(domain.EventSessionJoined, func(domain.Event) { calls++ })
	assert.Equal(t, 1, bus.SubscriptionCount())

	assert.True(t, bus.Unsubscribe(id))
	assert.False(t, bus.Unsubscribe(id))

	bus.Publish(domain.NewEvent(domain.EventSessionJoined, domain.Identity{SessionID: 7}, nil))
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, bus.SubscriptionCount())
}

func TestBus_PanicIsolation(t *testing.T) {
	bus := event.NewBus()
	delivered := false

	bus.Subscribe(domain.EventSyncError, func(domain.Event) { panic("boom") })
	bus.Subscribe(domain.EventSyncError, func(domain.Event) { delivered = true })

	assert.NotPanics(t, func() {
		bus.Publish(domain.NewEvent(domain.EventSyncError, domain.Identity{}, nil))
	})
	assert.True(t, delivered)
}

func TestBus_SubscribeDuringPublish(t *testing.T) {
	bus := event.NewBus()
	late := 0

	bus.Subscribe(domain.EventReconnected, func(domain.Event) {
		bus.Subscribe(domain.EventReconnected, func(domain.Event) { late++ })
	})

	bus.Publish(domain.NewEvent(domain.EventReconnected, domain.Identity{}, nil))
	assert.Equal(t, 0, late, "handlers added while publishing wait for the next event")

	bus.Publish(domain.NewEvent(domain.EventReconnected, domain.Identity{}, nil))
	assert.Equal(t, 1, late)
}

func TestBus_Clear(t *testing.T) {
	bus := event.NewBus()
	bus.SubscribeAll(func(domain.Event) {})
	bus.Subscribe(domain.EventTurnChanged, func(domain.Event) {})

	bus.Clear()
	assert.Equal(t, 0, bus.SubscriptionCount())
}
