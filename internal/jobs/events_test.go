package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translate-rx/internal/domain"
)

// TestEventBusSince verifies incremental event reads by sequence.
func TestEventBusSince(t *testing.T) {
	bus := NewEventBus(3)
	bus.Publish(Event{Type: EventTypeStatus, Message: "1"})
	bus.Publish(Event{Type: EventTypeStatus, Message: "2"})
	bus.Publish(Event{Type: EventTypeStatus, Message: "3"})

	events := bus.Since(1)
	require.Len(t, events, 2)
	assert.EqualValues(t, 2, events[0].Seq)
	assert.EqualValues(t, 3, events[1].Seq)
	assert.False(t, events[0].Timestamp.IsZero())
}

// TestEventBusCapsHistory verifies buffer limit trimming behavior.
func TestEventBusCapsHistory(t *testing.T) {
	bus := NewEventBus(2)
	bus.Publish(Event{Message: "1"})
	bus.Publish(Event{Message: "2"})
	bus.Publish(Event{Message: "3"})

	events := bus.Since(0)
	require.Len(t, events, 2)
	assert.Equal(t, "2", events[0].Message)
	assert.Equal(t, "3", events[1].Message)
	assert.EqualValues(t, 2, bus.Oldest())
}

// TestEventBusForSlot filters one slot's transitions after a cursor.
func TestEventBusForSlot(t *testing.T) {
	bus := NewEventBus(10)
	assert.Zero(t, bus.Oldest())
	bus.Publish(Event{Slot: domain.SlotImageTranslate, JobID: "img-1"})
	bus.Publish(Event{Slot: domain.SlotAudioTranslate, JobID: "tr-1"})
	bus.Publish(Event{Slot: domain.SlotImageTranslate, JobID: "img-2"})

	images := bus.ForSlot(domain.SlotImageTranslate, 0)
	require.Len(t, images, 2)
	assert.Equal(t, "img-2", images[1].JobID)

	later := bus.ForSlot(domain.SlotImageTranslate, 1)
	require.Len(t, later, 1)
	assert.EqualValues(t, 3, later[0].Seq)
	assert.Empty(t, bus.ForSlot(domain.SlotQuestionGeneration, 0))
}
