package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventHashCracked, Message: "cracked"})

	select {
	case ev := <-sub:
		assert.Equal(t, EventHashCracked, ev.Type)
		assert.NotEmpty(t, ev.ID, "publish stamps an id")
		assert.False(t, ev.Timestamp.IsZero(), "publish stamps the event")
	case <-time.After(time.Second):
		t.Fatal("event never arrived")
	}
}

func TestSubscribeTypesFilters(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	cracks := b.SubscribeTypes(EventHashCracked)
	defer b.Unsubscribe(cracks)

	b.Publish(&Event{Type: EventTaskCreated})
	b.Publish(&Event{Type: EventAgentOffline})
	b.Publish(&Event{Type: EventHashCracked})

	select {
	case ev := <-cracks:
		assert.Equal(t, EventHashCracked, ev.Type, "filtered types never reach the channel")
	case <-time.After(time.Second):
		t.Fatal("event never arrived")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)

	// unsubscribing twice is harmless
	b.Unsubscribe(sub)
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	slow := b.Subscribe()
	defer b.Unsubscribe(slow)
	fast := b.Subscribe()
	defer b.Unsubscribe(fast)

	// saturate the slow subscriber's buffer without draining it
	for i := 0; i < cap(slow)+10; i++ {
		b.Publish(&Event{Type: EventTaskCreated})
	}

	deadline := time.After(2 * time.Second)
	received := 0
	for received < cap(slow) {
		select {
		case <-fast:
			received++
		case <-deadline:
			t.Fatalf("fast subscriber starved after %d events", received)
		}
	}
	assert.Eventually(t, func() bool { return b.Dropped() > 0 }, time.Second, 10*time.Millisecond,
		"overflow deliveries are counted, not blocked on")
}

func TestPublishNeverBlocksWithoutDistributor(t *testing.T) {
	// never started, so the intake buffer is all there is
	b := NewBroker()

	for i := 0; i < cap(b.eventCh)+10; i++ {
		b.Publish(&Event{Type: EventTaskCreated})
	}

	assert.Equal(t, int64(10), b.Dropped())
}
