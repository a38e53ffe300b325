package realtime

import (
	"testing"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-backend/internal/data/repos/testutil"
	"github.com/heimdex/heimdex-backend/internal/platform/redisbus"
)

func TestHubBroadcastFiltersByTenant(t *testing.T) {
	hub := NewHub(testutil.Logger(t))
	tenantA := uuid.New()
	tenantB := uuid.New()

	subA := hub.Subscribe(tenantA, nil)
	subB := hub.Subscribe(tenantB, nil)
	defer hub.Unsubscribe(subA)
	defer hub.Unsubscribe(subB)

	ev := redisbus.JobEvent{JobID: uuid.New(), TenantID: tenantA, Kind: "progress"}
	hub.Broadcast(ev)

	select {
	case got := <-subA.Events:
		if got.JobID != ev.JobID {
			t.Fatalf("job id = %s, want %s", got.JobID, ev.JobID)
		}
	default:
		t.Fatal("tenant A subscriber received nothing")
	}
	select {
	case got := <-subB.Events:
		t.Fatalf("tenant B subscriber received foreign event %+v", got)
	default:
	}
}

func TestHubBroadcastFiltersByVideo(t *testing.T) {
	hub := NewHub(testutil.Logger(t))
	tenantID := uuid.New()
	videoID := uuid.New()
	otherVideo := uuid.New()

	narrowed := hub.Subscribe(tenantID, &videoID)
	defer hub.Unsubscribe(narrowed)

	hub.Broadcast(redisbus.JobEvent{JobID: uuid.New(), TenantID: tenantID, VideoID: &otherVideo})
	hub.Broadcast(redisbus.JobEvent{JobID: uuid.New(), TenantID: tenantID})
	if len(narrowed.Events) != 0 {
		t.Fatalf("narrowed subscriber received %d events, want 0", len(narrowed.Events))
	}

	wanted := redisbus.JobEvent{JobID: uuid.New(), TenantID: tenantID, VideoID: &videoID}
	hub.Broadcast(wanted)
	select {
	case got := <-narrowed.Events:
		if got.JobID != wanted.JobID {
			t.Fatalf("job id = %s, want %s", got.JobID, wanted.JobID)
		}
	default:
		t.Fatal("narrowed subscriber missed its video's event")
	}
}

func TestHubBroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(testutil.Logger(t))
	tenantID := uuid.New()
	sub := hub.Subscribe(tenantID, nil)
	defer hub.Unsubscribe(sub)

	// Overfill the buffer without draining; the extra sends must not block.
	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Broadcast(redisbus.JobEvent{JobID: uuid.New(), TenantID: tenantID})
	}
	if len(sub.Events) != subscriberBuffer {
		t.Fatalf("buffered events = %d, want %d", len(sub.Events), subscriberBuffer)
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub(testutil.Logger(t))
	tenantID := uuid.New()

	sub := hub.Subscribe(tenantID, nil)
	if got := hub.SubscriberCount(tenantID); got != 1 {
		t.Fatalf("subscriber count = %d, want 1", got)
	}

	hub.Unsubscribe(sub)
	if got := hub.SubscriberCount(tenantID); got != 0 {
		t.Fatalf("subscriber count after unsubscribe = %d, want 0", got)
	}

	// Broadcast after unsubscribe must not panic on the closed channel.
	hub.Broadcast(redisbus.JobEvent{JobID: uuid.New(), TenantID: tenantID})

	if _, ok := <-sub.Events; ok {
		t.Fatal("events channel still open after unsubscribe")
	}
}
