// Package realtime fans job events out to the SSE connections of one API
// process. The Redis forwarder feeds every replica's hub, so a subscriber
// sees progress no matter which worker produced it.
package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-backend/internal/platform/logger"
	"github.com/heimdex/heimdex-backend/internal/platform/redisbus"
)

const (
	subscriberBuffer  = 16
	heartbeatInterval = 15 * time.Second
)

// Subscriber is one open SSE connection. Events only carries the
// subscriber's tenant, optionally narrowed to a single video.
type Subscriber struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	VideoID  *uuid.UUID
	Events   chan redisbus.JobEvent
	done     chan struct{}
}

func (s *Subscriber) wants(ev redisbus.JobEvent) bool {
	if ev.TenantID != s.TenantID {
		return false
	}
	if s.VideoID != nil && (ev.VideoID == nil || *ev.VideoID != *s.VideoID) {
		return false
	}
	return true
}

type Hub struct {
	log *logger.Logger

	mu   sync.RWMutex
	subs map[uuid.UUID]map[*Subscriber]bool // keyed by tenant
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:  log.With("component", "EventHub"),
		subs: make(map[uuid.UUID]map[*Subscriber]bool),
	}
}

// Subscribe registers a new connection for tenantID. videoID narrows the
// feed to one video when non-nil.
func (h *Hub) Subscribe(tenantID uuid.UUID, videoID *uuid.UUID) *Subscriber {
	sub := &Subscriber{
		ID:       uuid.New(),
		TenantID: tenantID,
		VideoID:  videoID,
		Events:   make(chan redisbus.JobEvent, subscriberBuffer),
		done:     make(chan struct{}),
	}
	h.mu.Lock()
	tenantSubs, ok := h.subs[tenantID]
	if !ok {
		tenantSubs = make(map[*Subscriber]bool)
		h.subs[tenantID] = tenantSubs
	}
	tenantSubs[sub] = true
	h.mu.Unlock()

	h.log.Debug("subscriber attached", "subscriber_id", sub.ID, "tenant_id", tenantID)
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if tenantSubs, ok := h.subs[sub.TenantID]; ok {
		delete(tenantSubs, sub)
		if len(tenantSubs) == 0 {
			delete(h.subs, sub.TenantID)
		}
	}
	h.mu.Unlock()

	close(sub.done)
	close(sub.Events)
	h.log.Debug("subscriber detached", "subscriber_id", sub.ID, "tenant_id", sub.TenantID)
}

// Broadcast delivers ev to every matching subscriber of its tenant. Sends
// never block; a subscriber that stopped draining loses events rather than
// stalling the forwarder.
func (h *Hub) Broadcast(ev redisbus.JobEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[ev.TenantID] {
		if !sub.wants(ev) {
			continue
		}
		select {
		case sub.Events <- ev:
		default:
			h.log.Warn("dropping job event, subscriber buffer full", "subscriber_id", sub.ID, "job_id", ev.JobID)
		}
	}
}

// SubscriberCount reports the live connections for a tenant.
func (h *Hub) SubscriberCount(tenantID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[tenantID])
}

// ServeHTTP streams the subscriber's events until the client disconnects or
// the subscriber is closed. Heartbeat comments keep idle proxies from
// cutting the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, sub *Subscriber) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.log.Debug("subscriber disconnected", "subscriber_id", sub.ID)
			return
		case <-sub.done:
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.log.Warn("marshal job event failed", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: job\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
