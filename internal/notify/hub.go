// Package notify fans committed change events out to in-process subscribers,
// such as dashboards connected over server-sent events.
package notify

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pesio-ai/be-proc-requisitions/internal/approval"
	"github.com/pesio-ai/be-proc-requisitions/internal/logger"
	"github.com/pesio-ai/be-proc-requisitions/internal/repository"
)

const defaultBuffer = 64

// Filter selects the events a subscriber receives. An event matches when it
// matches any non-empty dimension; an empty Filter matches everything.
type Filter struct {
	// UserID matches events on requisitions the user created.
	UserID string
	// Roles match events that enter or leave one of the roles' queues, and
	// the role's own signing. "admin" matches all.
	Roles []string
	// Departments match events of requisitions in one of the departments.
	Departments []string
}

func (f Filter) empty() bool {
	return f.UserID == "" && len(f.Roles) == 0 && len(f.Departments) == 0
}

// Match reports whether e should be delivered under f.
func (f Filter) Match(e *repository.ChangeEvent) bool {
	if f.empty() {
		return true
	}
	if f.UserID != "" && e.CreatedBy == f.UserID {
		return true
	}
	for _, r := range f.Roles {
		if r == "admin" || concerns(e, r) {
			return true
		}
	}
	for _, d := range f.Departments {
		if strings.EqualFold(d, e.Department) {
			return true
		}
	}
	return false
}

// concerns reports whether e changes what role is waiting on.
func concerns(e *repository.ChangeEvent, role string) bool {
	if role == "" {
		return false
	}
	if e.AwaitingRole == role {
		return true
	}
	if e.Type == repository.EventRequisitionSigned {
		return e.Role == role
	}
	return approval.AwaitingRole(e.OldStatus) == role
}

// Subscription is one subscriber's event channel.
type Subscription struct {
	C       <-chan *repository.ChangeEvent
	ch      chan *repository.ChangeEvent
	filter  Filter
	dropped atomic.Int64
	hub     *Hub
	once    sync.Once
}

// Dropped returns how many events were discarded because the subscriber was
// not keeping up.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close unsubscribes and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub is an in-process Publisher. Publish never blocks on a slow subscriber:
// events that do not fit in its buffer are dropped for that subscriber only.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
	log    *logger.Logger
}

// NewHub creates an empty Hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		subs: make(map[*Subscription]struct{}),
		log:  log.Component("notify"),
	}
}

// Subscribe registers a subscriber. buffer <= 0 selects a default size.
func (h *Hub) Subscribe(filter Filter, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan *repository.ChangeEvent, buffer)
	sub := &Subscription{C: ch, ch: ch, filter: filter, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Publish delivers e to every matching subscriber.
func (h *Hub) Publish(_ context.Context, e *repository.ChangeEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		if !sub.filter.Match(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			if sub.dropped.Add(1) == 1 {
				h.log.Warn().
					Str("event_type", string(e.Type)).
					Str("requisition_id", e.RequisitionID).
					Msg("Subscriber is not keeping up, dropping events")
			}
		}
	}
	return nil
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription. Later subscriptions start closed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
		delete(h.subs, sub)
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
}
