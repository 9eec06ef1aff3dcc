package grid

import "sync"

// EventType discriminates change notifications.
type EventType string

const (
	// EventModelReset tells the consumer to discard all rendered state.
	EventModelReset EventType = "model-reset"
	// EventRowsInserted announces the row extent (at init and after a reset).
	EventRowsInserted EventType = "rows-inserted"
	// EventColumnsInserted announces the column extent.
	EventColumnsInserted EventType = "columns-inserted"
	// EventCellsChanged identifies a rectangle that became readable.
	EventCellsChanged EventType = "cells-changed"
)

// Event is one structured change notification. Index/Span apply to the
// insert variants; Row/Col/RowSpan/ColSpan to cells-changed, in logical
// (view) coordinates.
type Event struct {
	Type    EventType `json:"type"`
	Region  Region    `json:"region,omitempty"`
	Index   int       `json:"index"`
	Span    int       `json:"span"`
	Row     int       `json:"row"`
	Col     int       `json:"column"`
	RowSpan int       `json:"row_span"`
	ColSpan int       `json:"column_span"`
}

// hub fans events out to subscribers. Publishing never blocks: a subscriber
// that stops draining loses events rather than stalling the model.
type hub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	closed bool
}

const subscriberBuffer = 128

func newHub() *hub {
	return &hub{subs: make(map[int]chan Event)}
}

// subscribe registers a new subscriber and returns its channel along with an
// unsubscribe function. The channel is closed on unsubscribe or hub close.
func (h *hub) subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.next
	h.next++
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

func (h *hub) publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			log.Debugf("subscriber lagging, dropping %s event", e.Type)
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
