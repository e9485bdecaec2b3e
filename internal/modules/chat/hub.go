// README: In-process room hub; fans frames out to subscribers through bounded queues.
package chat

import (
	"context"
	"sync"
	"sync/atomic"

	"roadside/internal/types"
)

// Subscriber is one live connection. Its queue is closed when it leaves every
// room through LeaveAll or when the hub closes.
type Subscriber struct {
	out     chan []byte
	dropped atomic.Uint64
	closed  bool
}

func (s *Subscriber) Messages() <-chan []byte { return s.out }

// Dropped counts frames discarded because the queue was full.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscriber) offer(frame []byte) bool {
	select {
	case s.out <- frame:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

type Hub struct {
	// mu serialises publishes so every subscriber of a room sees one order.
	mu        sync.Mutex
	rooms     map[types.ID]map[*Subscriber]struct{}
	joined    map[*Subscriber]map[types.ID]struct{}
	subs      map[*Subscriber]struct{}
	queueSize int
	closed    bool
}

func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Hub{
		rooms:     map[types.ID]map[*Subscriber]struct{}{},
		joined:    map[*Subscriber]map[types.ID]struct{}{},
		subs:      map[*Subscriber]struct{}{},
		queueSize: queueSize,
	}
}

// NewSubscriber registers a connection. After Close it returns an already closed one.
func (h *Hub) NewSubscriber() *Subscriber {
	sub := &Subscriber{out: make(chan []byte, h.queueSize)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.closed = true
		close(sub.out)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Join adds sub to room. It reports false once the hub or subscriber is closed.
func (h *Hub) Join(room types.ID, sub *Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || sub.closed {
		return false
	}
	if h.rooms[room] == nil {
		h.rooms[room] = map[*Subscriber]struct{}{}
	}
	h.rooms[room][sub] = struct{}{}
	if h.joined[sub] == nil {
		h.joined[sub] = map[types.ID]struct{}{}
	}
	h.joined[sub][room] = struct{}{}
	return true
}

func (h *Hub) Leave(room types.ID, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, sub)
}

func (h *Hub) leaveLocked(room types.ID, sub *Subscriber) {
	if members, ok := h.rooms[room]; ok {
		delete(members, sub)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.joined[sub]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(h.joined, sub)
		}
	}
}

// LeaveAll drops sub from every room and closes its queue. Call it on disconnect.
func (h *Hub) LeaveAll(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.joined[sub] {
		h.leaveLocked(room, sub)
	}
	delete(h.subs, sub)
	if !sub.closed {
		sub.closed = true
		close(sub.out)
	}
}

// Publish hands frame to every subscriber of room without blocking.
func (h *Hub) Publish(_ context.Context, room types.ID, frame []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.rooms[room] {
		sub.offer(frame)
	}
	return nil
}

// Send queues a frame for one subscriber only, e.g. an error reply.
func (h *Hub) Send(sub *Subscriber, frame []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.closed {
		return false
	}
	return sub.offer(frame)
}

func (h *Hub) RoomSize(room types.ID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

// Close closes every subscriber queue; later joins fail.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		if !sub.closed {
			sub.closed = true
			close(sub.out)
		}
	}
	h.rooms = map[types.ID]map[*Subscriber]struct{}{}
	h.joined = map[*Subscriber]map[types.ID]struct{}{}
	h.subs = map[*Subscriber]struct{}{}
}
