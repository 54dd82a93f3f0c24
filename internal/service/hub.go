package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/forgo/queuedesk/internal/model"
)

// StreamEventType is the SSE event name
type StreamEventType string

const (
	StreamInstruction StreamEventType = "instruction"
	StreamHeartbeat   StreamEventType = "heartbeat"
)

// StreamEvent is one server-sent event
type StreamEvent struct {
	Type        StreamEventType `json:"type"`
	Data        interface{}     `json:"data"`
	CommunityID string          `json:"-"`
}

// Format returns the SSE formatted string
func (e *StreamEvent) Format() string {
	data, _ := json.Marshal(e.Data)
	return "event: " + string(e.Type) + "\ndata: " + string(data) + "\n\n"
}

// Subscriber is a connected SSE client of one community
type Subscriber struct {
	ID          string
	CommunityID string
	Events      chan *StreamEvent
	Done        chan struct{}
}

// InstructionHub fans controller instructions out to SSE subscribers of
// each community. Slow subscribers drop events rather than block dispatch.
type InstructionHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*Subscriber // communityID -> subscriberID -> subscriber
	heartbeat   *time.Ticker
	done        chan struct{}
	closeOnce   sync.Once
}

// NewInstructionHub creates a hub sending heartbeats every interval
func NewInstructionHub(heartbeat time.Duration) *InstructionHub {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	hub := &InstructionHub{
		subscribers: make(map[string]map[string]*Subscriber),
		heartbeat:   time.NewTicker(heartbeat),
		done:        make(chan struct{}),
	}
	go hub.sendHeartbeats()
	return hub
}

// Subscribe adds a new subscriber for a community
func (h *InstructionHub) Subscribe(communityID, subscriberID string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscriber{
		ID:          subscriberID,
		CommunityID: communityID,
		Events:      make(chan *StreamEvent, 100),
		Done:        make(chan struct{}),
	}

	if h.subscribers[communityID] == nil {
		h.subscribers[communityID] = make(map[string]*Subscriber)
	}
	h.subscribers[communityID][subscriberID] = sub

	return sub
}

// Unsubscribe removes a subscriber
func (h *InstructionHub) Unsubscribe(communityID, subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.subscribers[communityID]; ok {
		if sub, ok := subs[subscriberID]; ok {
			close(sub.Done)
			close(sub.Events)
			delete(subs, subscriberID)
		}
		if len(subs) == 0 {
			delete(h.subscribers, communityID)
		}
	}
}

// Publish implements Publisher
func (h *InstructionHub) Publish(_ context.Context, instructions []model.Instruction) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i := range instructions {
		in := instructions[i]
		subs, ok := h.subscribers[in.CommunityID]
		if !ok {
			continue
		}
		ev := &StreamEvent{Type: StreamInstruction, Data: in, CommunityID: in.CommunityID}
		for _, sub := range subs {
			select {
			case sub.Events <- ev:
			default:
				// Buffer full, skip this subscriber
			}
		}
	}
	return nil
}

func (h *InstructionHub) sendHeartbeats() {
	for {
		select {
		case <-h.heartbeat.C:
			h.mu.RLock()
			for communityID, subs := range h.subscribers {
				ev := &StreamEvent{
					Type:        StreamHeartbeat,
					CommunityID: communityID,
					Data: map[string]string{
						"timestamp": time.Now().UTC().Format(time.RFC3339),
					},
				}
				for _, sub := range subs {
					select {
					case sub.Events <- ev:
					default:
					}
				}
			}
			h.mu.RUnlock()
		case <-h.done:
			return
		}
	}
}

// Close stops the hub and disconnects every subscriber
func (h *InstructionHub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.heartbeat.Stop()

		h.mu.Lock()
		defer h.mu.Unlock()
		for communityID, subs := range h.subscribers {
			for _, sub := range subs {
				close(sub.Done)
				close(sub.Events)
			}
			delete(h.subscribers, communityID)
		}
	})
}

// SubscriberCount returns the number of subscribers for a community
func (h *InstructionHub) SubscriberCount(communityID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[communityID])
}
