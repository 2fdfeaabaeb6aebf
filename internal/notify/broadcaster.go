// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 100

// AllStreams subscribes to the events of every stream.
const AllStreams = "*"

// Broadcaster distributes events to subscribers. Broadcast never blocks: a
// subscriber whose buffer is full misses the event.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string][]chan Event
	logger *slog.Logger
	now    func() time.Time
}

// NewBroadcaster creates a new broadcaster. A nil logger uses slog.Default().
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:   make(map[string][]chan Event),
		logger: logger,
		now:    time.Now,
	}
}

// Subscribe creates a channel for receiving events on a stream.
func (b *Broadcaster) Subscribe(stream string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, DefaultBuffer)
	b.subs[stream] = append(b.subs[stream], ch)
	return ch
}

// Unsubscribe removes a channel from a stream and closes it.
func (b *Broadcaster) Unsubscribe(stream string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[stream]
	for i, sub := range subs {
		if sub == ch {
			b.subs[stream] = append(subs[:i], subs[i+1:]...)
			if len(b.subs[stream]) == 0 {
				delete(b.subs, stream)
			}
			close(ch)
			return
		}
	}
}

// Broadcast sends an event to all subscribers of its stream and of
// AllStreams.
func (b *Broadcaster) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.deliver(b.subs[event.Stream], event)
	if event.Stream != AllStreams {
		b.deliver(b.subs[AllStreams], event)
	}
}

func (b *Broadcaster) deliver(subs []chan Event, event Event) {
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			b.logger.Warn("event dropped: subscriber buffer full",
				"stream", event.Stream,
				"event_id", event.ID.String(),
				"event_type", string(event.Type),
			)
		}
	}
}

// Publish encodes payload as JSON and broadcasts one event per clan stream.
func (b *Broadcaster) Publish(typ EventType, payload any, clans ...ulid.ULID) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("event payload not encodable", "event_type", string(typ), "error", err)
		return
	}

	now := b.now()
	for _, clanID := range clans {
		b.Broadcast(Event{
			ID:        ulid.Make(),
			Stream:    ClanStream(clanID),
			Type:      typ,
			Timestamp: now,
			ClanID:    clanID,
			Payload:   data,
		})
	}
}

var _ Publisher = (*Broadcaster)(nil)
