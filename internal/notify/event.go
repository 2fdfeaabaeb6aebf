// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package notify delivers territory and war events to per-clan streams.
package notify

import (
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventWarDeclared      EventType = "war_declared"
	EventSiegeStarted     EventType = "siege_started"
	EventSiegeEnded       EventType = "siege_ended"
	EventTerritoryDecayed EventType = "territory_decayed"
	EventPillageStarted   EventType = "pillage_started"
	EventTruceSigned      EventType = "truce_signed"
)

// Event is something that happened to a clan.
type Event struct {
	ID        ulid.ULID
	Stream    string // e.g., "clan:01ABC"
	Type      EventType
	Timestamp time.Time
	ClanID    ulid.ULID
	Payload   []byte // JSON
}

// ClanStream returns the stream name for a clan.
func ClanStream(clanID ulid.ULID) string {
	return "clan:" + clanID.String()
}

// Publisher fans an event out to the streams of the given clans.
type Publisher interface {
	Publish(typ EventType, payload any, clans ...ulid.ULID)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(EventType, any, ...ulid.ULID) {}

// Log writes one Info record per event received on ch until ch is closed.
func Log(logger *slog.Logger, ch <-chan Event) {
	for ev := range ch {
		logger.Info("clan event",
			"event_type", string(ev.Type),
			"clan_id", ev.ClanID.String(),
			"event_id", ev.ID.String(),
			"payload", string(ev.Payload),
		)
	}
}
