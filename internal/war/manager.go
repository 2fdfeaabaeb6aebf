// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package war

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/shopspring/decimal"

	"github.com/holomush/clanwar/internal/clan"
	"github.com/holomush/clanwar/internal/loop"
	"github.com/holomush/clanwar/internal/notify"
	"github.com/holomush/clanwar/internal/territory"
)

// Default durations.
const (
	DefaultExclusivity           = 48 * time.Hour
	DefaultSiegeDuration         = 30 * time.Minute
	DefaultDefenderBonusDuration = 24 * time.Hour
	DefaultPillageDuration       = 10 * time.Minute
	DefaultTruceDuration         = 72 * time.Hour
)

// Settings tunes the war rules.
type Settings struct {
	// DeclarationCost is debited from the aggressor's clan bank.
	DeclarationCost decimal.Decimal

	// Exclusivity is how long after declaring the aggressor may besiege.
	Exclusivity time.Duration

	// SiegeDuration is the siege countdown.
	SiegeDuration time.Duration

	// SiegeCost is charged to the actor starting a siege. Zero disables it.
	SiegeCost decimal.Decimal

	// DefenderMoralBonus is granted to a clan that holds off a siege, for
	// DefenderBonusDuration.
	DefenderMoralBonus    decimal.Decimal
	DefenderBonusDuration time.Duration

	// PillageDuration is announced to both clans after an attacker win.
	PillageDuration time.Duration

	// TruceDuration is how long a signed truce forbids war.
	TruceDuration time.Duration
}

// DefaultSettings returns the stock war rules.
func DefaultSettings() Settings {
	return Settings{
		DeclarationCost:       decimal.NewFromInt(1000),
		Exclusivity:           DefaultExclusivity,
		SiegeDuration:         DefaultSiegeDuration,
		SiegeCost:             decimal.Zero,
		DefenderMoralBonus:    decimal.NewFromInt(1),
		DefenderBonusDuration: DefaultDefenderBonusDuration,
		PillageDuration:       DefaultPillageDuration,
		TruceDuration:         DefaultTruceDuration,
	}
}

// ManagerConfig holds dependencies for Manager.
type ManagerConfig struct {
	Loop      *loop.Loop
	Store     Store
	Territory *territory.Manager
	Clans     clan.Service

	// Economy charges the siege cost. Required when Settings.SiegeCost is
	// positive.
	Economy clan.Economy

	// Events defaults to notify.Discard.
	Events notify.Publisher

	Settings Settings

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Clock defaults to time.Now. Countdown timers always run on real time.
	Clock func() time.Time
}

// Manager owns the live war and siege tables.
//
// Reads are safe from any goroutine. Writes happen on the loop goroutine
// after the store has accepted them. Territory ownership is only ever read
// and changed through the territory.Manager.
type Manager struct {
	loop      *loop.Loop
	store     Store
	territory *territory.Manager
	clans     clan.Service
	economy   clan.Economy
	events    notify.Publisher
	settings  Settings
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	wars   map[pair]War
	sieges map[territory.ChunkKey]Siege

	// Loop-confined reservations. A cell in pendingSieges is being started
	// or resolved.
	pendingWars   map[pair]struct{}
	pendingSieges map[territory.ChunkKey]struct{}

	timerMu sync.Mutex
	timers  map[ulid.ULID]*time.Timer
}

// NewManager creates a Manager and subscribes it to territory removals so a
// siege on a lost chunk is cancelled.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Loop == nil {
		return nil, oops.Errorf("loop is required")
	}
	if cfg.Store == nil {
		return nil, oops.Errorf("war store is required")
	}
	if cfg.Territory == nil {
		return nil, oops.Errorf("territory manager is required")
	}
	if cfg.Clans == nil {
		return nil, oops.Errorf("clan service is required")
	}
	if cfg.Settings.SiegeCost.IsPositive() && cfg.Economy == nil {
		return nil, oops.Errorf("economy service is required when siege cost is set")
	}
	if cfg.Events == nil {
		cfg.Events = notify.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	defaults := DefaultSettings()
	if cfg.Settings.Exclusivity <= 0 {
		cfg.Settings.Exclusivity = defaults.Exclusivity
	}
	if cfg.Settings.SiegeDuration <= 0 {
		cfg.Settings.SiegeDuration = defaults.SiegeDuration
	}
	if cfg.Settings.DefenderBonusDuration <= 0 {
		cfg.Settings.DefenderBonusDuration = defaults.DefenderBonusDuration
	}
	if cfg.Settings.PillageDuration <= 0 {
		cfg.Settings.PillageDuration = defaults.PillageDuration
	}
	if cfg.Settings.TruceDuration <= 0 {
		cfg.Settings.TruceDuration = defaults.TruceDuration
	}

	m := &Manager{
		loop:          cfg.Loop,
		store:         cfg.Store,
		territory:     cfg.Territory,
		clans:         cfg.Clans,
		economy:       cfg.Economy,
		events:        cfg.Events,
		settings:      cfg.Settings,
		logger:        cfg.Logger,
		now:           cfg.Clock,
		wars:          make(map[pair]War),
		sieges:        make(map[territory.ChunkKey]Siege),
		pendingWars:   make(map[pair]struct{}),
		pendingSieges: make(map[territory.ChunkKey]struct{}),
		timers:        make(map[ulid.ULID]*time.Timer),
	}
	cfg.Territory.OnRemoved(m.territoryRemoved)
	return m, nil
}

// Settings returns the rules the manager enforces.
func (m *Manager) Settings() Settings {
	return m.settings
}

// Load replaces the live tables with the store's active wars and live
// sieges and re-arms each siege countdown with its remaining time. A siege
// whose deadline has passed resolves as a defender win shortly after. Sieges
// left PENDING by an interrupted start, and sieges whose chunk is gone or
// has changed hands since, are cancelled. The territory manager must be
// loaded and the loop running.
func (m *Manager) Load(ctx context.Context) error {
	wars, err := m.store.ListActiveWars(ctx)
	if err != nil {
		return oops.With("operation", "load wars").Wrap(err)
	}
	sieges, err := m.store.ListLiveSieges(ctx)
	if err != nil {
		return oops.With("operation", "load sieges").Wrap(err)
	}

	installed := loop.NewFuture[int]()
	if err := m.loop.Post(func() {
		m.mu.Lock()
		m.wars = make(map[pair]War, len(wars))
		for _, w := range wars {
			m.wars[pair{aggressor: w.AggressorClanID, defender: w.DefenderClanID}] = w
		}
		m.sieges = make(map[territory.ChunkKey]Siege, len(sieges))
		var live, stale []Siege
		for _, s := range sieges {
			if s.Status == SiegeActive && m.holdsTerritory(s) {
				m.sieges[s.Key()] = s
				live = append(live, s)
			} else {
				stale = append(stale, s)
			}
		}
		m.mu.Unlock()

		for _, s := range live {
			m.arm(s)
		}
		for _, s := range stale {
			if s.Status == SiegeActive {
				m.logger.Warn("siege cancelled: territory changed hands",
					"siege_id", s.ID.String(),
					"chunk", s.Key().String(),
				)
			}
			m.cancel(context.WithoutCancel(ctx), s, loop.NewFuture[ResolveOutcome]())
		}
		installed.Resolve(len(live))
	}); err != nil {
		return oops.With("operation", "load wars").Wrap(err)
	}

	armed, err := installed.Wait(ctx)
	if err != nil {
		return oops.With("operation", "load wars").Wrap(err)
	}
	m.logger.Info("wars loaded", "wars", len(wars), "sieges", armed)
	return nil
}

// Close stops every countdown. Sieges stay live in the store and are
// re-armed by the next Load.
func (m *Manager) Close() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

// HasActiveWar reports whether a war whose exclusivity window is still open
// exists between a and b in either direction.
func (m *Manager) HasActiveWar(a, b ulid.ULID) bool {
	w, ok := m.WarBetween(a, b)
	return ok && !w.Expired(m.now())
}

// WarBetween returns the live-table war between a and b in either direction,
// including one whose exclusivity window has closed.
func (m *Manager) WarBetween(a, b ulid.ULID) (War, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.warBetweenLocked(a, b)
}

func (m *Manager) warBetweenLocked(a, b ulid.ULID) (War, bool) {
	p := pair{aggressor: a, defender: b}
	if w, ok := m.wars[p]; ok {
		return w, true
	}
	w, ok := m.wars[p.reversed()]
	return w, ok
}

// declaredWar returns the war aggressor declared on defender.
func (m *Manager) declaredWar(aggressor, defender ulid.ULID) (War, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wars[pair{aggressor: aggressor, defender: defender}]
	return w, ok
}

// Wars returns every war in the live table, oldest first.
func (m *Manager) Wars() []War {
	m.mu.RLock()
	out := make([]War, 0, len(m.wars))
	for _, w := range m.wars {
		out = append(out, w)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Sieges returns every live siege, oldest first.
func (m *Manager) Sieges() []Siege {
	m.mu.RLock()
	out := make([]Siege, 0, len(m.sieges))
	for _, s := range m.sieges {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// GetActiveSiege returns the live siege on the grid cell containing pos.
func (m *Manager) GetActiveSiege(pos territory.Position) (Siege, bool) {
	return m.siegeAt(pos.Chunk())
}

func (m *Manager) siegeAt(key territory.ChunkKey) (Siege, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sieges[key]
	return s, ok
}

// IsWarzone reports whether the grid cell containing pos is contested: it
// is under siege, or its owner is party to a war whose window is open.
func (m *Manager) IsWarzone(pos territory.Position) bool {
	key := pos.Chunk()
	if _, ok := m.siegeAt(key); ok {
		return true
	}
	chunk, ok := m.territory.TerritoryAtKey(key)
	if !ok {
		return false
	}

	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	for p, w := range m.wars {
		if (p.aggressor == chunk.ClanID || p.defender == chunk.ClanID) && !w.Expired(now) {
			return true
		}
	}
	return false
}

// arm starts s's countdown. Must run on the loop.
func (m *Manager) arm(s Siege) {
	delay := s.Deadline().Sub(m.now())
	if delay < 0 {
		delay = 0
	}
	key := s.Key()
	t := time.AfterFunc(delay, func() {
		m.loop.PostAsync(func() { m.expire(s.ID, key) }, func(err error) {
			m.logger.Debug("siege countdown dropped", "siege_id", s.ID.String(), "error", err)
		})
	})

	m.timerMu.Lock()
	if old, ok := m.timers[s.ID]; ok {
		old.Stop()
	}
	m.timers[s.ID] = t
	m.timerMu.Unlock()
}

// disarm stops s's countdown. A countdown already firing finds the siege
// gone from the live table and does nothing.
func (m *Manager) disarm(id ulid.ULID) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
}

// expire resolves a siege whose countdown elapsed. Runs on the loop.
func (m *Manager) expire(id ulid.ULID, key territory.ChunkKey) {
	s, ok := m.siegeAt(key)
	if !ok || s.ID != id {
		return
	}
	m.logger.Info("siege countdown elapsed", "siege_id", id.String(), "chunk", key.String())
	m.resolve(context.Background(), s, s.DefenderClanID, loop.NewFuture[ResolveOutcome]())
}

// territoryRemoved cancels the siege on a chunk that left the cache.
// Runs on the loop.
func (m *Manager) territoryRemoved(c territory.Chunk) {
	s, ok := m.siegeAt(c.Key())
	if !ok || s.TerritoryID != c.ID {
		return
	}
	m.logger.Info("siege cancelled: territory lost",
		"siege_id", s.ID.String(),
		"clan_id", c.ClanID.String(),
		"chunk", c.Key().String(),
	)
	m.cancel(context.Background(), s, loop.NewFuture[ResolveOutcome]())
}

// holdsTerritory reports whether the chunk s was started on still occupies
// its cell.
func (m *Manager) holdsTerritory(s Siege) bool {
	current, ok := m.territory.TerritoryAtKey(s.Key())
	return ok && current.ID == s.TerritoryID
}

// unordered returns a key identical for (a, b) and (b, a).
func unordered(a, b ulid.ULID) pair {
	if a.Compare(b) > 0 {
		a, b = b, a
	}
	return pair{aggressor: a, defender: b}
}
