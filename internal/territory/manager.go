// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package territory

import (
	"context"
	"errors"
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
)

// Default settings.
const (
	DefaultMaxPerClan          = 50
	DefaultMaintenanceInterval = 24 * time.Hour
)

// Default maintenance cost parameters.
var (
	DefaultMaintenanceBaseCost = decimal.NewFromInt(100)
	DefaultMaintenanceScale    = decimal.NewFromFloat(1.5)
)

// Settings tunes the territory rules.
type Settings struct {
	// MaxPerClan caps how many chunks one clan may hold.
	MaxPerClan int

	// MaintenanceInterval is the time between upkeep passes.
	MaintenanceInterval time.Duration

	// MaintenanceBaseCost is the upkeep of a clan holding one chunk. Zero
	// makes upkeep free.
	MaintenanceBaseCost decimal.Decimal

	// MaintenanceScale multiplies upkeep for every chunk beyond the first.
	MaintenanceScale decimal.Decimal
}

// DefaultSettings returns the stock territory rules.
func DefaultSettings() Settings {
	return Settings{
		MaxPerClan:          DefaultMaxPerClan,
		MaintenanceInterval: DefaultMaintenanceInterval,
		MaintenanceBaseCost: DefaultMaintenanceBaseCost,
		MaintenanceScale:    DefaultMaintenanceScale,
	}
}

// ManagerConfig holds dependencies for Manager.
type ManagerConfig struct {
	Loop     *loop.Loop
	Store    Store
	Clans    clan.Service
	Economy  clan.Economy
	Settings Settings

	// Events receives territory_decayed notifications. Defaults to
	// notify.Discard.
	Events notify.Publisher

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Clock defaults to time.Now.
	Clock func() time.Time
}

type moralBonus struct {
	amount decimal.Decimal
	until  time.Time
}

// Manager owns the in-memory projection of chunk ownership and clan banks.
//
// Reads are safe from any goroutine. Every mutation is applied on the loop
// goroutine once the corresponding store call has succeeded, so the cache
// never runs ahead of durable state.
type Manager struct {
	loop     *loop.Loop
	store    Store
	clans    clan.Service
	economy  clan.Economy
	settings Settings
	events   notify.Publisher
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	chunks  map[ChunkKey]Chunk
	byClan  map[ulid.ULID]map[ChunkKey]struct{}
	banks   map[ulid.ULID]decimal.Decimal
	bonuses map[ulid.ULID][]moralBonus
	removed []func(Chunk)

	// Loop-confined reservations for in-flight mutations.
	pending       map[ChunkKey]struct{}
	pendingClaims map[ulid.ULID]int
}

// NewManager creates a Manager. Loop, Store and Clans are required.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Loop == nil {
		return nil, oops.Errorf("loop is required")
	}
	if cfg.Store == nil {
		return nil, oops.Errorf("territory store is required")
	}
	if cfg.Clans == nil {
		return nil, oops.Errorf("clan service is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Events == nil {
		cfg.Events = notify.Discard
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	defaults := DefaultSettings()
	if cfg.Settings.MaxPerClan <= 0 {
		cfg.Settings.MaxPerClan = defaults.MaxPerClan
	}
	if cfg.Settings.MaintenanceInterval <= 0 {
		cfg.Settings.MaintenanceInterval = defaults.MaintenanceInterval
	}
	if cfg.Settings.MaintenanceBaseCost.IsNegative() {
		return nil, oops.With("base_cost", cfg.Settings.MaintenanceBaseCost.String()).Errorf("maintenance base cost must not be negative")
	}
	if cfg.Settings.MaintenanceScale.IsZero() {
		cfg.Settings.MaintenanceScale = defaults.MaintenanceScale
	}

	return &Manager{
		loop:          cfg.Loop,
		store:         cfg.Store,
		clans:         cfg.Clans,
		economy:       cfg.Economy,
		settings:      cfg.Settings,
		events:        cfg.Events,
		logger:        cfg.Logger,
		now:           cfg.Clock,
		chunks:        make(map[ChunkKey]Chunk),
		byClan:        make(map[ulid.ULID]map[ChunkKey]struct{}),
		banks:         make(map[ulid.ULID]decimal.Decimal),
		bonuses:       make(map[ulid.ULID][]moralBonus),
		pending:       make(map[ChunkKey]struct{}),
		pendingClaims: make(map[ulid.ULID]int),
	}, nil
}

// Settings returns the rules the manager enforces.
func (m *Manager) Settings() Settings {
	return m.settings
}

// Load replaces the cache with every territory in the store.
// It must be called before the loop starts processing mutations.
func (m *Manager) Load(ctx context.Context) error {
	chunks, err := m.store.ListTerritories(ctx)
	if err != nil {
		return oops.With("operation", "load territories").Wrap(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = make(map[ChunkKey]Chunk, len(chunks))
	m.byClan = make(map[ulid.ULID]map[ChunkKey]struct{})
	for _, c := range chunks {
		m.insertLocked(c)
	}
	m.logger.Info("territories loaded", "count", len(chunks))
	return nil
}

// OnRemoved registers fn to be called on the loop goroutine whenever a chunk
// leaves the cache through unclaim or decay. Transfers do not trigger it.
func (m *Manager) OnRemoved(fn func(Chunk)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, fn)
}

// IsClaimed reports whether the grid cell containing pos has an owner.
func (m *Manager) IsClaimed(pos Position) bool {
	_, ok := m.TerritoryAtKey(pos.Chunk())
	return ok
}

// GetTerritoryAt returns the chunk containing pos.
func (m *Manager) GetTerritoryAt(pos Position) (Chunk, bool) {
	return m.TerritoryAtKey(pos.Chunk())
}

// TerritoryAtKey returns the chunk at key.
func (m *Manager) TerritoryAtKey(key ChunkKey) (Chunk, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chunks[key]
	return c, ok
}

// GetOwningClan returns the clan owning the grid cell containing pos.
func (m *Manager) GetOwningClan(pos Position) (ulid.ULID, bool) {
	c, ok := m.GetTerritoryAt(pos)
	return c.ClanID, ok
}

// GetTerritoryCount returns how many chunks clanID holds.
func (m *Manager) GetTerritoryCount(clanID ulid.ULID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byClan[clanID])
}

// GetClanTerritories returns the chunks clanID holds, oldest first.
func (m *Manager) GetClanTerritories(clanID ulid.ULID) []Chunk {
	m.mu.RLock()
	keys := m.byClan[clanID]
	out := make([]Chunk, 0, len(keys))
	for k := range keys {
		out = append(out, m.chunks[k])
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].olderThan(out[j]) })
	return out
}

// ClanIDs returns every clan holding at least one chunk.
func (m *Manager) ClanIDs() []ulid.ULID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ulid.ULID, 0, len(m.byClan))
	for id := range m.byClan {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// HasTerritoryPermission reports whether actor may act in the grid cell
// containing pos: the cell is neutral or owned by the actor's clan.
func (m *Manager) HasTerritoryPermission(ctx context.Context, actor clan.ActorID, pos Position) (bool, error) {
	owner, ok := m.GetOwningClan(pos)
	if !ok {
		return true, nil
	}
	membership, err := m.clans.FactionOf(ctx, actor)
	if errors.Is(err, clan.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, oops.With("operation", "territory permission").With("actor", actor.String()).Wrap(err)
	}
	return membership.Clan.ID == owner, nil
}

// EffectiveMoral returns the clan's moral plus any unexpired bonus.
func (m *Manager) EffectiveMoral(ctx context.Context, clanID ulid.ULID) (decimal.Decimal, error) {
	moral, err := m.clans.Moral(ctx, clanID)
	if err != nil {
		return decimal.Zero, oops.With("operation", "get moral").With("clan_id", clanID.String()).Wrap(err)
	}

	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bonuses[clanID] {
		if now.Before(b.until) {
			moral = moral.Add(b.amount)
		}
	}
	return moral, nil
}

// GrantMoralBonus raises clanID's effective moral by amount until the given
// instant.
func (m *Manager) GrantMoralBonus(clanID ulid.ULID, amount decimal.Decimal, until time.Time) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.bonuses[clanID][:0]
	for _, b := range m.bonuses[clanID] {
		if now.Before(b.until) {
			kept = append(kept, b)
		}
	}
	m.bonuses[clanID] = append(kept, moralBonus{amount: amount, until: until})
}

// GetTerritoryState classifies clanID. A clan is fortified while its
// effective moral covers its territory count; a clan without territory is
// always fortified.
func (m *Manager) GetTerritoryState(ctx context.Context, clanID ulid.ULID) (State, error) {
	count := m.GetTerritoryCount(clanID)
	if count == 0 {
		return Fortified, nil
	}
	moral, err := m.EffectiveMoral(ctx, clanID)
	if err != nil {
		return Fortified, err
	}
	if moral.GreaterThanOrEqual(decimal.NewFromInt(int64(count))) {
		return Fortified, nil
	}
	return Vulnerable, nil
}

// IsClanVulnerable reports whether clanID's moral is below its territory count.
func (m *Manager) IsClanVulnerable(ctx context.Context, clanID ulid.ULID) (bool, error) {
	state, err := m.GetTerritoryState(ctx, clanID)
	if err != nil {
		return false, err
	}
	return state == Vulnerable, nil
}

// insertLocked adds c to the cache. Caller must hold mu for writing.
func (m *Manager) insertLocked(c Chunk) {
	key := c.Key()
	m.chunks[key] = c
	set, ok := m.byClan[c.ClanID]
	if !ok {
		set = make(map[ChunkKey]struct{})
		m.byClan[c.ClanID] = set
	}
	set[key] = struct{}{}
}

// removeLocked drops the chunk at key if its ID still matches.
// Caller must hold mu for writing.
func (m *Manager) removeLocked(key ChunkKey, id ulid.ULID) (Chunk, bool) {
	c, ok := m.chunks[key]
	if !ok || c.ID != id {
		return Chunk{}, false
	}
	delete(m.chunks, key)
	if set := m.byClan[c.ClanID]; set != nil {
		delete(set, key)
		if len(set) == 0 {
			delete(m.byClan, c.ClanID)
		}
	}
	return c, true
}

// evict removes a chunk and notifies listeners. Must run on the loop.
func (m *Manager) evict(key ChunkKey, id ulid.ULID) (Chunk, bool) {
	m.mu.Lock()
	c, ok := m.removeLocked(key, id)
	listeners := append([]func(Chunk){}, m.removed...)
	m.mu.Unlock()

	if ok {
		for _, fn := range listeners {
			fn(c)
		}
	}
	return c, ok
}
