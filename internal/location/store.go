// Package location caches the last known position of every connected courier.
package location

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/domain"
	"service-dispatch/internal/geo"
	"service-dispatch/internal/logx"
)

// Default store settings.
const (
	DefaultLivenessWindow = 30 * time.Second
	DefaultHistorySize    = 20
)

// Update results reported to Options.OnUpdate.
const (
	ResultAccepted = "accepted"
	ResultInvalid  = "invalid"
	ResultStale    = "stale"
	ResultUnknown  = "unknown"
)

// Options configures a Store.
type Options struct {
	LivenessWindow time.Duration
	HistorySize    int
	Now            func() time.Time
	OnUpdate       func(result string)
}

type entry struct {
	mu        sync.Mutex
	pos       *domain.CourierPosition
	lastSeen  time.Time
	available bool
	history   []domain.CourierPosition
}

// Store holds one current position per courier plus a short trail.
// The courier map is guarded by an RWMutex; each courier entry has its own
// mutex so updates for different couriers do not contend.
type Store struct {
	mu          sync.RWMutex
	couriers    map[string]*entry
	window      time.Duration
	historySize int
	now         func() time.Time
	onUpdate    func(string)
	logger      logx.Logger
}

// NewStore creates an empty store.
func NewStore(logger logx.Logger, opts Options) *Store {
	if logger == nil {
		logger = logx.Nop()
	}
	if opts.LivenessWindow <= 0 {
		opts.LivenessWindow = DefaultLivenessWindow
	}
	if opts.HistorySize < 0 {
		opts.HistorySize = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OnUpdate == nil {
		opts.OnUpdate = func(string) {}
	}
	return &Store{
		couriers:    make(map[string]*entry),
		window:      opts.LivenessWindow,
		historySize: opts.HistorySize,
		now:         opts.Now,
		onUpdate:    opts.OnUpdate,
		logger:      logger.With(logx.String("component", "location_store")),
	}
}

// LivenessWindow returns the window used by Snapshot.
func (s *Store) LivenessWindow() time.Duration { return s.window }

func (s *Store) lookup(courierID string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.couriers[courierID]
}

func (s *Store) upsert(courierID string) *entry {
	if e := s.lookup(courierID); e != nil {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.couriers[courierID]; e != nil {
		return e
	}
	e := &entry{available: true}
	s.couriers[courierID] = e
	return e
}

// Join makes a courier known to the store as available. Existing state is kept.
func (s *Store) Join(courierID string) {
	s.upsert(courierID)
}

// Update records a new position for a courier that joined. Unknown couriers
// (apperr.ErrNotFound), out-of-range coordinates and timestamps not newer than
// the stored one are dropped, logged, and reported as errors; the stored value
// is left untouched.
func (s *Store) Update(courierID string, lat, lon float64, recordedAt time.Time) error {
	if strings.TrimSpace(courierID) == "" {
		s.onUpdate(ResultInvalid)
		return fmt.Errorf("empty courier id: %w", apperr.ErrInvalid)
	}
	if !geo.ValidCoordinates(lat, lon) {
		s.onUpdate(ResultInvalid)
		s.logger.Warn("position dropped: coordinates out of range",
			logx.String("courier_id", courierID),
			logx.Float64("lat", lat),
			logx.Float64("lon", lon),
		)
		return fmt.Errorf("coordinates (%v, %v): %w", lat, lon, apperr.ErrInvalid)
	}

	e := s.lookup(courierID)
	if e == nil {
		s.onUpdate(ResultUnknown)
		s.logger.Debug("position dropped: courier not joined", logx.String("courier_id", courierID))
		return fmt.Errorf("courier %s: %w", courierID, apperr.ErrNotFound)
	}
	now := s.now()

	e.mu.Lock()
	if e.pos != nil && !recordedAt.After(e.pos.RecordedAt) {
		stored := e.pos.RecordedAt
		e.mu.Unlock()
		s.onUpdate(ResultStale)
		s.logger.Debug("position dropped: out of order",
			logx.String("courier_id", courierID),
			logx.Time("recorded_at", recordedAt),
			logx.Time("stored_at", stored),
		)
		return fmt.Errorf("recorded at %s, stored %s: %w", recordedAt, stored, apperr.ErrStale)
	}
	p := domain.CourierPosition{CourierID: courierID, Lat: lat, Lon: lon, RecordedAt: recordedAt}
	e.pos = &p
	e.lastSeen = now
	if s.historySize > 0 {
		e.history = append(e.history, p)
		if over := len(e.history) - s.historySize; over > 0 {
			e.history = append(e.history[:0], e.history[over:]...)
		}
	}
	e.mu.Unlock()

	s.onUpdate(ResultAccepted)
	return nil
}

// Snapshot returns the positions of couriers that are available and were heard
// from within the liveness window, ordered by courier id. Stale couriers are
// excluded but not removed.
func (s *Store) Snapshot() []domain.CourierPosition {
	now := s.now()

	s.mu.RLock()
	entries := make([]*entry, 0, len(s.couriers))
	for _, e := range s.couriers {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]domain.CourierPosition, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.pos != nil && e.available && now.Sub(e.lastSeen) <= s.window {
			out = append(out, *e.pos)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourierID < out[j].CourierID })
	return out
}

// MarkAvailable includes a known courier in matching again.
// It reports false for couriers the store does not know.
func (s *Store) MarkAvailable(courierID string) bool { return s.setAvailable(courierID, true) }

// MarkUnavailable excludes a known courier from matching even while live.
func (s *Store) MarkUnavailable(courierID string) bool { return s.setAvailable(courierID, false) }

func (s *Store) setAvailable(courierID string, available bool) bool {
	e := s.lookup(courierID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	e.available = available
	e.mu.Unlock()
	return true
}

// Reserve atomically flips an available courier to unavailable and reports
// whether it did. Two concurrent assignments can never both reserve one courier.
func (s *Store) Reserve(courierID string) bool {
	e := s.lookup(courierID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.available {
		return false
	}
	e.available = false
	return true
}

// IsAvailable reports whether the courier is known and available.
func (s *Store) IsAvailable(courierID string) bool {
	e := s.lookup(courierID)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.available
}

// Get returns the last stored position of a courier, live or not.
func (s *Store) Get(courierID string) (domain.CourierPosition, bool) {
	e := s.lookup(courierID)
	if e == nil {
		return domain.CourierPosition{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pos == nil {
		return domain.CourierPosition{}, false
	}
	return *e.pos, true
}

// History returns the courier's trailing positions, oldest first.
func (s *Store) History(courierID string) []domain.CourierPosition {
	e := s.lookup(courierID)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.CourierPosition(nil), e.history...)
}

// Remove purges everything known about a courier.
func (s *Store) Remove(courierID string) {
	s.mu.Lock()
	delete(s.couriers, courierID)
	s.mu.Unlock()
}

// Len returns the number of couriers known to the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.couriers)
}
