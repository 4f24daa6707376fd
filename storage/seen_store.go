package storage

import (
	"context"
	"fmt"
	"sync"

	"mercari-watcher/metrics"
	"mercari-watcher/models"
	"mercari-watcher/utils"
)

// DefaultMaxSeenItems bounds the store when no limit is configured.
const DefaultMaxSeenItems = 6000

// SeenStore is an insertion-ordered map from listing signature to the
// lowest price observed for it. Save trims it to the most recently
// inserted maxItems entries; updates to an existing entry keep its position.
type SeenStore struct {
	mu       sync.Mutex
	order    []string
	entries  map[string]models.SeenEntry
	maxItems int

	persister SeenPersister
	logger    *utils.Logger
	metrics   *metrics.Metrics
}

// NewSeenStore creates an empty store backed by persister.
func NewSeenStore(persister SeenPersister, maxItems int, logger *utils.Logger, m *metrics.Metrics) *SeenStore {
	if maxItems <= 0 {
		maxItems = DefaultMaxSeenItems
	}
	return &SeenStore{
		entries:   make(map[string]models.SeenEntry),
		maxItems:  maxItems,
		persister: persister,
		logger:    logger,
		metrics:   m,
	}
}

// Load replaces the in-memory state with the persisted one. Any failure
// leaves the store empty; it never aborts startup.
func (s *SeenStore) Load(ctx context.Context) {
	records, err := s.persister.LoadSeen(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = nil
	s.entries = make(map[string]models.SeenEntry)

	if err != nil {
		s.logger.Error("[seen] Load failed, starting with empty seen items: %v", err)
		s.metrics.PersistFailures.WithLabelValues("load").Inc()
		s.metrics.SeenItems.Set(0)
		return
	}

	for _, r := range records {
		s.insertLocked(r.Signature, models.SeenEntry{Price: r.Price, Timestamp: r.Timestamp})
	}
	s.metrics.SeenItems.Set(float64(len(s.order)))
	s.logger.Info("[seen] Loaded %d seen items", len(s.order))
}

// Evaluate checks a listing against the store and records it when it is
// new or strictly cheaper than the stored price.
func (s *SeenStore) Evaluate(signature string, amount int64, timestamp string) models.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[signature]
	switch {
	case !ok:
		s.insertLocked(signature, models.SeenEntry{Price: amount, Timestamp: timestamp})
		s.metrics.SeenItems.Set(float64(len(s.order)))
		return models.DecisionNew
	case amount < entry.Price:
		s.entries[signature] = models.SeenEntry{Price: amount, Timestamp: timestamp}
		return models.DecisionCheaper
	default:
		return models.DecisionUnchanged
	}
}

// insertLocked appends a signature; a duplicate key in loaded data keeps
// its first position and takes the later value.
func (s *SeenStore) insertLocked(signature string, entry models.SeenEntry) {
	if _, exists := s.entries[signature]; !exists {
		s.order = append(s.order, signature)
	}
	s.entries[signature] = entry
}

// Save trims the store to its bound and persists it. A persistence error
// is logged and returned, but the in-memory state stays authoritative.
func (s *SeenStore) Save(ctx context.Context) error {
	s.mu.Lock()
	s.truncateLocked()
	records := s.recordsLocked()
	s.mu.Unlock()

	s.metrics.SeenItems.Set(float64(len(records)))

	if err := s.persister.SaveSeen(ctx, records); err != nil {
		s.logger.Error("[seen] Failed to save seen items: %v", err)
		s.metrics.PersistFailures.WithLabelValues("save").Inc()
		return fmt.Errorf("seen: save: %w", err)
	}
	s.logger.Info("[seen] Saved %d seen items", len(records))
	return nil
}

func (s *SeenStore) truncateLocked() {
	excess := len(s.order) - s.maxItems
	if excess <= 0 {
		return
	}
	for _, sig := range s.order[:excess] {
		delete(s.entries, sig)
	}
	kept := make([]string, s.maxItems)
	copy(kept, s.order[excess:])
	s.order = kept
}

func (s *SeenStore) recordsLocked() []models.SeenRecord {
	records := make([]models.SeenRecord, 0, len(s.order))
	for _, sig := range s.order {
		e := s.entries[sig]
		records = append(records, models.SeenRecord{Signature: sig, Price: e.Price, Timestamp: e.Timestamp})
	}
	return records
}

// Get returns the entry stored for signature.
func (s *SeenStore) Get(signature string) (models.SeenEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[signature]
	return e, ok
}

// Len returns the number of stored signatures.
func (s *SeenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Records returns an insertion-ordered snapshot.
func (s *SeenStore) Records() []models.SeenRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordsLocked()
}

// Close releases the persister.
func (s *SeenStore) Close() error {
	return s.persister.Close()
}
