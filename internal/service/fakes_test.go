package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/atinyakov/HealthSync/internal/models"
	"github.com/atinyakov/HealthSync/internal/notify"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

func weight(id string, kg float64, updated time.Time) models.Record {
	data, _ := json.Marshal(models.WeightEntry{WeightKg: kg, MeasuredAt: base})
	return models.Record{
		Kind:      models.KindWeightEntry,
		ID:        id,
		UserID:    "u1",
		Data:      data,
		CreatedAt: base,
		UpdatedAt: updated,
	}
}

func goal(id, title string, updated time.Time) models.Record {
	data, _ := json.Marshal(models.Goal{Title: title})
	return models.Record{
		Kind:      models.KindGoal,
		ID:        id,
		UserID:    "u1",
		Data:      data,
		CreatedAt: base,
		UpdatedAt: updated,
	}
}

func decodeWeight(t *testing.T, r models.Record) float64 {
	t.Helper()
	p, err := models.DecodePayload(r.Kind, r.Data)
	require.NoError(t, err)
	return p.(*models.WeightEntry).WeightKg
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// memStore is an in-memory record store with the same conflict semantics
// as the Postgres repository.
type memStore struct {
	mu           sync.Mutex
	records      map[string]models.Record
	horizons     map[string]models.Cursor
	participants map[string]models.Cursor

	// onCAS runs with the lock held before every compare-and-swap.
	onCAS func(s *memStore, rec models.Record)
	// Hooks returning a non-nil error make the call fail.
	getErr      func() error
	insertErr   func() error
	changesErr  func() error
	markErr     func() error
	purgeFunc   func(before time.Time) (int64, error)
	changeCalls int
}

func newMemStore(recs ...models.Record) *memStore {
	s := &memStore{
		records:      make(map[string]models.Record),
		horizons:     make(map[string]models.Cursor),
		participants: make(map[string]models.Cursor),
	}
	for _, r := range recs {
		s.records[r.ID] = r
	}
	return s
}

func (s *memStore) record(id string) models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

func (s *memStore) participant(userID, clientID string) (models.Cursor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.participants[userID+"/"+clientID]
	return c, ok
}

func (s *memStore) Get(ctx context.Context, userID string, ref models.Ref) (*models.Record, error) {
	if s.getErr != nil {
		if err := s.getErr(); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[ref.ID]
	if !ok || rec.UserID != userID || rec.Kind != ref.Kind {
		return nil, fmt.Errorf("get %s: %w", ref, models.ErrNotFound)
	}
	return &rec, nil
}

func (s *memStore) Insert(ctx context.Context, rec models.Record) error {
	if s.insertErr != nil {
		if err := s.insertErr(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("insert %s: %w", rec.Ref(), models.ErrConcurrentModification)
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *memStore) CompareAndSwap(ctx context.Context, rec models.Record, expected time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onCAS != nil {
		s.onCAS(s, rec)
	}
	cur, ok := s.records[rec.ID]
	if !ok || cur.UserID != rec.UserID || !cur.UpdatedAt.Equal(expected) {
		return fmt.Errorf("update %s: %w", rec.Ref(), models.ErrConcurrentModification)
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *memStore) ChangesPage(ctx context.Context, userID string, after models.Cursor, limit int) ([]models.Record, error) {
	s.mu.Lock()
	s.changeCalls++
	s.mu.Unlock()
	if s.changesErr != nil {
		if err := s.changesErr(); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Record
	for _, r := range s.records {
		if r.UserID == userID && after.Before(r.Position()) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position().Before(out[j].Position()) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) PurgeHorizon(ctx context.Context, userID string) (models.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.horizons[userID], nil
}

func (s *memStore) MarkSynced(ctx context.Context, userID string, delivered []models.Record, at time.Time) error {
	if s.markErr != nil {
		if err := s.markErr(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range delivered {
		cur, ok := s.records[d.ID]
		if ok && cur.UserID == userID && cur.UpdatedAt.Equal(d.UpdatedAt) {
			ts := at
			cur.SyncedAt = &ts
			s.records[d.ID] = cur
		}
	}
	return nil
}

func (s *memStore) TouchParticipant(ctx context.Context, userID, clientID string, cursor models.Cursor, seen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[userID+"/"+clientID] = cursor
	return nil
}

func (s *memStore) PurgeAcknowledged(ctx context.Context, before time.Time) (int64, error) {
	if s.purgeFunc == nil {
		return 0, nil
	}
	return s.purgeFunc(before)
}

type fakeNotifier struct {
	mu        sync.Mutex
	published []notify.Change
	err       error
}

func (f *fakeNotifier) Publish(ctx context.Context, changes ...notify.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, changes...)
	return f.err
}

var errTransient = errors.New("connection reset")

func testOptions(now time.Time) Options {
	return Options{
		Retry:       RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		IsTransient: func(err error) bool { return errors.Is(err, errTransient) },
		Now:         fixedClock(now),
	}
}

// failTimes returns a hook that fails the first n calls with err.
func failTimes(n int, err error) func() error {
	calls := 0
	return func() error {
		calls++
		if calls <= n {
			return err
		}
		return nil
	}
}
