// Package storage keeps a device's copy of the user's health records,
// queues offline writes and reconciles them with the server.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/atinyakov/HealthSync/internal/models"
	"github.com/google/uuid"
)

// DefaultFile is the store used by the shell when no path is given.
const DefaultFile = "healthsync.json"

// LocalStorage is the on-device record store. Every local mutation is
// also queued as a pending write until the server settles it.
type LocalStorage struct {
	path   string
	sealer *Sealer
	now    func() time.Time

	// saveMu serializes Load and Save so snapshots reach the disk in order.
	saveMu sync.Mutex

	mu    sync.Mutex
	state fileState
}

// NewLocalStorage returns a store persisted at path. When sealer is not nil
// the file is encrypted with it.
func NewLocalStorage(path string, sealer *Sealer) *LocalStorage {
	ls := &LocalStorage{path: path, sealer: sealer, now: time.Now}
	ls.reset()
	return ls
}

func (ls *LocalStorage) reset() {
	ls.state = fileState{
		ClientID: uuid.NewString(),
		Records:  make(map[string]models.Record),
		Pending:  make(map[string]models.Record),
	}
}

// Load reads the store from disk. A missing file yields an empty store
// with a fresh client id.
func (ls *LocalStorage) Load() error {
	ls.saveMu.Lock()
	defer ls.saveMu.Unlock()
	ls.mu.Lock()
	defer ls.mu.Unlock()

	data, err := os.ReadFile(ls.path)
	if err != nil {
		if os.IsNotExist(err) {
			ls.reset()
			return nil
		}
		return err
	}
	if ls.sealer != nil {
		if data, err = ls.sealer.Open(data); err != nil {
			return err
		}
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("parse store: %w", err)
	}
	if st.ClientID == "" {
		st.ClientID = uuid.NewString()
	}
	if st.Records == nil {
		st.Records = make(map[string]models.Record)
	}
	if st.Pending == nil {
		st.Pending = make(map[string]models.Record)
	}
	ls.state = st
	return nil
}

// Save writes the store to disk atomically. Concurrent calls are
// serialized, so the file always holds the latest snapshot taken.
func (ls *LocalStorage) Save() error {
	ls.saveMu.Lock()
	defer ls.saveMu.Unlock()

	ls.mu.Lock()
	data, err := json.Marshal(&ls.state)
	ls.mu.Unlock()
	if err != nil {
		return err
	}
	if ls.sealer != nil {
		if data, err = ls.sealer.Seal(data); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(ls.path), ".healthsync-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), ls.path)
}

// ClientID identifies this device to the server.
func (ls *LocalStorage) ClientID() string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.state.ClientID
}

// Cursor returns the change-log position received so far.
func (ls *LocalStorage) Cursor() string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.state.Cursor
}

// PendingCount returns the number of writes not yet settled by the server.
func (ls *LocalStorage) PendingCount() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.state.Pending)
}

// Put creates or replaces a record. An empty id creates a new record.
// The payload is validated for kind before it is stored.
func (ls *LocalStorage) Put(kind models.Kind, id string, data json.RawMessage) (models.Record, error) {
	p, err := models.DecodePayload(kind, data)
	if err != nil {
		return models.Record{}, err
	}
	payload, err := models.EncodePayload(p)
	if err != nil {
		return models.Record{}, err
	}
	if id == "" {
		id = uuid.NewString()
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	ref := models.Ref{Kind: kind, ID: id}
	prev, exists := ls.state.Records[ref.String()]
	rec := models.Record{
		Kind:      kind,
		ID:        id,
		UserID:    prev.UserID,
		Data:      payload,
		UpdatedAt: ls.bump(prev.UpdatedAt),
		State:     models.StateActive,
	}
	rec.CreatedAt = rec.UpdatedAt
	if exists {
		rec.CreatedAt = prev.CreatedAt
	}
	ls.state.Records[ref.String()] = rec
	ls.state.Pending[ref.String()] = rec
	return rec, nil
}

// Delete turns a live record into a local tombstone queued for the server.
// It reports whether the record existed.
func (ls *LocalStorage) Delete(ref models.Ref) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	rec, ok := ls.state.Records[ref.String()]
	if !ok || rec.IsDeleted() {
		return false
	}
	tomb := rec.Tombstone(ls.bump(rec.UpdatedAt))
	ls.state.Records[ref.String()] = tomb
	ls.state.Pending[ref.String()] = tomb
	return true
}

// Get returns a live record.
func (ls *LocalStorage) Get(ref models.Ref) (models.Record, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	rec, ok := ls.state.Records[ref.String()]
	if !ok || rec.IsDeleted() {
		return models.Record{}, false
	}
	return rec, true
}

// List returns the live records of kind, or of every kind when kind is
// empty, oldest change first.
func (ls *LocalStorage) List(kind models.Kind) []models.Record {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	var out []models.Record
	for _, rec := range ls.state.Records {
		if rec.IsDeleted() || (kind != "" && rec.Kind != kind) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position().Before(out[j].Position()) })
	return out
}

// bump returns the local clock reading, moved past prev when the clock
// has not advanced. Callers hold ls.mu.
func (ls *LocalStorage) bump(prev time.Time) time.Time {
	ts := models.Stamp(ls.now())
	if floor := models.Stamp(prev).Add(time.Microsecond); !prev.IsZero() && ts.Before(floor) {
		return floor
	}
	return ts
}
