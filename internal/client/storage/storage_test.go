package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/atinyakov/HealthSync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func newTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	ls := NewLocalStorage(filepath.Join(t.TempDir(), DefaultFile), nil)
	ls.now = func() time.Time { return t0 }
	return ls
}

func goalJSON(title string) json.RawMessage {
	return json.RawMessage(`{"title":"` + title + `"}`)
}

func TestLoad_FileNotExist(t *testing.T) {
	ls := newTestStorage(t)
	require.NoError(t, ls.Load())

	assert.NotEmpty(t, ls.ClientID())
	assert.Empty(t, ls.Cursor())
	assert.Empty(t, ls.List(""))
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	ls := newTestStorage(t)
	rec, err := ls.Put(models.KindGoal, "g1", goalJSON("run"))
	require.NoError(t, err)
	ls.state.Cursor = "tok"
	require.NoError(t, ls.Save())

	again := NewLocalStorage(ls.path, nil)
	require.NoError(t, again.Load())

	assert.Equal(t, ls.ClientID(), again.ClientID())
	assert.Equal(t, "tok", again.Cursor())
	assert.Equal(t, 1, again.PendingCount())
	got, ok := again.Get(rec.Ref())
	require.True(t, ok)
	assert.JSONEq(t, `{"title":"run","achieved":false}`, string(got.Data))
}

func TestSaveLoad_Encrypted(t *testing.T) {
	sealer, err := NewSealer([]byte("correct horse"))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), DefaultFile)

	ls := NewLocalStorage(path, sealer)
	_, err = ls.Put(models.KindGoal, "g1", goalJSON("run"))
	require.NoError(t, err)
	require.NoError(t, ls.Save())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "run")

	reopened, err := NewSealer([]byte("correct horse"))
	require.NoError(t, err)
	again := NewLocalStorage(path, reopened)
	require.NoError(t, again.Load())
	_, ok := again.Get(models.Ref{Kind: models.KindGoal, ID: "g1"})
	assert.True(t, ok)

	wrong, err := NewSealer([]byte("battery staple"))
	require.NoError(t, err)
	assert.Error(t, NewLocalStorage(path, wrong).Load())
	assert.Error(t, NewLocalStorage(path, nil).Load())
}

func TestSave_ConcurrentWritesKeepLatestState(t *testing.T) {
	ls := newTestStorage(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := ls.Put(models.KindGoal, fmt.Sprintf("g%d", i), goalJSON("run")); err != nil {
				t.Errorf("Put: %v", err)
			}
			if err := ls.Save(); err != nil {
				t.Errorf("Save: %v", err)
			}
		}(i)
	}
	wg.Wait()

	again := NewLocalStorage(ls.path, nil)
	require.NoError(t, again.Load())
	assert.Equal(t, 20, again.PendingCount())
}

func TestPut_ValidatesPayload(t *testing.T) {
	ls := newTestStorage(t)

	_, err := ls.Put(models.KindWeightEntry, "", json.RawMessage(`{"weightKg":-3}`))
	require.ErrorIs(t, err, models.ErrInvalidRecord)
	_, err = ls.Put(models.KindGoal, "", json.RawMessage(`{"title":"x","colour":"red"}`))
	require.ErrorIs(t, err, models.ErrInvalidRecord)
	_, err = ls.Put("steps", "", json.RawMessage(`{}`))
	require.ErrorIs(t, err, models.ErrInvalidRecord)
	assert.Zero(t, ls.PendingCount())
}

func TestPut_AssignsIDAndKeepsCreatedAt(t *testing.T) {
	ls := newTestStorage(t)

	first, err := ls.Put(models.KindGoal, "", goalJSON("run"))
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.True(t, first.CreatedAt.Equal(t0))

	// The clock did not move, the version still must.
	second, err := ls.Put(models.KindGoal, first.ID, goalJSON("swim"))
	require.NoError(t, err)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt))
	assert.Equal(t, 1, ls.PendingCount())
}

func TestDelete(t *testing.T) {
	ls := newTestStorage(t)
	rec, err := ls.Put(models.KindGoal, "g1", goalJSON("run"))
	require.NoError(t, err)

	assert.True(t, ls.Delete(rec.Ref()))
	_, ok := ls.Get(rec.Ref())
	assert.False(t, ok)
	assert.Empty(t, ls.List(models.KindGoal))

	pending := ls.state.Pending[rec.Ref().String()]
	assert.True(t, pending.IsDeleted())
	assert.True(t, pending.UpdatedAt.After(rec.UpdatedAt))

	assert.False(t, ls.Delete(rec.Ref()), "already deleted")
	assert.False(t, ls.Delete(models.Ref{Kind: models.KindGoal, ID: "nope"}))
}

func TestList_FiltersByKind(t *testing.T) {
	ls := newTestStorage(t)
	_, err := ls.Put(models.KindGoal, "g1", goalJSON("run"))
	require.NoError(t, err)
	_, err = ls.Put(models.KindWaterIntake, "w1", json.RawMessage(`{"amountMl":250,"consumedAt":"2026-05-01T08:00:00Z"}`))
	require.NoError(t, err)

	assert.Len(t, ls.List(""), 2)
	goals := ls.List(models.KindGoal)
	require.Len(t, goals, 1)
	assert.Equal(t, "g1", goals[0].ID)
}
