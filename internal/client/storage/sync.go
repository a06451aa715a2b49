package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/atinyakov/HealthSync/internal/conflict"
	"github.com/atinyakov/HealthSync/internal/models"
	"github.com/cenkalti/backoff/v4"
)

// ErrCursorReset is returned when the server refused the stored cursor.
// The cursor has been cleared and the next sync performs a full resync.
var ErrCursorReset = errors.New("cursor reset, full resync required")

// StartAutoSync syncs in the background every interval until ctx is done.
// Failed attempts are retried with exponential backoff.
func StartAutoSync(ctx context.Context, client *http.Client, baseURL, token string, ls *LocalStorage, interval time.Duration) {
	go func() {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = time.Second
		eb.MaxInterval = 5 * time.Minute
		eb.MaxElapsedTime = 0

		var wait time.Duration
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			if err := SyncWithServer(ctx, client, baseURL, token, ls); err != nil {
				fmt.Println("sync error:", err)
				wait = eb.NextBackOff()
				continue
			}
			eb.Reset()
			wait = interval
		}
	}()
}

// SyncWithServer pushes the pending writes, applies the server's changes
// and stores the new cursor, repeating while the server has more changes.
// After a cursor reset it replays the whole change log and drops synced
// records the server no longer has. On failure the pending writes stay queued.
func SyncWithServer(ctx context.Context, client *http.Client, baseURL, token string, ls *LocalStorage) error {
	var seen map[string]struct{}
	if ls.beginResync() {
		seen = make(map[string]struct{})
	}
	for {
		more, err := syncOnce(ctx, client, baseURL, token, ls, seen)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	if seen == nil {
		return nil
	}
	ls.finishResync(seen)
	return ls.Save()
}

// beginResync reports whether a full resync is due and rewinds the cursor
// for it, so an interrupted resync starts over.
func (ls *LocalStorage) beginResync() bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.state.Resync {
		ls.state.Cursor = ""
	}
	return ls.state.Resync
}

// finishResync removes records absent from the server's snapshot. Pending
// writes are kept for the next push.
func (ls *LocalStorage) finishResync(seen map[string]struct{}) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for key := range ls.state.Records {
		if _, ok := seen[key]; ok {
			continue
		}
		if _, pending := ls.state.Pending[key]; pending {
			continue
		}
		delete(ls.state.Records, key)
	}
	ls.state.Resync = false
}

func syncOnce(ctx context.Context, client *http.Client, baseURL, token string, ls *LocalStorage, seen map[string]struct{}) (bool, error) {
	ls.mu.Lock()
	sent := make([]models.Record, 0, len(ls.state.Pending))
	for _, rec := range ls.state.Pending {
		sent = append(sent, rec)
	}
	payload := syncRequest{ClientID: ls.state.ClientID, Cursor: ls.state.Cursor, Changes: sent}
	ls.mu.Unlock()
	sort.Slice(sent, func(i, j int) bool { return sent[i].Position().Before(sent[j].Position()) })

	b, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/sync", bytes.NewReader(b))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("sync failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, ls.handleError(resp)
	}

	var result syncResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("invalid response: %w", err)
	}

	ls.apply(sent, result)
	if seen != nil {
		for _, rec := range result.Changes {
			seen[rec.Ref().String()] = struct{}{}
		}
	}
	return result.HasMore, ls.Save()
}

// handleError turns a failed response into an error. A refused cursor is
// cleared so the next cycle starts over.
func (ls *LocalStorage) handleError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		return fmt.Errorf("server error: %s", strings.TrimSpace(string(data)))
	}

	switch body.Code {
	case "STALE_CURSOR", "INVALID_CURSOR":
		ls.mu.Lock()
		ls.state.Cursor = ""
		ls.state.Resync = true
		ls.mu.Unlock()
		if err := ls.Save(); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrCursorReset, body.Message)
	}
	return fmt.Errorf("server error: %s: %s", body.Code, body.Message)
}

// apply merges a sync response into the store. A pending write is dropped
// only if it is still the version that was sent.
func (ls *LocalStorage) apply(sent []models.Record, result syncResponse) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	sentAt := make(map[string]time.Time, len(sent))
	for _, rec := range sent {
		sentAt[rec.Ref().String()] = rec.UpdatedAt
	}
	settle := func(ref models.Ref) {
		key := ref.String()
		if p, ok := ls.state.Pending[key]; ok && p.UpdatedAt.Equal(sentAt[key]) {
			delete(ls.state.Pending, key)
		}
	}
	for _, ref := range result.Applied {
		settle(ref)
	}
	for _, r := range result.Rejected {
		fmt.Printf("server rejected %s: %s\n", r.Ref, r.Reason)
		settle(r.Ref)
	}

	for _, srv := range result.Changes {
		key := srv.Ref().String()
		if p, pending := ls.state.Pending[key]; pending && !p.UpdatedAt.Equal(sentAt[key]) {
			// Written after the request was sent; the next cycle resolves it on the server.
			continue
		}
		local, ok := ls.state.Records[key]
		if !ok {
			ls.state.Records[key] = srv
			continue
		}
		res, err := conflict.Resolve(local, &srv)
		if err != nil {
			ls.state.Records[key] = srv
			delete(ls.state.Pending, key)
			continue
		}
		if !res.Overwrite.Has(conflict.TargetLocal) {
			continue
		}
		ls.state.Records[key] = res.Winner
		if res.WinnerSide == conflict.SideServer {
			delete(ls.state.Pending, key)
		} else if _, pending := ls.state.Pending[key]; pending {
			ls.state.Pending[key] = res.Winner
		}
	}
	ls.state.Cursor = result.Cursor
}
