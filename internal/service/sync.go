package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/HealthSync/internal/conflict"
	"github.com/atinyakov/HealthSync/internal/models"
	"github.com/atinyakov/HealthSync/internal/notify"
	"github.com/atinyakov/HealthSync/internal/observability"
	"github.com/atinyakov/HealthSync/internal/persistence"
	"go.uber.org/zap"
)

// Phase is a step of a sync session. Phases run strictly in order.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhasePulling       Phase = "pulling"
	PhaseResolving     Phase = "resolving"
	PhasePushing       Phase = "pushing"
	PhaseAcknowledging Phase = "acknowledging"
)

// Rejection reasons reported back to the client.
const (
	RejectInvalidRecord = "invalid_record"
	RejectNotFound      = "not_found"
)

// RecordRepository defines the persistence operations used by a sync session.
type RecordRepository interface {
	ChangeReader
	// Get fetches a record of userID, tombstones included.
	Get(ctx context.Context, userID string, ref models.Ref) (*models.Record, error)
	// Insert stores a record whose id is not taken yet.
	Insert(ctx context.Context, rec models.Record) error
	// CompareAndSwap replaces the record if its updatedAt still equals expected.
	CompareAndSwap(ctx context.Context, rec models.Record, expected time.Time) error
	// MarkSynced stamps syncedAt on the delivered versions.
	MarkSynced(ctx context.Context, userID string, delivered []models.Record, at time.Time) error
	// TouchParticipant records a client's cursor and liveness.
	TouchParticipant(ctx context.Context, userID, clientID string, cursor models.Cursor, seen time.Time) error
}

// Request is one sync cycle submitted by a client.
type Request struct {
	// UserID is the authenticated owner. Records in Changes are always stored under it.
	UserID string
	// ClientID identifies the device for purge bookkeeping.
	ClientID string
	// Cursor is the token returned by the previous cycle, empty for a full resync.
	Cursor string
	// Changes are the client's pending writes.
	Changes []models.Record
}

// Rejection names a pending write the server refused for good.
type Rejection struct {
	Ref    models.Ref `json:"ref"`
	Reason string     `json:"reason"`
}

// Result is the outcome of a sync cycle.
type Result struct {
	// Cursor is the token to send on the next cycle.
	Cursor string `json:"cursor"`
	// HasMore is set when the pull stopped at the limit.
	HasMore bool `json:"hasMore"`
	// Changes are the server versions the client must apply.
	Changes []models.Record `json:"changes"`
	// Applied lists pending writes that are settled and can be dropped.
	Applied []models.Ref `json:"applied"`
	// Deferred lists pending writes the client must keep and retry.
	Deferred []models.Ref `json:"deferred"`
	// Rejected lists pending writes that will never be accepted.
	Rejected []Rejection `json:"rejected"`
}

// SyncService runs sync sessions between clients and the record store.
type SyncService struct {
	repo     RecordRepository
	changes  *ChangeLog
	notifier Notifier
	log      *zap.Logger
	opts     Options
}

// NewSyncService constructs a SyncService. A nil notifier disables change
// notifications and a nil logger discards logs.
func NewSyncService(repo RecordRepository, notifier Notifier, log *zap.Logger, opts Options) *SyncService {
	opts = opts.withDefaults()
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SyncService{
		repo:     repo,
		changes:  NewChangeLog(repo, opts.PageSize),
		notifier: notifier,
		log:      log,
		opts:     opts,
	}
}

// session is the state of one Sync call.
type session struct {
	req Request

	cursor  models.Cursor
	pulled  []models.Record
	hasMore bool
	byRef   map[models.Ref]models.Record

	writes []pendingWrite

	// outgoing replaces or extends pulled in the response, keyed by ref.
	outgoing map[models.Ref]models.Record
	extra    []models.Ref
	pushed   []models.Record

	result *Result
}

type pendingWrite struct {
	local  models.Record
	server *models.Record
	res    conflict.Resolution
}

func (s *session) deliver(rec models.Record) {
	ref := rec.Ref()
	if _, ok := s.outgoing[ref]; !ok {
		if _, pulled := s.byRef[ref]; !pulled {
			s.extra = append(s.extra, ref)
		}
	}
	s.outgoing[ref] = rec
}

func (s *session) delivery() []models.Record {
	out := make([]models.Record, 0, len(s.pulled)+len(s.extra))
	for _, rec := range s.pulled {
		if o, ok := s.outgoing[rec.Ref()]; ok {
			rec = o
		}
		out = append(out, rec)
	}
	for _, ref := range s.extra {
		out = append(out, s.outgoing[ref])
	}
	return out
}

// Sync runs one session: pull the changes after the client's cursor,
// resolve the client's pending writes against the server versions, push
// the winners and acknowledge what was delivered. On error the client's
// cursor is not advanced and its pending writes must stay queued.
func (s *SyncService) Sync(ctx context.Context, req Request) (*Result, error) {
	sess := &session{
		req:      req,
		outgoing: make(map[models.Ref]models.Record),
		result: &Result{
			Changes:  []models.Record{},
			Applied:  []models.Ref{},
			Deferred: []models.Ref{},
			Rejected: []Rejection{},
		},
	}

	steps := []struct {
		phase Phase
		run   func(context.Context, *session) error
	}{
		{PhasePulling, s.pull},
		{PhaseResolving, s.resolve},
		{PhasePushing, s.push},
		{PhaseAcknowledging, s.acknowledge},
	}

	log := s.log.With(zap.String("user_id", req.UserID), zap.String("client_id", req.ClientID))
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			observability.RecordSession("canceled")
			return nil, err
		}
		log.Debug("sync phase", zap.String("phase", string(step.phase)))
		started := time.Now()
		err := step.run(ctx, sess)
		observability.ObservePhase(string(step.phase), time.Since(started))
		if err != nil {
			observability.RecordSession(sessionOutcome(err))
			log.Warn("sync failed", zap.String("phase", string(step.phase)), zap.Error(err))
			return nil, fmt.Errorf("%s: %w", step.phase, err)
		}
	}
	log.Debug("sync phase", zap.String("phase", string(PhaseIdle)))

	observability.RecordSession("ok")
	observability.RecordPulled(len(sess.pulled))
	observability.RecordPushed(len(sess.pushed))
	log.Info("sync completed",
		zap.Int("pulled", len(sess.pulled)),
		zap.Int("pushed", len(sess.pushed)),
		zap.Int("deferred", len(sess.result.Deferred)),
		zap.Int("rejected", len(sess.result.Rejected)),
		zap.Bool("has_more", sess.result.HasMore),
	)
	return sess.result, nil
}

// Pull reads up to limit changes after the token without acknowledging them.
func (s *SyncService) Pull(ctx context.Context, userID, token string, limit int) (*Result, error) {
	if limit <= 0 || limit > s.opts.PullLimit {
		limit = s.opts.PullLimit
	}
	var (
		from    models.Cursor
		records []models.Record
		hasMore bool
	)
	err := s.opts.retry(ctx, func() error {
		var err error
		if from, err = s.changes.Open(ctx, userID, token); err != nil {
			return err
		}
		records, hasMore, err = s.changes.Collect(ctx, userID, from, limit)
		return err
	})
	if err != nil {
		return nil, err
	}

	next := from
	if n := len(records); n > 0 {
		next = next.Max(records[n-1].Position())
	}
	return &Result{
		Cursor:   persistence.EncodeCursor(next),
		HasMore:  hasMore,
		Changes:  records,
		Applied:  []models.Ref{},
		Deferred: []models.Ref{},
		Rejected: []Rejection{},
	}, nil
}

func (s *SyncService) pull(ctx context.Context, sess *session) error {
	err := s.opts.retry(ctx, func() error {
		from, err := s.changes.Open(ctx, sess.req.UserID, sess.req.Cursor)
		if err != nil {
			return err
		}
		pulled, more, err := s.changes.Collect(ctx, sess.req.UserID, from, s.opts.PullLimit)
		if err != nil {
			return err
		}
		sess.cursor, sess.pulled, sess.hasMore = from, pulled, more
		return nil
	})
	if err != nil {
		return err
	}

	sess.byRef = make(map[models.Ref]models.Record, len(sess.pulled))
	for _, rec := range sess.pulled {
		sess.byRef[rec.Ref()] = rec
	}
	return nil
}

func (s *SyncService) resolve(ctx context.Context, sess *session) error {
	for _, local := range s.collapse(sess) {
		var server *models.Record
		if rec, ok := sess.byRef[local.Ref()]; ok {
			server = &rec
		} else {
			var err error
			if server, err = s.lookup(ctx, sess.req.UserID, local.Ref()); err != nil {
				return err
			}
		}

		res, err := conflict.Resolve(local, server)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", local.Ref(), err)
		}
		sess.writes = append(sess.writes, pendingWrite{local: local, server: server, res: res})
	}
	return nil
}

// collapse validates the submitted writes and keeps one version per ref:
// the greatest updatedAt, a tombstone winning a tie. The outcome reported
// for the ref covers the superseded versions too.
func (s *SyncService) collapse(sess *session) []models.Record {
	var (
		order  []models.Ref
		latest = make(map[models.Ref]models.Record, len(sess.req.Changes))
	)
	for _, local := range sess.req.Changes {
		local = s.normalize(local, sess.req.UserID)
		if err := local.Validate(); err != nil {
			s.reject(sess, local.Ref(), RejectInvalidRecord, err)
			continue
		}
		ref := local.Ref()
		prev, seen := latest[ref]
		if !seen {
			order = append(order, ref)
			latest[ref] = local
			continue
		}
		if supersedes(local, prev) {
			latest[ref] = local
		}
	}

	out := make([]models.Record, 0, len(order))
	for _, ref := range order {
		out = append(out, latest[ref])
	}
	return out
}

// supersedes reports whether a is a later version of the same record than b.
func supersedes(a, b models.Record) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	if a.IsDeleted() != b.IsDeleted() {
		return a.IsDeleted()
	}
	return bytes.Compare(a.Data, b.Data) > 0
}

func (s *SyncService) push(ctx context.Context, sess *session) error {
	for _, w := range sess.writes {
		if err := s.apply(ctx, sess, w); err != nil {
			return err
		}
	}
	return nil
}

// apply settles one pending write. A lost compare-and-swap race re-reads
// the server version and resolves again, up to MaxResolveAttempts times.
func (s *SyncService) apply(ctx context.Context, sess *session, w pendingWrite) error {
	ref := w.local.Ref()
	for attempt := 1; ; attempt++ {
		if w.server != nil {
			observability.RecordConflict(string(w.res.WinnerSide), string(w.res.Reason))
			s.log.Debug("conflict resolved",
				zap.Stringer("ref", ref),
				zap.String("winner", string(w.res.WinnerSide)),
				zap.String("reason", string(w.res.Reason)),
				zap.Stringer("overwrite", w.res.Overwrite),
			)
		}

		if !w.res.Overwrite.Has(conflict.TargetRemote) {
			if w.res.Overwrite.Has(conflict.TargetLocal) {
				sess.deliver(*w.server)
			}
			sess.result.Applied = append(sess.result.Applied, ref)
			return nil
		}

		stored := s.stamp(w)
		err := s.opts.retry(ctx, func() error {
			if w.server == nil {
				return s.repo.Insert(ctx, stored)
			}
			return s.repo.CompareAndSwap(ctx, stored, w.server.UpdatedAt)
		})
		if err == nil {
			sess.pushed = append(sess.pushed, stored)
			sess.deliver(stored)
			sess.result.Applied = append(sess.result.Applied, ref)
			return nil
		}
		if !errors.Is(err, models.ErrConcurrentModification) {
			return err
		}
		observability.RecordRetry("cas")

		fresh, err := s.lookup(ctx, sess.req.UserID, ref)
		if err != nil {
			return err
		}
		if fresh == nil && w.server == nil {
			// The id is taken by a record of another user.
			s.reject(sess, ref, RejectNotFound, models.ErrNotFound)
			return nil
		}
		if attempt >= s.opts.MaxResolveAttempts {
			s.log.Info("write deferred after repeated races", zap.Stringer("ref", ref), zap.Int("attempts", attempt))
			sess.result.Deferred = append(sess.result.Deferred, ref)
			return nil
		}

		w.server = fresh
		if w.res, err = conflict.Resolve(w.local, w.server); err != nil {
			return fmt.Errorf("resolve %s: %w", ref, err)
		}
	}
}

func (s *SyncService) acknowledge(ctx context.Context, sess *session) error {
	delivered := sess.delivery()
	now := models.Stamp(s.opts.Now())

	if err := s.opts.retry(ctx, func() error {
		return s.repo.MarkSynced(ctx, sess.req.UserID, delivered, now)
	}); err != nil {
		return err
	}

	next := sess.cursor
	if n := len(sess.pulled); n > 0 {
		next = next.Max(sess.pulled[n-1].Position())
	}
	if err := s.opts.retry(ctx, func() error {
		return s.repo.TouchParticipant(ctx, sess.req.UserID, sess.req.ClientID, next, now)
	}); err != nil {
		return err
	}

	for i := range delivered {
		delivered[i].SyncedAt = &now
	}
	sess.result.Cursor = persistence.EncodeCursor(next)
	sess.result.HasMore = sess.hasMore
	sess.result.Changes = delivered

	if len(sess.pushed) > 0 {
		changes := make([]notify.Change, len(sess.pushed))
		for i, rec := range sess.pushed {
			changes[i] = notify.ChangeOf(rec, sess.req.ClientID)
		}
		if err := s.notifier.Publish(ctx, changes...); err != nil {
			s.log.Warn("failed to publish changes", zap.Int("count", len(changes)), zap.Error(err))
		}
	}
	return nil
}

// normalize scopes a client record to the caller and truncates its
// timestamps to the stored precision.
func (s *SyncService) normalize(rec models.Record, userID string) models.Record {
	rec.UserID = userID
	rec.UpdatedAt = models.Stamp(rec.UpdatedAt)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	rec.CreatedAt = models.Stamp(rec.CreatedAt)
	rec.SyncedAt = nil
	return rec
}

// stamp prepares the winning local version for storage. The stored updatedAt
// is server time, strictly later than both versions seen by the resolver.
func (s *SyncService) stamp(w pendingWrite) models.Record {
	stored := w.res.Winner
	prev := w.local.UpdatedAt
	if w.server != nil {
		if w.server.UpdatedAt.After(prev) {
			prev = w.server.UpdatedAt
		}
		if stored.IsDeleted() && len(stored.Data) == 0 {
			stored.Data = w.server.Data
		}
	}
	stored.UpdatedAt = nextStamp(s.opts.Now(), prev)
	stored.SyncedAt = nil
	return stored
}

// lookup returns the server version of a record or nil when userID has none.
func (s *SyncService) lookup(ctx context.Context, userID string, ref models.Ref) (*models.Record, error) {
	var rec *models.Record
	err := s.opts.retry(ctx, func() error {
		var err error
		rec, err = s.repo.Get(ctx, userID, ref)
		return err
	})
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

func (s *SyncService) reject(sess *session, ref models.Ref, reason string, err error) {
	s.log.Info("write rejected", zap.Stringer("ref", ref), zap.String("reason", reason), zap.Error(err))
	sess.result.Rejected = append(sess.result.Rejected, Rejection{Ref: ref, Reason: reason})
}

func sessionOutcome(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case isClientError(err):
		return "rejected"
	}
	return "failed"
}
