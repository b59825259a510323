package nudge

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hay-kot/nudge/internal/core/clock"
	"github.com/hay-kot/nudge/internal/core/kv"
	"github.com/hay-kot/nudge/internal/core/logging"
	"github.com/hay-kot/nudge/internal/core/notify"
	memkv "github.com/hay-kot/nudge/pkg/kv"
)

// Namespace is the reserved key namespace holding scheduler records.
// Application keys may not start with Namespace + "/".
const Namespace = "__sched__"

var (
	ErrNegativeDelay  = errors.New("delay must not be negative")
	ErrAlreadyStarted = errors.New("scheduler already started")
)

// SchedulerOptions tunes a Scheduler. Zero values fall back to defaults.
type SchedulerOptions struct {
	Retry RetryPolicy
	// MaxSleep caps a single worker sleep so wall-clock jumps and process
	// suspension are noticed on the next wake.
	MaxSleep time.Duration
	// DeliveryTimeout bounds a single delivery attempt.
	DeliveryTimeout time.Duration
	// Audit receives lifecycle events. Nil disables auditing.
	Audit notify.AuditLog
}

func (o *SchedulerOptions) applyDefaults() {
	def := DefaultRetryPolicy()
	if o.Retry.MaxAttempts <= 0 {
		o.Retry.MaxAttempts = def.MaxAttempts
	}
	if o.Retry.BaseDelay <= 0 {
		o.Retry.BaseDelay = def.BaseDelay
	}
	if o.Retry.MaxDelay <= 0 {
		o.Retry.MaxDelay = def.MaxDelay
	}
	if o.MaxSleep <= 0 {
		o.MaxSleep = 30 * time.Second
	}
	if o.DeliveryTimeout <= 0 {
		o.DeliveryTimeout = 10 * time.Second
	}
}

// Scheduler persists delayed notifications and delivers each one at most once
// per attempt, once its due time has passed. Records live in the durable store
// under Namespace so pending work survives restarts.
type Scheduler struct {
	records   *kv.TypedKV[notify.Notification]
	clock     clock.Clock
	deliverer notify.Deliverer
	opts      SchedulerOptions
	log       zerolog.Logger

	// mu orders store deletes/rewrites with pending-set updates so a cancel
	// is never undone by a concurrent retry persist.
	mu      sync.Mutex
	pending *memkv.Store[string, notify.Notification]
	wake    chan struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler over store. Call Start to reconcile
// persisted records and begin delivering.
func NewScheduler(store kv.Store, clk clock.Clock, deliverer notify.Deliverer, opts SchedulerOptions, log zerolog.Logger) *Scheduler {
	opts.applyDefaults()

	return &Scheduler{
		records:   kv.Scoped[notify.Notification](store, Namespace),
		clock:     clk,
		deliverer: deliverer,
		opts:      opts,
		log:       log,
		pending:   memkv.New[string, notify.Notification](),
		wake:      make(chan struct{}, 1),
	}
}

// IsReserved reports whether key falls inside the scheduler namespace.
func IsReserved(key string) bool {
	return strings.HasPrefix(key, Namespace+"/")
}

// Reconcile merges persisted records into the pending set. Pending records
// not yet known are added, known entries whose record is gone are dropped,
// and corrupt or finished records are removed from the store. Entries
// already in memory keep their in-memory state.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	res, err := s.merge(ctx)
	if err != nil {
		return err
	}

	s.log.Info().
		Int("pending", s.pending.Len()).
		Int("overdue", res.overdue).
		Int("corrupt", res.corrupt).
		Msg("notifications reconciled")

	return nil
}

type mergeResult struct {
	added, dropped, overdue, corrupt int
}

func (s *Scheduler) merge(ctx context.Context) (mergeResult, error) {
	var res mergeResult

	s.mu.Lock()
	defer s.mu.Unlock()

	values, corrupt, err := s.records.List(ctx)
	if err != nil {
		return res, fmt.Errorf("reconcile notifications: %w", err)
	}

	for _, id := range corrupt {
		s.log.Warn().Str("notification_id", id).Msg("pruning corrupt notification record")
		if err := s.records.Delete(ctx, id); err != nil {
			return res, fmt.Errorf("prune corrupt notification %s: %w", id, err)
		}
		s.pending.Delete(id)
		s.audit(ctx, notify.AuditEvent{
			NotificationID: id,
			Status:         notify.StatusFailed,
			Detail:         "corrupt record",
		})
	}
	res.corrupt = len(corrupt)

	for _, id := range s.pending.Keys() {
		if _, ok := values[id]; !ok && !slices.Contains(corrupt, id) {
			s.pending.Delete(id)
			res.dropped++
		}
	}

	now := s.clock.Now()
	for id, n := range values {
		if _, known := s.pending.Get(id); known {
			continue
		}

		if n.Status != notify.StatusPending {
			if err := s.records.Delete(ctx, id); err != nil {
				return res, fmt.Errorf("prune %s notification %s: %w", n.Status, id, err)
			}
			continue
		}

		n.ID = id
		if n.Due(now) {
			res.overdue++
		}
		s.pending.Set(id, n)
		res.added++
	}

	return res, nil
}

// Start reconciles persisted records and launches the delivery worker. The
// worker runs until ctx is cancelled or Close is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	if err := s.Reconcile(ctx); err != nil {
		return err
	}

	// Reconcile picked up everything signalled so far.
	select {
	case <-s.wake:
	default:
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx, s.done)

	return nil
}

// Close stops the worker and waits for an in-flight delivery to finish.
// Closing a scheduler that was never started is a no-op.
func (s *Scheduler) Close() error {
	s.runMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.runMu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	<-done
	return nil
}

// Schedule persists a notification due after delay and returns its ID. The
// record is durable before Schedule returns.
func (s *Scheduler) Schedule(ctx context.Context, title, body string, delay time.Duration) (string, error) {
	if delay < 0 {
		return "", ErrNegativeDelay
	}

	now := s.clock.Now()
	n := notify.Notification{
		ID:        uuid.NewString(),
		Title:     title,
		Body:      body,
		DueAt:     now.Add(delay),
		Status:    notify.StatusPending,
		CreatedAt: now,
	}

	s.mu.Lock()
	err := s.records.Set(ctx, n.ID, n)
	if err == nil {
		s.pending.Set(n.ID, n)
	}
	s.mu.Unlock()

	if err != nil {
		return "", fmt.Errorf("persist notification: %w", err)
	}

	s.signal()

	s.log.Debug().
		Str("notification_id", n.ID).
		Time("due_at", n.DueAt).
		Msg("notification scheduled")

	return n.ID, nil
}

// Cancel removes a pending notification. Cancelling an unknown or already
// finished notification succeeds.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	n, found, err := s.records.Get(ctx, id)
	if err != nil && !errors.Is(err, kv.ErrCorrupt) {
		return fmt.Errorf("cancel %s: %w", id, err)
	}

	s.mu.Lock()
	mem, known := s.pending.Get(id)
	err = s.records.Delete(ctx, id)
	if err == nil {
		s.pending.Delete(id)
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("cancel %s: %w", id, err)
	}

	s.signal()

	delivered := known && mem.Status.Terminal()
	if found && n.Status == notify.StatusPending && !delivered {
		s.log.Debug().Str("notification_id", id).Msg("notification cancelled")
		s.audit(ctx, notify.AuditEvent{
			NotificationID: id,
			Status:         notify.StatusCancelled,
			Title:          n.Title,
		})
	}

	return nil
}

// Pending returns the notifications awaiting delivery, earliest first.
func (s *Scheduler) Pending() []notify.Notification {
	return slices.DeleteFunc(s.queue(), func(n notify.Notification) bool {
		return n.Status != notify.StatusPending
	})
}

// queue returns every in-memory entry ordered by DueAt. Delivered entries
// whose store prune failed stay queued until the prune succeeds.
func (s *Scheduler) queue() []notify.Notification {
	out := s.pending.Values()
	slices.SortFunc(out, func(a, b notify.Notification) int {
		if c := a.DueAt.Compare(b.DueAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.log.Debug().Dur("max_sleep", s.opts.MaxSleep).Msg("scheduler worker started")
	defer s.log.Debug().Msg("scheduler worker stopped")

	for {
		if res, err := s.merge(ctx); err != nil {
			s.log.Warn().Err(err).Msg("refresh notifications")
		} else if res.added > 0 || res.dropped > 0 {
			s.log.Debug().Int("added", res.added).Int("dropped", res.dropped).Msg("notifications refreshed")
		}

		wait := s.opts.MaxSleep
		if next, ok := s.nextDue(); ok {
			if d := next.Sub(s.clock.Now()); d < wait {
				wait = d
			}
		}

		if wait <= 0 {
			s.fireDue(ctx)
			if ctx.Err() != nil {
				return
			}
			continue
		}

		timer := s.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C():
			s.fireDue(ctx)
		}
	}
}

func (s *Scheduler) nextDue() (time.Time, bool) {
	var next time.Time
	found := false
	for _, n := range s.pending.Values() {
		if !found || n.DueAt.Before(next) {
			next = n.DueAt
			found = true
		}
	}
	return next, found
}

func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.clock.Now()
	for _, n := range s.queue() {
		if !n.Due(now) {
			break
		}
		if ctx.Err() != nil {
			return
		}
		s.fire(ctx, n.ID)
	}
}

// fire delivers one due notification. The persisted record is re-read first:
// a record missing from the store was cancelled and is never delivered.
func (s *Scheduler) fire(ctx context.Context, id string) {
	ctx = logging.WithNotificationID(ctx, id)
	// In-flight bookkeeping must land even when shutdown cancels ctx.
	storeCtx := context.WithoutCancel(ctx)

	if mem, ok := s.pending.Get(id); ok && mem.Status.Terminal() {
		s.finish(storeCtx, mem, "")
		return
	}

	rec, found, err := s.records.Get(storeCtx, id)
	switch {
	case errors.Is(err, kv.ErrCorrupt):
		s.log.Error().Ctx(ctx).Err(err).Msg("dropping corrupt notification record")
		s.finish(storeCtx, notify.Notification{ID: id, Status: notify.StatusFailed}, "corrupt record")
		return
	case err != nil:
		s.log.Error().Ctx(ctx).Err(err).Dur("retry_in", s.opts.Retry.BaseDelay).Msg("load notification failed, deferring")
		s.pending.Update(id, func(n notify.Notification) notify.Notification {
			n.DueAt = s.clock.Now().Add(s.opts.Retry.BaseDelay)
			return n
		})
		return
	case !found:
		s.pending.Delete(id)
		return
	case rec.Status != notify.StatusPending:
		s.finish(storeCtx, rec, "")
		return
	}

	rec.ID = id
	if !rec.Due(s.clock.Now()) {
		s.pending.Set(id, rec)
		return
	}

	dctx, cancel := context.WithTimeout(ctx, s.opts.DeliveryTimeout)
	err = s.deliverer.Deliver(dctx, rec.Title, rec.Body)
	cancel()

	if err == nil {
		rec.Status = notify.StatusFired
		s.log.Info().Ctx(ctx).Str("title", rec.Title).Int("attempt", rec.Attempts+1).Msg("notification delivered")
		s.finish(storeCtx, rec, "")
		return
	}

	rec.Attempts++
	rec.LastError = err.Error()

	if s.opts.Retry.Exhausted(rec.Attempts) {
		rec.Status = notify.StatusFailed
		s.log.Warn().Ctx(ctx).Err(err).Int("attempts", rec.Attempts).Msg("notification delivery failed permanently")
		s.finish(storeCtx, rec, rec.LastError)
		return
	}

	backoff := s.opts.Retry.Backoff(rec.Attempts)
	rec.DueAt = s.clock.Now().Add(backoff)
	s.log.Warn().Ctx(ctx).Err(err).Int("attempts", rec.Attempts).Dur("retry_in", backoff).Msg("notification delivery failed, will retry")
	s.reschedule(storeCtx, rec)
}

// finish removes a notification that reached a terminal state and records the
// transition. When the store delete fails the entry stays queued, marked
// terminal, and only the delete is retried after BaseDelay. Nothing is audited
// when a concurrent Cancel already claimed the notification.
func (s *Scheduler) finish(ctx context.Context, n notify.Notification, detail string) {
	s.mu.Lock()
	mem, live := s.pending.Get(n.ID)
	retrying := live && mem.Status.Terminal()

	err := s.records.Delete(ctx, n.ID)
	if err != nil && live && n.Status.Terminal() {
		n.DueAt = s.clock.Now().Add(s.opts.Retry.BaseDelay)
		s.pending.Set(n.ID, n)
	} else {
		s.pending.Delete(n.ID)
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Ctx(ctx).Err(err).Str("status", string(n.Status)).Dur("retry_in", s.opts.Retry.BaseDelay).Msg("remove finished notification")
	}

	if live && !retrying && n.Status.Terminal() {
		s.audit(ctx, notify.AuditEvent{
			NotificationID: n.ID,
			Status:         n.Status,
			Title:          n.Title,
			Detail:         detail,
		})
	}
}

// reschedule persists a failed attempt unless the notification was cancelled,
// here or by another process, while the attempt was in flight.
func (s *Scheduler) reschedule(ctx context.Context, n notify.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending.Get(n.ID); !ok {
		return
	}
	if _, found, err := s.records.Get(ctx, n.ID); err == nil && !found {
		s.pending.Delete(n.ID)
		return
	}

	if err := s.records.Set(ctx, n.ID, n); err != nil {
		s.log.Error().Ctx(ctx).Err(err).Msg("persist retry state")
	}
	s.pending.Set(n.ID, n)
}

func (s *Scheduler) audit(ctx context.Context, ev notify.AuditEvent) {
	if s.opts.Audit == nil {
		return
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.clock.Now()
	}
	if err := s.opts.Audit.Record(ctx, ev); err != nil {
		s.log.Warn().Ctx(ctx).Err(err).Str("status", string(ev.Status)).Msg("record audit event")
	}
}
