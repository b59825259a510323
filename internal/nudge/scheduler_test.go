package nudge

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/nudge/internal/core/clock"
	"github.com/hay-kot/nudge/internal/core/kv"
	"github.com/hay-kot/nudge/internal/core/notify"
	"github.com/hay-kot/nudge/internal/data/db"
	"github.com/hay-kot/nudge/internal/data/stores"
	"github.com/hay-kot/nudge/internal/nudge/delivery"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type harness struct {
	t     *testing.T
	dir   string
	db    *db.DB
	store *stores.KVStore
	audit *stores.AuditStore
	clock *clock.Fake
	rec   *delivery.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		dir:   t.TempDir(),
		clock: clock.NewFake(epoch),
		rec:   &delivery.Recorder{},
	}
	h.reopen()
	return h
}

// reopen closes and reopens the database, as a process restart would.
func (h *harness) reopen() {
	h.t.Helper()
	if h.db != nil {
		require.NoError(h.t, h.db.Close())
	}

	database, err := db.Open(h.dir, db.DefaultOpenOptions())
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = database.Close() })

	h.db = database
	h.store = stores.NewKVStore(database)
	h.audit = stores.NewAuditStore(database)
}

func (h *harness) options() SchedulerOptions {
	return SchedulerOptions{
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    4 * time.Second,
		},
		MaxSleep:        30 * time.Second,
		DeliveryTimeout: time.Second,
		Audit:           h.audit,
	}
}

func (h *harness) scheduler(d notify.Deliverer) *Scheduler {
	h.t.Helper()
	if d == nil {
		d = h.rec
	}
	s := NewScheduler(h.store, h.clock, d, h.options(), zerolog.Nop())
	h.t.Cleanup(func() { _ = s.Close() })
	return s
}

func (h *harness) started(d notify.Deliverer) *Scheduler {
	h.t.Helper()
	s := h.scheduler(d)
	require.NoError(h.t, s.Start(context.Background()))
	return s
}

func (h *harness) persisted(id string) (notify.Notification, bool) {
	h.t.Helper()
	n, ok, err := kv.Scoped[notify.Notification](h.store, Namespace).Get(context.Background(), id)
	require.NoError(h.t, err)
	return n, ok
}

func (h *harness) auditStatuses(id string) []notify.Status {
	h.t.Helper()
	events, err := h.audit.List(context.Background(), 0)
	require.NoError(h.t, err)

	var out []notify.Status
	for _, ev := range events {
		if ev.NotificationID == id {
			out = append(out, ev.Status)
		}
	}
	return out
}

// armed waits until the worker sleeps on a timer firing at deadline, so the
// next clock move is observed by that timer.
func (h *harness) armed(deadline time.Time) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return slices.Contains(h.clock.Deadlines(), deadline)
	}, waitFor, tick, "no timer armed for %s", deadline)
}

func (h *harness) waitDelivered(n int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.rec.Delivered() == n }, waitFor, tick)
}

func TestScheduler_DeliversAtDueTime(t *testing.T) {
	h := newHarness(t)
	s := h.started(nil)
	h.armed(epoch.Add(30 * time.Second))

	id, err := s.Schedule(context.Background(), "Break", "stand up", 100*time.Millisecond)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	h.armed(epoch.Add(100 * time.Millisecond))

	n, ok := h.persisted(id)
	require.True(t, ok, "record must be durable before Schedule returns")
	assert.Equal(t, notify.StatusPending, n.Status)
	assert.Equal(t, epoch.Add(100*time.Millisecond), n.DueAt)

	h.clock.Advance(99 * time.Millisecond)
	assert.Never(t, func() bool { return h.rec.Attempts() > 0 }, 50*time.Millisecond, tick)

	h.clock.Advance(time.Millisecond)
	h.waitDelivered(1)

	require.Eventually(t, func() bool {
		_, ok := h.persisted(id)
		return !ok
	}, waitFor, tick, "fired record should be pruned")

	h.clock.Advance(time.Hour)
	assert.Never(t, func() bool { return h.rec.Attempts() > 1 }, 50*time.Millisecond, tick)

	assert.Equal(t, []delivery.Call{{Title: "Break", Body: "stand up", OK: true}}, h.rec.Calls())
	assert.Equal(t, []notify.Status{notify.StatusFired}, h.auditStatuses(id))
	assert.Empty(t, s.Pending())
}

func TestScheduler_ZeroDelayDeliversImmediately(t *testing.T) {
	h := newHarness(t)
	s := h.started(nil)

	_, err := s.Schedule(context.Background(), "now", "", 0)
	require.NoError(t, err)

	h.waitDelivered(1)
}

func TestScheduler_NegativeDelay(t *testing.T) {
	h := newHarness(t)
	s := h.scheduler(nil)

	id, err := s.Schedule(context.Background(), "t", "b", -time.Second)
	require.ErrorIs(t, err, ErrNegativeDelay)
	assert.Empty(t, id)

	entries, err := h.store.ListPrefix(context.Background(), Namespace+"/")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScheduler_UniqueIDs(t *testing.T) {
	h := newHarness(t)
	s := h.scheduler(nil)

	seen := make(map[string]bool)
	for i := range 50 {
		id, err := s.Schedule(context.Background(), "t", fmt.Sprint(i), time.Minute)
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, s.Pending(), 50)
}

func TestScheduler_CancelBeforeDue(t *testing.T) {
	h := newHarness(t)
	s := h.started(nil)
	ctx := context.Background()

	id, err := s.Schedule(ctx, "Break", "stand up", 5*time.Second)
	require.NoError(t, err)

	require.NoError(t, s.Cancel(ctx, id))

	_, ok := h.persisted(id)
	assert.False(t, ok)
	assert.Empty(t, s.Pending())

	h.clock.Advance(10 * time.Second)
	assert.Never(t, func() bool { return h.rec.Attempts() > 0 }, 50*time.Millisecond, tick)

	assert.Equal(t, []notify.Status{notify.StatusCancelled}, h.auditStatuses(id))
}

func TestScheduler_CancelIsIdempotent(t *testing.T) {
	h := newHarness(t)
	s := h.scheduler(nil)
	ctx := context.Background()

	id, err := s.Schedule(ctx, "t", "b", time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.Cancel(ctx, id))
	require.NoError(t, s.Cancel(ctx, id))
	require.NoError(t, s.Cancel(ctx, "no-such-id"))

	assert.Equal(t, []notify.Status{notify.StatusCancelled}, h.auditStatuses(id), "only the first cancel is a transition")
}

func TestScheduler_CancelFromAnotherProcess(t *testing.T) {
	h := newHarness(t)
	worker := h.started(nil)
	ctx := context.Background()
	h.armed(epoch.Add(30 * time.Second))

	id, err := worker.Schedule(ctx, "t", "b", 10*time.Second)
	require.NoError(t, err)
	h.armed(epoch.Add(10 * time.Second))

	// A one-shot CLI invocation cancels through its own, never-started scheduler.
	oneShot := h.scheduler(nil)
	require.NoError(t, oneShot.Cancel(ctx, id))

	h.clock.Advance(2 * time.Minute)
	assert.Never(t, func() bool { return h.rec.Attempts() > 0 }, 50*time.Millisecond, tick)
	require.Eventually(t, func() bool { return len(worker.Pending()) == 0 }, waitFor, tick)
}

func TestScheduler_PicksUpScheduleFromAnotherProcess(t *testing.T) {
	h := newHarness(t)
	worker := h.started(nil)
	ctx := context.Background()
	h.armed(epoch.Add(30 * time.Second))

	// A one-shot CLI invocation schedules through its own, never-started
	// scheduler while the agent is asleep.
	id, err := h.scheduler(nil).Schedule(ctx, "Pomodoro", "break", 10*time.Second)
	require.NoError(t, err)
	assert.Empty(t, worker.Pending())

	// The capped sleep ends and the worker notices the new record.
	h.clock.Advance(30 * time.Second)
	h.waitDelivered(1)

	call := h.rec.Calls()[0]
	assert.Equal(t, "Pomodoro", call.Title)
	assert.Equal(t, "break", call.Body)
	require.Eventually(t, func() bool {
		_, ok := h.persisted(id)
		return !ok
	}, waitFor, tick)
	assert.Equal(t, []notify.Status{notify.StatusFired}, h.auditStatuses(id))

	h.clock.Advance(time.Hour)
	assert.Never(t, func() bool { return h.rec.Attempts() > 1 }, 50*time.Millisecond, tick)
}

func TestScheduler_RefreshKeepsInMemoryState(t *testing.T) {
	h := newHarness(t)
	s := h.scheduler(nil)
	ctx := context.Background()

	id, err := s.Schedule(ctx, "deferred", "b", time.Minute)
	require.NoError(t, err)

	// A failed store read defers the entry in memory only.
	s.pending.Update(id, func(n notify.Notification) notify.Notification {
		n.DueAt = epoch.Add(7 * time.Minute)
		return n
	})

	other, err := h.scheduler(nil).Schedule(ctx, "other", "b", time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Reconcile(ctx))

	pending := s.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, id, pending[0].ID)
	assert.Equal(t, epoch.Add(7*time.Minute), pending[0].DueAt)
	assert.Equal(t, other, pending[1].ID)

	// Records deleted elsewhere are dropped.
	require.NoError(t, h.scheduler(nil).Cancel(ctx, other))
	require.NoError(t, s.Reconcile(ctx))
	require.Len(t, s.Pending(), 1)
}

func TestScheduler_SurvivesRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.started(nil)
	id, err := first.Schedule(ctx, "Pomodoro", "done", 5*time.Second)
	require.NoError(t, err)

	// Process dies one second in.
	h.clock.Advance(time.Second)
	require.NoError(t, first.Close())
	h.reopen()

	// Restart a second later on a fresh clock reading the same wall time.
	h.clock = clock.NewFake(epoch.Add(2 * time.Second))
	second := h.started(nil)

	pending := second.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
	assert.Equal(t, epoch.Add(5*time.Second), pending[0].DueAt)

	h.armed(epoch.Add(5 * time.Second))

	h.clock.Advance(2*time.Second + 999*time.Millisecond)
	assert.Never(t, func() bool { return h.rec.Attempts() > 0 }, 50*time.Millisecond, tick)

	h.clock.Advance(time.Millisecond)
	h.waitDelivered(1)

	h.clock.Advance(time.Hour)
	assert.Never(t, func() bool { return h.rec.Attempts() > 1 }, 50*time.Millisecond, tick)
}

func TestScheduler_PastDueFiresOnStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Scheduled by a one-shot invocation, then the agent was down past the due time.
	oneShot := h.scheduler(nil)
	id, err := oneShot.Schedule(ctx, "late", "b", time.Minute)
	require.NoError(t, err)

	h.clock.Set(epoch.Add(time.Hour))
	h.started(nil)

	h.waitDelivered(1)
	require.Eventually(t, func() bool {
		_, ok := h.persisted(id)
		return !ok
	}, waitFor, tick)
}

func TestScheduler_ReconcilePrunesCorruptAndFinished(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.store.Save(ctx, Namespace+"/garbled", []byte("{not json")))

	typed := kv.Scoped[notify.Notification](h.store, Namespace)
	require.NoError(t, typed.Set(ctx, "done", notify.Notification{
		ID:     "done",
		Title:  "already fired",
		DueAt:  epoch,
		Status: notify.StatusFired,
	}))
	require.NoError(t, typed.Set(ctx, "live", notify.Notification{
		ID:     "live",
		Title:  "still pending",
		DueAt:  epoch.Add(time.Hour),
		Status: notify.StatusPending,
	}))

	s := h.scheduler(nil)
	require.NoError(t, s.Reconcile(ctx))

	entries, err := h.store.ListPrefix(ctx, Namespace+"/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, Namespace+"/live", entries[0].Key)

	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "live", pending[0].ID)

	assert.Equal(t, []notify.Status{notify.StatusFailed}, h.auditStatuses("garbled"))
}

func TestScheduler_RetryThenSuccess(t *testing.T) {
	h := newHarness(t)
	h.rec.FailNext(2)
	s := h.started(nil)

	id, err := s.Schedule(context.Background(), "flaky", "b", 0)
	require.NoError(t, err)

	// First failure: retry after BaseDelay.
	require.Eventually(t, func() bool { return pendingAttempts(s, id) == 1 }, waitFor, tick)
	n, ok := h.persisted(id)
	require.True(t, ok)
	assert.Equal(t, 1, n.Attempts)
	assert.Equal(t, notify.StatusPending, n.Status)
	assert.Equal(t, epoch.Add(time.Second), n.DueAt)
	assert.Contains(t, n.LastError, delivery.ErrInjected.Error())

	h.armed(epoch.Add(time.Second))
	h.clock.Advance(time.Second)

	// Second failure: backoff doubles.
	require.Eventually(t, func() bool { return pendingAttempts(s, id) == 2 }, waitFor, tick)
	n, _ = h.persisted(id)
	assert.Equal(t, epoch.Add(3*time.Second), n.DueAt)

	h.armed(epoch.Add(3 * time.Second))
	h.clock.Advance(time.Second)
	assert.Never(t, func() bool { return h.rec.Attempts() > 2 }, 50*time.Millisecond, tick)

	h.clock.Advance(time.Second)
	h.waitDelivered(1)

	assert.Equal(t, 3, h.rec.Attempts())
	require.Eventually(t, func() bool {
		_, ok := h.persisted(id)
		return !ok
	}, waitFor, tick)
	assert.Equal(t, []notify.Status{notify.StatusFired}, h.auditStatuses(id))
}

func TestScheduler_RetryCeilingMarksFailed(t *testing.T) {
	h := newHarness(t)
	h.rec.FailNext(100)
	s := h.started(nil)

	id, err := s.Schedule(context.Background(), "doomed", "b", 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return pendingAttempts(s, id) == 1 }, waitFor, tick)
	h.armed(epoch.Add(time.Second))
	h.clock.Advance(time.Second)

	require.Eventually(t, func() bool { return pendingAttempts(s, id) == 2 }, waitFor, tick)
	h.armed(epoch.Add(3 * time.Second))
	h.clock.Advance(2 * time.Second)

	require.Eventually(t, func() bool { return len(h.auditStatuses(id)) == 1 }, waitFor, tick)
	assert.Equal(t, []notify.Status{notify.StatusFailed}, h.auditStatuses(id))
	assert.Equal(t, 3, h.rec.Attempts())
	assert.Zero(t, h.rec.Delivered())
	assert.Empty(t, s.Pending())

	_, ok := h.persisted(id)
	assert.False(t, ok)

	h.clock.Advance(time.Hour)
	assert.Never(t, func() bool { return h.rec.Attempts() > 3 }, 50*time.Millisecond, tick)
}

func TestScheduler_CancelDuringDeliveryIsNotUndone(t *testing.T) {
	h := newHarness(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	blocking := notify.DeliverFunc(func(ctx context.Context, title, body string) error {
		once.Do(func() { close(started) })
		<-release
		return errors.New("offline")
	})

	s := h.started(blocking)
	ctx := context.Background()

	id, err := s.Schedule(ctx, "t", "b", 0)
	require.NoError(t, err)

	<-started
	require.NoError(t, s.Cancel(ctx, id))
	close(release)

	assert.Never(t, func() bool {
		_, ok := h.persisted(id)
		return ok || len(s.Pending()) > 0
	}, 100*time.Millisecond, tick, "a failed attempt must not resurrect a cancelled notification")
}

func TestScheduler_CancelDuringSuccessfulDeliveryAuditsOnce(t *testing.T) {
	h := newHarness(t)

	started := make(chan struct{})
	release := make(chan struct{})
	blocking := notify.DeliverFunc(func(ctx context.Context, title, body string) error {
		close(started)
		<-release
		return nil
	})

	s := h.started(blocking)
	ctx := context.Background()

	id, err := s.Schedule(ctx, "t", "b", 0)
	require.NoError(t, err)

	<-started
	require.NoError(t, s.Cancel(ctx, id))
	close(release)
	require.NoError(t, s.Close())

	assert.Equal(t, []notify.Status{notify.StatusCancelled}, h.auditStatuses(id))
	_, ok := h.persisted(id)
	assert.False(t, ok)
}

// flakyDeletes fails the next n deletes.
type flakyDeletes struct {
	kv.Store

	mu sync.Mutex
	n  int
}

func (f *flakyDeletes) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n > 0 {
		f.n--
		return fmt.Errorf("delete %q: %w", key, kv.ErrIO)
	}
	return f.Store.Delete(ctx, key)
}

func TestScheduler_FailedPruneIsRetriedWithoutRedelivery(t *testing.T) {
	h := newHarness(t)
	store := &flakyDeletes{Store: h.store, n: 1}

	s := NewScheduler(store, h.clock, h.rec, h.options(), zerolog.Nop())
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Start(context.Background()))

	id, err := s.Schedule(context.Background(), "t", "b", 0)
	require.NoError(t, err)
	h.waitDelivered(1)

	// The record outlived the failed delete but is no longer offered as pending.
	h.armed(epoch.Add(time.Second))
	_, ok := h.persisted(id)
	assert.True(t, ok)
	assert.Empty(t, s.Pending())

	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		_, ok := h.persisted(id)
		return !ok
	}, waitFor, tick)

	h.clock.Advance(time.Hour)
	assert.Never(t, func() bool { return h.rec.Attempts() > 1 }, 50*time.Millisecond, tick)
	assert.Equal(t, []notify.Status{notify.StatusFired}, h.auditStatuses(id))
}

func TestScheduler_CloseWaitsForInFlightDelivery(t *testing.T) {
	h := newHarness(t)

	started := make(chan struct{})
	release := make(chan struct{})
	blocking := notify.DeliverFunc(func(ctx context.Context, title, body string) error {
		close(started)
		<-release
		return nil
	})

	s := h.started(blocking)
	id, err := s.Schedule(context.Background(), "t", "b", 0)
	require.NoError(t, err)

	<-started

	closed := make(chan struct{})
	go func() {
		_ = s.Close()
		close(closed)
	}()

	assert.Never(t, func() bool {
		select {
		case <-closed:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, tick)

	close(release)
	require.Eventually(t, func() bool {
		select {
		case <-closed:
			return true
		default:
			return false
		}
	}, waitFor, tick)

	_, ok := h.persisted(id)
	assert.False(t, ok, "delivery bookkeeping should complete during shutdown")
}

func TestScheduler_WallClockJump(t *testing.T) {
	h := newHarness(t)
	s := h.scheduler(nil)

	_, err := s.Schedule(context.Background(), "t", "b", time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	// Sleeps are capped well below the due time.
	h.armed(epoch.Add(30 * time.Second))

	// The host slept through the due time.
	h.clock.Set(epoch.Add(3 * time.Hour))

	h.waitDelivered(1)
}

func TestScheduler_ManyNotificationsEachDeliveredOnce(t *testing.T) {
	h := newHarness(t)
	s := h.scheduler(nil)
	ctx := context.Background()

	const total = 20
	var wg sync.WaitGroup
	for i := range total {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Schedule(ctx, "batch", fmt.Sprint(i), time.Duration(i)*time.Second)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.NoError(t, s.Start(ctx))
	for i := 1; i < total; i++ {
		h.armed(epoch.Add(time.Duration(i) * time.Second))
		h.clock.Advance(time.Second)
	}
	h.waitDelivered(total)

	bodies := make(map[string]int)
	for _, c := range h.rec.Calls() {
		bodies[c.Body]++
	}
	assert.Len(t, bodies, total)
	for body, n := range bodies {
		assert.Equal(t, 1, n, "body %s delivered %d times", body, n)
	}
}

func TestScheduler_StartTwice(t *testing.T) {
	h := newHarness(t)
	s := h.started(nil)

	require.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestIsReserved(t *testing.T) {
	assert.True(t, IsReserved("__sched__/abc"))
	assert.False(t, IsReserved("__sched__"))
	assert.False(t, IsReserved("__sched__x/abc"))
	assert.False(t, IsReserved("pomodoro/state"))
}

func pendingAttempts(s *Scheduler, id string) int {
	for _, n := range s.Pending() {
		if n.ID == id {
			return n.Attempts
		}
	}
	return -1
}
