package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cipheracademy/dispatch/internal/config"
	"github.com/cipheracademy/dispatch/internal/domain"
	"github.com/cipheracademy/dispatch/internal/pkg/distlock"
)

// =============================================================================
// TRIGGER SCHEDULER WORKER
// =============================================================================
// This worker watches the wall clock and fires the three weekly delivery
// slots (Sunday, Wednesday, Friday) when their local time arrives, plus a
// periodic drain of the welcome-email queue. Missed slots are not replayed;
// operators re-run a period manually through the admin API, which goes
// through the same idempotent path.

const (
	// DefaultPollInterval is how often the wall clock is checked.
	DefaultPollInterval = time.Minute

	// DefaultDrainInterval is how often the welcome queue is drained.
	DefaultDrainInterval = 15 * time.Minute

	// ErrorBackoff is how long the trigger loop pauses after a period run
	// fails at the batch level.
	ErrorBackoff = 5 * time.Minute

	// slotLockTTL bounds how long a period's distributed lock is held.
	slotLockTTL = 10 * time.Minute
)

// PeriodRunner executes one delivery period end to end.
type PeriodRunner interface {
	RunPeriod(ctx context.Context, day domain.DayOfWeek) (*domain.BatchResult, error)
}

// WelcomeDrainer sends due welcome emails.
type WelcomeDrainer interface {
	ProcessPending(ctx context.Context) (int, error)
}

// slot is one weekly firing point on the local wall clock.
type slot struct {
	day     domain.DayOfWeek
	weekday time.Weekday
	hour    int
	minute  int
}

// TriggerScheduler fires delivery slots and drains the welcome queue.
type TriggerScheduler struct {
	runner      PeriodRunner
	drainer     WelcomeDrainer
	db          *sql.DB
	redisClient *redis.Client // optional; nil falls back to PG advisory locks
	workerID    string

	slots         []slot
	pollInterval  time.Duration
	drainInterval time.Duration
	now           func() time.Time

	// Stats
	periodsFired  int64
	emailsDrained int64
	errors        int64

	// Per-slot firing state, guarded by mu
	lastFired    map[domain.DayOfWeek]time.Time
	backoffUntil time.Time

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewTriggerScheduler creates the scheduler from config. Returns an error
// when any slot time does not parse as HH:MM.
func NewTriggerScheduler(runner PeriodRunner, drainer WelcomeDrainer, db *sql.DB, cfg config.SchedulerConfig) (*TriggerScheduler, error) {
	slots, err := buildSlots(cfg)
	if err != nil {
		return nil, err
	}

	poll := cfg.PollInterval()
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	drain := cfg.DrainInterval()
	if drain <= 0 {
		drain = DefaultDrainInterval
	}

	return &TriggerScheduler{
		runner:        runner,
		drainer:       drainer,
		db:            db,
		workerID:      fmt.Sprintf("trigger-%s-%d", getHostname(), time.Now().UnixNano()%10000),
		slots:         slots,
		pollInterval:  poll,
		drainInterval: drain,
		now:           time.Now,
		lastFired:     make(map[domain.DayOfWeek]time.Time),
	}, nil
}

// SetRedisClient sets the Redis client for distributed slot locking.
// If set, the scheduler uses Redis-based locks; otherwise it falls back
// to PostgreSQL advisory locks.
func (ts *TriggerScheduler) SetRedisClient(client *redis.Client) {
	ts.redisClient = client
}

func buildSlots(cfg config.SchedulerConfig) ([]slot, error) {
	specs := []struct {
		day     domain.DayOfWeek
		weekday time.Weekday
		at      string
	}{
		{domain.DaySunday, time.Sunday, cfg.SundayAt},
		{domain.DayWednesday, time.Wednesday, cfg.WednesdayAt},
		{domain.DayFriday, time.Friday, cfg.FridayAt},
	}

	out := make([]slot, 0, len(specs))
	for _, sp := range specs {
		t, err := time.Parse("15:04", sp.at)
		if err != nil {
			return nil, fmt.Errorf("invalid %s slot time %q: %w", sp.day, sp.at, err)
		}
		out = append(out, slot{day: sp.day, weekday: sp.weekday, hour: t.Hour(), minute: t.Minute()})
	}
	return out, nil
}

// Start begins the trigger and drain loops.
func (ts *TriggerScheduler) Start() error {
	ts.mu.Lock()
	if ts.running {
		ts.mu.Unlock()
		return fmt.Errorf("trigger scheduler already running")
	}
	ts.running = true
	ts.ctx, ts.cancel = context.WithCancel(context.Background())
	ts.mu.Unlock()

	log.Printf("[TriggerScheduler] Starting with poll interval %v, drain interval %v",
		ts.pollInterval, ts.drainInterval)
	for _, s := range ts.slots {
		log.Printf("[TriggerScheduler] Slot %s at %02d:%02d local", s.day, s.hour, s.minute)
	}

	ts.wg.Add(1)
	go ts.triggerLoop()

	ts.wg.Add(1)
	go ts.drainLoop()

	return nil
}

// Stop gracefully stops the scheduler.
func (ts *TriggerScheduler) Stop() {
	ts.mu.Lock()
	if !ts.running {
		ts.mu.Unlock()
		return
	}
	ts.running = false
	ts.mu.Unlock()

	log.Printf("[TriggerScheduler] Stopping...")
	ts.cancel()
	ts.wg.Wait()
	log.Printf("[TriggerScheduler] Stopped. Fired: %d periods, Drained: %d emails, Errors: %d",
		atomic.LoadInt64(&ts.periodsFired), atomic.LoadInt64(&ts.emailsDrained), atomic.LoadInt64(&ts.errors))
}

// triggerLoop checks the wall clock once per poll interval.
func (ts *TriggerScheduler) triggerLoop() {
	defer ts.wg.Done()

	ticker := time.NewTicker(ts.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ts.ctx.Done():
			return
		case <-ticker.C:
			ts.checkSlots()
		}
	}
}

// drainLoop drains the welcome queue on its own cadence.
func (ts *TriggerScheduler) drainLoop() {
	defer ts.wg.Done()

	ticker := time.NewTicker(ts.drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ts.ctx.Done():
			return
		case <-ticker.C:
			ts.drainWelcome()
		}
	}
}

// checkSlots fires any slot whose wall-clock minute has arrived. A slot
// fires at most once per calendar day, and an elapsed poll tick inside the
// same minute cannot double-fire it.
func (ts *TriggerScheduler) checkSlots() {
	now := ts.now()

	ts.mu.RLock()
	backoff := ts.backoffUntil
	ts.mu.RUnlock()
	if now.Before(backoff) {
		return
	}

	for _, s := range ts.slots {
		if now.Weekday() != s.weekday || now.Hour() != s.hour || now.Minute() != s.minute {
			continue
		}
		ts.mu.RLock()
		last := ts.lastFired[s.day]
		ts.mu.RUnlock()
		if sameDate(last, now) {
			continue
		}
		ts.firePeriod(s, now)
	}
}

// firePeriod runs one delivery period under a distributed lock so that a
// second scheduler instance observing the same minute does not double-send.
func (ts *TriggerScheduler) firePeriod(s slot, now time.Time) {
	ctx, cancel := context.WithTimeout(ts.ctx, slotLockTTL)
	defer cancel()

	lock := distlock.NewLock(ts.redisClient, ts.db, fmt.Sprintf("period:%s", s.day), slotLockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		log.Printf("[TriggerScheduler] Error acquiring lock for %s: %v", s.day, err)
		atomic.AddInt64(&ts.errors, 1)
		return
	}
	if !acquired {
		log.Printf("[TriggerScheduler] Slot %s already being fired by another instance", s.day)
		ts.markFired(s.day, now)
		return
	}
	defer lock.Release(ctx)

	log.Printf("[TriggerScheduler] Firing %s delivery slot", s.day)
	result, err := ts.runner.RunPeriod(ctx, s.day)
	if err != nil {
		log.Printf("[TriggerScheduler] %s period failed: %v (backing off %v)", s.day, err, ErrorBackoff)
		atomic.AddInt64(&ts.errors, 1)
		ts.mu.Lock()
		ts.backoffUntil = now.Add(ErrorBackoff)
		ts.mu.Unlock()
		return
	}

	atomic.AddInt64(&ts.periodsFired, 1)
	ts.markFired(s.day, now)
	log.Printf("[TriggerScheduler] %s slot complete: %d succeeded, %d failed, %d skipped",
		s.day, result.Succeeded, result.Failed, result.Skipped)
}

func (ts *TriggerScheduler) markFired(day domain.DayOfWeek, at time.Time) {
	ts.mu.Lock()
	ts.lastFired[day] = at
	ts.mu.Unlock()
}

// drainWelcome runs one welcome-queue drain pass under its own lock.
func (ts *TriggerScheduler) drainWelcome() {
	ctx, cancel := context.WithTimeout(ts.ctx, ts.drainInterval)
	defer cancel()

	lock := distlock.NewLock(ts.redisClient, ts.db, "welcome-drain", ts.drainInterval)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		log.Printf("[TriggerScheduler] Error acquiring welcome drain lock: %v", err)
		atomic.AddInt64(&ts.errors, 1)
		return
	}
	if !acquired {
		return
	}
	defer lock.Release(ctx)

	sent, err := ts.drainer.ProcessPending(ctx)
	if err != nil {
		log.Printf("[TriggerScheduler] Welcome drain failed: %v", err)
		atomic.AddInt64(&ts.errors, 1)
		return
	}
	if sent > 0 {
		atomic.AddInt64(&ts.emailsDrained, int64(sent))
	}
}

// SlotStatus describes one delivery slot for the status endpoint.
type SlotStatus struct {
	Day       domain.DayOfWeek `json:"day"`
	At        string           `json:"at"`
	LastFired *time.Time       `json:"last_fired,omitempty"`
	NextFire  time.Time        `json:"next_fire"`
}

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	Running       bool         `json:"running"`
	WorkerID      string       `json:"worker_id"`
	Slots         []SlotStatus `json:"slots"`
	PeriodsFired  int64        `json:"periods_fired"`
	EmailsDrained int64        `json:"emails_drained"`
	Errors        int64        `json:"errors"`
	BackoffUntil  *time.Time   `json:"backoff_until,omitempty"`
}

// Status returns a snapshot for the admin API.
func (ts *TriggerScheduler) Status() Status {
	now := ts.now()

	ts.mu.RLock()
	defer ts.mu.RUnlock()

	st := Status{
		Running:       ts.running,
		WorkerID:      ts.workerID,
		PeriodsFired:  atomic.LoadInt64(&ts.periodsFired),
		EmailsDrained: atomic.LoadInt64(&ts.emailsDrained),
		Errors:        atomic.LoadInt64(&ts.errors),
	}
	if ts.backoffUntil.After(now) {
		t := ts.backoffUntil
		st.BackoffUntil = &t
	}
	for _, s := range ts.slots {
		ss := SlotStatus{
			Day:      s.day,
			At:       fmt.Sprintf("%02d:%02d", s.hour, s.minute),
			NextFire: nextFire(s, now),
		}
		if last, ok := ts.lastFired[s.day]; ok {
			t := last
			ss.LastFired = &t
		}
		st.Slots = append(st.Slots, ss)
	}
	return st
}

// nextFire returns the next wall-clock instant the slot will fire.
func nextFire(s slot, now time.Time) time.Time {
	candidate := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, now.Location())
	for candidate.Weekday() != s.weekday || !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func getHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
