// Package scheduler decides when background work runs.
//
// SyncTrigger drains the sync queue on reconnect, on app foreground, on a
// timer, on demand and when a backed-off entry becomes due, but only while the
// device is online. It never makes network calls itself. EvictionScheduler sweeps the content cache at startup and on
// a timer.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mrlokans/studysync/internal/syncer"
)

// Trigger reasons, as logged.
const (
	ReasonReconnect  = "reconnect"
	ReasonForeground = "foreground"
	ReasonTimer      = "timer"
	ReasonManual     = "manual"
	ReasonEnqueue    = "enqueue"
	ReasonRetry      = "retry"
)

const (
	defaultCycleTimeout = 10 * time.Minute

	// minRetryWake keeps a stuck due time from turning into a busy loop.
	minRetryWake = time.Second
)

// CycleRunner runs sync cycles until the queue stops making progress.
type CycleRunner interface {
	Drain(ctx context.Context) (syncer.CycleReport, error)
}

// DueSource reports when the next backed-off entry may be retried.
type DueSource interface {
	NextDue(ctx context.Context) (*time.Time, error)
}

// SyncTrigger turns connectivity and lifecycle signals into sync cycles.
// Requests made while a cycle is pending are merged into one.
type SyncTrigger struct {
	runner       CycleRunner
	due          DueSource
	schedule     string
	cycleTimeout time.Duration

	cron    *cron.Cron
	entryID cron.EntryID
	pending chan string

	mu         sync.RWMutex
	isRunning  bool
	online     bool
	cancelFunc context.CancelFunc
	done       chan struct{}
	wake       *time.Timer
	wakeAt     time.Time
}

// NewSyncTrigger creates a trigger for runner. An empty schedule disables the
// timer; reconnect, foreground and manual triggers still work. With a due
// source, a drain that leaves entries backing off arms a wake-up for the
// earliest of them.
func NewSyncTrigger(runner CycleRunner, due DueSource, schedule string) *SyncTrigger {
	return &SyncTrigger{
		runner:       runner,
		due:          due,
		schedule:     schedule,
		cycleTimeout: defaultCycleTimeout,
		cron:         newCron(),
		pending:      make(chan string, 1),
	}
}

// Start begins listening for triggers.
func (s *SyncTrigger) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	if s.schedule != "" {
		if err := ValidateSchedule(s.schedule); err != nil {
			return fmt.Errorf("invalid sync schedule '%s': %w", s.schedule, err)
		}
		entryID, err := s.cron.AddFunc(s.schedule, func() {
			s.Trigger(ReasonTimer)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule sync job: %w", err)
		}
		s.entryID = entryID
		s.cron.Start()
	}

	var loopCtx context.Context
	loopCtx, s.cancelFunc = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.isRunning = true

	go s.loop(loopCtx, s.done)

	if s.schedule != "" {
		next, _ := NextRunTime(s.schedule, time.Now())
		log.Printf("[SYNC] Trigger started with schedule '%s'. Next run: %v", s.schedule, next)
	} else {
		log.Printf("[SYNC] Trigger started without timer")
	}
	return nil
}

// Stop halts the timer and waits for a running cycle to return.
func (s *SyncTrigger) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	cancel, done := s.cancelFunc, s.done
	s.cancelFunc = nil
	if s.wake != nil {
		s.wake.Stop()
		s.wake = nil
	}
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	<-cronCtx.Done()
	cancel()
	<-done

	log.Printf("[SYNC] Trigger stopped")
}

// SetOnline records the connectivity signal. Going from offline to online
// triggers a cycle.
func (s *SyncTrigger) SetOnline(online bool) {
	s.mu.Lock()
	was := s.online
	s.online = online
	s.mu.Unlock()

	if was == online {
		return
	}
	if online {
		log.Printf("[SYNC] Connectivity restored")
		s.Trigger(ReasonReconnect)
	} else {
		log.Printf("[SYNC] Connectivity lost, sync paused")
	}
}

// Foreground signals that the app came to the foreground.
func (s *SyncTrigger) Foreground() {
	s.Trigger(ReasonForeground)
}

// RunNow requests an immediate cycle.
func (s *SyncTrigger) RunNow() {
	s.Trigger(ReasonManual)
}

// Nudge requests a cycle after a new mutation was queued.
func (s *SyncTrigger) Nudge() {
	s.Trigger(ReasonEnqueue)
}

// Trigger requests a cycle. It returns false when offline or when the request
// was merged into one already pending.
func (s *SyncTrigger) Trigger(reason string) bool {
	if !s.IsOnline() {
		return false
	}
	select {
	case s.pending <- reason:
		return true
	default:
		return false
	}
}

// IsOnline returns the last connectivity signal.
func (s *SyncTrigger) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// IsRunning returns whether the trigger is active.
func (s *SyncTrigger) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// NextRunTime returns when the timer next fires, or nil without a timer.
func (s *SyncTrigger) NextRunTime() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning || s.schedule == "" {
		return nil
	}
	for _, entry := range s.cron.Entries() {
		if entry.ID == s.entryID {
			t := entry.Next
			return &t
		}
	}
	return nil
}

func (s *SyncTrigger) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-s.pending:
			// Connectivity may have dropped while the request waited.
			if !s.IsOnline() {
				continue
			}
			s.run(ctx, reason)
		}
	}
}

func (s *SyncTrigger) run(ctx context.Context, reason string) {
	cycleCtx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	report, err := s.runner.Drain(cycleCtx)
	if err != nil {
		log.Printf("[SYNC] Drain (%s) failed: %v", reason, err)
	} else if report.Coalesced {
		log.Printf("[SYNC] Drain (%s) coalesced with a running cycle", reason)
	}

	if ctx.Err() == nil {
		s.scheduleRetry(ctx)
	}
}

// scheduleRetry arms a one-shot trigger for the earliest pending entry.
func (s *SyncTrigger) scheduleRetry(ctx context.Context) {
	if s.due == nil {
		return
	}
	next, err := s.due.NextDue(ctx)
	if err != nil {
		log.Printf("[SYNC] Failed to read next retry time: %v", err)
		return
	}
	if next == nil {
		return
	}

	delay := time.Until(*next)
	if delay < minRetryWake {
		delay = minRetryWake
	}
	at := time.Now().Add(delay)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	if s.wake != nil {
		if !s.wakeAt.After(at) {
			return
		}
		s.wake.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.wake == timer {
			s.wake = nil
		}
		s.mu.Unlock()
		s.Trigger(ReasonRetry)
	})
	s.wake, s.wakeAt = timer, at
}

// NextRetryTime returns when the retry wake-up fires, or nil if none is armed.
func (s *SyncTrigger) NextRetryTime() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.wake == nil {
		return nil
	}
	t := s.wakeAt
	return &t
}
