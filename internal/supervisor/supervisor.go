// Package supervisor runs the periodic sweep that nudges slow users
// and expires stalled sessions.
package supervisor

import (
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"

	. "github.com/roelfdiedericks/imaginebot/internal/logging"
	"github.com/roelfdiedericks/imaginebot/internal/session"
)

// Notifier sends timeout messages to users. Implemented by the
// Telegram bot.
type Notifier interface {
	SendText(identity, text string)
}

const (
	// A session is destroyed after this many unanswered nudges.
	maxMissedSteps = 2

	stepTimeoutText  = "You took too long to respond. Please reply to continue, or /cancel to abort."
	stallTimeoutText = "Your session has timed out due to inactivity. Please start over."
)

// Supervisor watches the session store on a fixed tick. Two clocks per
// record: the step clock nudges a user who has not answered the
// current prompt, the stall clock destroys sessions with no accepted
// input at all. Nudges never count as activity.
type Supervisor struct {
	store  *session.Store
	notify Notifier

	step  time.Duration
	stall time.Duration
	tick  time.Duration

	cron *cronlib.Cron
}

// New creates a supervisor; Start arms it.
func New(store *session.Store, notify Notifier, step, stall, tick time.Duration) *Supervisor {
	return &Supervisor{
		store:  store,
		notify: notify,
		step:   step,
		stall:  stall,
		tick:   tick,
	}
}

// Start schedules the sweep.
func (s *Supervisor) Start() error {
	s.cron = cronlib.New()
	spec := fmt.Sprintf("@every %ds", int(s.tick.Seconds()))
	if _, err := s.cron.AddFunc(spec, func() { s.Sweep(time.Now()) }); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()
	L_info("timeout supervisor started", "tick", s.tick.String(), "step", s.step.String(), "stall", s.stall.String())
	return nil
}

// Stop cancels the sweep schedule.
func (s *Supervisor) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Sweep checks every active session against the clocks. Exported so
// tests can drive time directly.
func (s *Supervisor) Sweep(now time.Time) {
	for _, id := range s.store.Identities() {
		s.check(id, now)
	}
}

func (s *Supervisor) check(identity string, now time.Time) {
	var note string

	s.store.Sweep(identity, func(r *session.Record) bool {
		if now.Sub(r.LastActivity) >= s.stall {
			note = stallTimeoutText
			L_info("session stalled, destroying", "user", identity, "workflow", string(r.Workflow))
			return true
		}

		// Processing records are owned by the executor; only the
		// stall clock applies to them.
		if r.Processing {
			return false
		}

		// The step clock restarts at the later of the last accepted
		// input and the last nudge, so one slow step is nudged once
		// per interval rather than every tick.
		since := r.LastActivity
		if r.LastNudge.After(since) {
			since = r.LastNudge
		}
		if now.Sub(since) < s.step {
			return false
		}

		r.MissedSteps++
		if r.MissedSteps >= maxMissedSteps {
			note = stallTimeoutText
			L_info("session abandoned after repeated nudges", "user", identity, "workflow", string(r.Workflow))
			return true
		}
		r.LastNudge = now
		note = stepTimeoutText
		L_debug("nudging slow session", "user", identity, "missed", r.MissedSteps)
		return false
	})

	if note != "" {
		s.notify.SendText(identity, note)
	}
}
