package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/himecorleone/course-registration-system/internal/account"
	"github.com/himecorleone/course-registration-system/internal/storage"
	"github.com/himecorleone/course-registration-system/internal/workflow"
	logx "github.com/himecorleone/course-registration-system/pkg/logx"
)

// defaultRefreshSpec re-derives the fire schedule shortly after midnight,
// so clock shifts and calendar edits never leave stale timers armed.
const defaultRefreshSpec = "5 0 * * *"

// Engine runs one full registration attempt against the booking site.
// *workflow.Engine is the production implementation.
type Engine interface {
	Run(ctx context.Context, rec *account.Record) ([]workflow.Outcome, error)
}

// Config controls one account runner.
type Config struct {
	// RefreshSpec is the cron spec for the daily schedule re-derivation.
	RefreshSpec string
	// Location is the timezone fire times are derived in; nil means local.
	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.RefreshSpec == "" {
		c.RefreshSpec = defaultRefreshSpec
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

type fireRequest struct {
	trigger string // "startup", "timer" or "manual"
}

// Runner drives the registration loop for a single account.
//
// All attempts run on the loop goroutine, so at most one browser session per
// account is in flight at any time. Timers and the manual trigger only
// enqueue fire requests.
type Runner struct {
	name    string
	store   *account.Store
	engine  Engine
	history storage.Store // may be nil
	cfg     Config
	log     logx.Logger

	fireCh chan fireRequest

	mu           sync.Mutex
	timers       []*time.Timer
	next         []FireTime
	lastRun      time.Time
	lastOutcomes []workflow.Outcome
	runs         int
}

// Snapshot is a point-in-time view of one runner for the operator surface.
type Snapshot struct {
	Account      string             `json:"account"`
	NextFires    []FireTime         `json:"next_fires"`
	LastRun      time.Time          `json:"last_run,omitzero"`
	LastOutcomes []workflow.Outcome `json:"-"`
	Runs         int                `json:"runs"`
}

func NewRunner(name string, store *account.Store, engine Engine, history storage.Store, cfg Config, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		name:    name,
		store:   store,
		engine:  engine,
		history: history,
		cfg:     cfg.withDefaults(),
		log:     log.With(logx.String("account", name)),
		fireCh:  make(chan fireRequest, 4),
	}
}

// Run is the runner loop. It blocks until ctx is canceled.
//
// It returns an error only when the account record is unusable (missing or
// corrupt); everything else is logged and retried on the next fire.
func (r *Runner) Run(ctx context.Context) error {
	// The startup attempt doubles as the record sanity check: a missing or
	// corrupt record is a configuration error, not something to retry.
	if err := r.attempt(ctx, "startup"); err != nil {
		return err
	}
	r.rearm(time.Now().In(r.cfg.Location))

	c := cron.New(cron.WithLocation(r.cfg.Location))
	if _, err := c.AddFunc(r.cfg.RefreshSpec, func() {
		r.log.Info("daily schedule refresh")
		r.rearm(time.Now().In(r.cfg.Location))
	}); err != nil {
		r.stopTimers()
		return err
	}
	c.Start()
	defer func() {
		<-c.Stop().Done()
		r.stopTimers()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-r.fireCh:
			if err := r.attempt(ctx, req.trigger); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			// The fired timer is spent; derive the next round.
			r.rearm(time.Now().In(r.cfg.Location))
		}
	}
}

// TriggerNow enqueues a manual attempt. It reports false when the runner is
// already saturated with pending fires.
func (r *Runner) TriggerNow() bool {
	select {
	case r.fireCh <- fireRequest{trigger: "manual"}:
		return true
	default:
		return false
	}
}

// Snapshot returns the current runner state for the operator surface.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Account:      r.name,
		NextFires:    append([]FireTime(nil), r.next...),
		LastRun:      r.lastRun,
		LastOutcomes: append([]workflow.Outcome(nil), r.lastOutcomes...),
		Runs:         r.runs,
	}
}

// attempt performs one full load/run/merge/persist cycle.
func (r *Runner) attempt(ctx context.Context, trigger string) error {
	started := time.Now()
	log := r.log.With(logx.String("trigger", trigger))

	rec, err := r.store.Load(started)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) || errors.Is(err, account.ErrCorrupt) {
			log.Error("account record unusable; stopping runner", logx.Err(err))
			return err
		}
		log.Error("account record load failed; skipping attempt", logx.Err(err))
		return nil
	}

	outcomes, err := r.engine.Run(ctx, rec)
	if err != nil {
		// Nothing was tried; still leave a trace in the attempt history so a
		// dead driver or listing page shows up on the operator surface.
		reason := "no_browser"
		if errors.Is(err, workflow.ErrPageUnavailable) {
			reason = "listing_unreachable"
		}
		log.Error("attempt failed before any course could be tried", logx.Err(err))
		r.record(ctx, storage.AttemptRecord{
			Account: r.name, Status: "error", Reason: reason,
			Trigger: trigger, At: started, Took: time.Since(started),
		})
		return nil
	}

	changed := false
	for _, o := range outcomes {
		if o.Registrable() && !rec.IsRegistered(o.CourseID) {
			rec.MarkRegistered(o.CourseID)
			changed = true
		}
	}
	if changed {
		// A lost save only costs a redundant attempt next fire; the site
		// itself reports existing bookings.
		if err := r.store.Save(rec); err != nil {
			log.Error("persisting registration state failed", logx.Err(err))
		}
	}

	for _, o := range outcomes {
		r.record(ctx, storage.AttemptRecord{
			Account: r.name, CourseID: o.CourseID, Status: o.Status.String(),
			Reason: o.Reason, Trigger: trigger, At: started, Took: time.Since(started),
		})
	}

	r.mu.Lock()
	r.lastRun = started
	r.lastOutcomes = outcomes
	r.runs++
	r.mu.Unlock()

	log.Info("attempt cycle finished",
		logx.Int("outcomes", len(outcomes)), logx.Duration("took", time.Since(started)))
	return nil
}

func (r *Runner) record(ctx context.Context, rec storage.AttemptRecord) {
	if r.history == nil {
		return
	}
	if err := r.history.AppendAttempt(ctx, rec); err != nil {
		r.log.Warn("attempt history write failed", logx.Err(err))
	}
}

// rearm replaces the armed one-shot timers with the current fire schedule.
func (r *Runner) rearm(now time.Time) {
	fires := ComputeFireSchedule(now)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.timers {
		t.Stop()
	}
	r.timers = r.timers[:0]
	r.next = fires

	for _, f := range fires {
		r.timers = append(r.timers, time.AfterFunc(f.FireAt.Sub(now), func() {
			select {
			case r.fireCh <- fireRequest{trigger: "timer"}:
			default:
				// An attempt is already queued; it will cover this course.
			}
		}))
	}
	if len(fires) > 0 {
		r.log.Info("fire schedule armed",
			logx.Int("count", len(fires)),
			logx.Time("first", fires[0].FireAt),
			logx.String("first_course", fires[0].CourseID))
	}
}

func (r *Runner) stopTimers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.timers {
		t.Stop()
	}
	r.timers = r.timers[:0]
}
