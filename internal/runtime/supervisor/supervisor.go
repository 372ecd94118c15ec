// Package supervisor runs named goroutines under a shared context with
// panic recovery and optional restart-with-backoff. Account scheduler loops
// and the HTTP server run under one supervisor per process.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "github.com/himecorleone/course-registration-system/pkg/logx"
)

// Supervisor manages goroutines tied to a shared context.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log logx.Logger

	started  uint64
	active   int64
	errOnce  sync.Once
	firstErr atomic.Value // error
	doneOnce sync.Once
	doneCh   chan struct{}
	wg       sync.WaitGroup

	mu    sync.Mutex
	stats map[string]*taskStats
}

// TaskStats is a best-effort per-name view of supervised goroutines,
// intended for the operator surface, not for synchronization.
type TaskStats struct {
	Name        string    `json:"name"`
	Active      int64     `json:"active"`
	Started     uint64    `json:"started"`
	Restarts    uint64    `json:"restarts"`
	Panics      uint64    `json:"panics"`
	LastStartAt time.Time `json:"last_start_at"`
	LastErr     string    `json:"last_err,omitempty"`
	LastErrAt   time.Time `json:"last_err_at,omitzero"`
}

type taskStats struct {
	name        string
	active      int64
	started     uint64
	restarts    uint64
	panics      uint64
	lastStartAt time.Time
	lastErr     string
	lastErrAt   time.Time
}

func New(parent context.Context, log logx.Logger) *Supervisor {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		log:    log,
		doneCh: make(chan struct{}),
		stats:  map[string]*taskStats{},
	}
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Err returns the first error recorded by a supervised goroutine.
func (s *Supervisor) Err() error {
	if v := s.firstErr.Load(); v != nil {
		if err, ok := v.(error); ok {
			return err
		}
	}
	return nil
}

// Active returns the number of currently running supervised goroutines.
func (s *Supervisor) Active() int64 { return atomic.LoadInt64(&s.active) }

// Tasks returns per-name stats, active first, then by name.
func (s *Supervisor) Tasks() []TaskStats {
	s.mu.Lock()
	out := make([]TaskStats, 0, len(s.stats))
	for _, st := range s.stats {
		out = append(out, TaskStats{
			Name:        st.name,
			Active:      st.active,
			Started:     st.started,
			Restarts:    st.restarts,
			Panics:      st.panics,
			LastStartAt: st.lastStartAt,
			LastErr:     st.lastErr,
			LastErrAt:   st.lastErrAt,
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Active != out[j].Active {
			return out[i].Active > out[j].Active
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Go runs fn once under the supervisor context with panic recovery.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	atomic.AddUint64(&s.started, 1)
	atomic.AddInt64(&s.active, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.active, -1)

		s.noteStart(name, false)
		err, pan := runRecovered(s.ctx, fn)
		if pan != nil {
			s.log.Error("goroutine panicked",
				logx.String("name", name), logx.Any("panic", pan.value), logx.String("stack", pan.stack))
			s.notePanic(name)
			err = fmt.Errorf("panic in %s: %v", name, pan.value)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			s.noteErr(name, err)
			s.setErr(fmt.Errorf("%s: %w", name, err))
		}
		s.noteStop(name)
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

// RestartConfig tunes GoRestart.
type RestartConfig struct {
	MinBackoff  time.Duration // default 250ms
	MaxBackoff  time.Duration // default 30s
	MaxRestarts int           // <=0 means unlimited
}

func (c RestartConfig) withDefaults() RestartConfig {
	if c.MinBackoff <= 0 {
		c.MinBackoff = 250 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = c.MinBackoff
	}
	return c
}

// GoRestart runs fn and restarts it on error or panic with jittered
// exponential backoff until ctx is canceled or fn returns nil.
//
// Intended for long-running loops that should self-heal from transient
// failures without taking the whole process down.
func (s *Supervisor) GoRestart(name string, cfg RestartConfig, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	cfg = cfg.withDefaults()

	s.Go(name+".restart", func(ctx context.Context) error {
		backoff := cfg.MinBackoff
		restarts := 0
		for {
			if ctx.Err() != nil {
				return nil
			}

			s.noteStart(name, restarts > 0)
			startedAt := time.Now()
			err, pan := runRecovered(ctx, fn)
			if pan != nil {
				s.log.Error("goroutine panicked",
					logx.String("name", name), logx.Any("panic", pan.value), logx.String("stack", pan.stack))
				s.notePanic(name)
				err = fmt.Errorf("panic: %v", pan.value)
			}
			s.noteStop(name)

			// Shutdown and clean exits end the loop.
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || err == nil {
				return nil
			}
			s.noteErr(name, err)

			restarts++
			if cfg.MaxRestarts > 0 && restarts > cfg.MaxRestarts {
				s.log.Error("giving up after restarts",
					logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
				return fmt.Errorf("gave up after %d restarts: %w", restarts, err)
			}

			// A run that survived a while earns a fresh backoff window.
			if time.Since(startedAt) >= 30*time.Second {
				backoff = cfg.MinBackoff
			}
			wait := backoff + jitter(backoff)
			s.log.Warn("goroutine restarting",
				logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			backoff *= 2
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}
	})
}

// Stop cancels the supervisor context and waits for all goroutines.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until all supervised goroutines have exited or ctx expires.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

type panicInfo struct {
	value any
	stack string
}

func runRecovered(ctx context.Context, fn func(ctx context.Context) error) (err error, pan *panicInfo) {
	defer func() {
		if r := recover(); r != nil {
			pan = &panicInfo{value: r, stack: string(debug.Stack())}
		}
	}()
	err = fn(ctx)
	return
}

// jitter returns up to 20% of d, pseudo-randomized off the clock.
func jitter(d time.Duration) time.Duration {
	j := int64(d) / 5
	if j <= 0 {
		return 0
	}
	return time.Duration(time.Now().UnixNano() % (j + 1))
}

func (s *Supervisor) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() { s.firstErr.Store(err) })
}

func (s *Supervisor) stat(name string) *taskStats {
	st := s.stats[name]
	if st == nil {
		st = &taskStats{name: name}
		s.stats[name] = st
	}
	return st
}

func (s *Supervisor) noteStart(name string, isRestart bool) {
	s.mu.Lock()
	st := s.stat(name)
	st.started++
	st.active++
	st.lastStartAt = time.Now()
	if isRestart {
		st.restarts++
	}
	s.mu.Unlock()
}

func (s *Supervisor) noteStop(name string) {
	s.mu.Lock()
	if st := s.stat(name); st.active > 0 {
		st.active--
	}
	s.mu.Unlock()
}

func (s *Supervisor) noteErr(name string, err error) {
	s.mu.Lock()
	st := s.stat(name)
	st.lastErr = err.Error()
	st.lastErrAt = time.Now()
	s.mu.Unlock()
}

func (s *Supervisor) notePanic(name string) {
	s.mu.Lock()
	s.stat(name).panics++
	s.mu.Unlock()
}
