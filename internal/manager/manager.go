// Package manager supervises one scheduler runner per configured account:
// it materializes record files from configuration, starts missing runners,
// stops runners whose account was removed and answers health queries.
package manager

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/himecorleone/course-registration-system/internal/account"
	"github.com/himecorleone/course-registration-system/internal/runtime/supervisor"
	"github.com/himecorleone/course-registration-system/internal/scheduler"
	logx "github.com/himecorleone/course-registration-system/pkg/logx"
)

// AccountSpec is the configured identity of one account.
type AccountSpec struct {
	Email    string
	Password string
	Excluded []string
}

// Runner is the per-account loop the manager supervises.
// *scheduler.Runner is the production implementation.
type Runner interface {
	Run(ctx context.Context) error
	TriggerNow() bool
	Snapshot() scheduler.Snapshot
}

// RunnerFactory builds the runner for one account record store.
type RunnerFactory func(name string, store *account.Store) Runner

// Status is one account's view on the operator surface.
type Status struct {
	Account string             `json:"account"`
	Alive   bool               `json:"alive"`
	Runner  scheduler.Snapshot `json:"runner"`
}

type entry struct {
	spec   AccountSpec
	runner Runner
	cancel context.CancelFunc
	done   chan struct{}
}

func (e *entry) alive() bool {
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

// Manager reconciles the configured account set against running runners.
type Manager struct {
	dir       string // credential/record directory
	sup       *supervisor.Supervisor
	newRunner RunnerFactory
	log       logx.Logger

	mu         sync.Mutex
	entries    map[string]*entry
	configured int
}

func New(dir string, sup *supervisor.Supervisor, newRunner RunnerFactory, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		dir:       dir,
		sup:       sup,
		newRunner: newRunner,
		log:       log,
		entries:   map[string]*entry{},
	}
}

// Reconcile brings the running set in line with specs: record files are
// (re)materialized, missing runners started, removed ones canceled. Runners
// that died are restarted with a fresh entry.
//
// Reconcile is cheap and idempotent; the app calls it on startup, on config
// reload and periodically as a self-heal.
func (m *Manager) Reconcile(specs []AccountSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := map[string]AccountSpec{}
	for _, spec := range specs {
		email := strings.TrimSpace(spec.Email)
		if email == "" {
			continue
		}
		spec.Email = email
		want[email] = spec
	}
	m.configured = len(want)

	// Stop runners whose account disappeared from the configuration.
	for email, e := range m.entries {
		if _, keep := want[email]; !keep {
			m.log.Info("stopping runner for removed account", logx.String("account", email))
			e.cancel()
			delete(m.entries, email)
		}
	}

	for email, spec := range want {
		if e, ok := m.entries[email]; ok && e.alive() && specEqual(e.spec, spec) {
			continue
		}
		if e, ok := m.entries[email]; ok {
			// Dead or reconfigured; replace it.
			e.cancel()
			delete(m.entries, email)
		}
		m.startLocked(spec)
	}
}

func (m *Manager) startLocked(spec AccountSpec) {
	store := account.NewStore(filepath.Join(m.dir, spec.Email), m.log)
	if err := store.WriteInitial(spec.Email, spec.Password, spec.Excluded); err != nil {
		m.log.Error("materializing account record failed",
			logx.String("account", spec.Email), logx.Err(err))
		return
	}

	runCtx, cancel := context.WithCancel(m.sup.Context())
	e := &entry{
		spec:   spec,
		runner: m.newRunner(spec.Email, store),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.entries[spec.Email] = e

	var deadOnce sync.Once
	markDead := func() { deadOnce.Do(func() { close(e.done) }) }

	m.sup.GoRestart("runner."+spec.Email, supervisor.RestartConfig{}, func(context.Context) error {
		err := e.runner.Run(runCtx)
		if errors.Is(err, account.ErrNotFound) || errors.Is(err, account.ErrCorrupt) {
			// A broken record is a configuration error; restarting cannot
			// fix it, the next reconcile with a corrected config will.
			m.log.Error("runner stopped on unusable record",
				logx.String("account", spec.Email), logx.Err(err))
			markDead()
			return nil
		}
		if err == nil || errors.Is(err, context.Canceled) {
			markDead()
			return nil
		}
		// Unexpected failure; the supervisor restarts the loop.
		return err
	})
	m.log.Info("runner started", logx.String("account", spec.Email))
}

func specEqual(a, b AccountSpec) bool {
	if a.Email != b.Email || a.Password != b.Password || len(a.Excluded) != len(b.Excluded) {
		return false
	}
	for i := range a.Excluded {
		if a.Excluded[i] != b.Excluded[i] {
			return false
		}
	}
	return true
}

// Healthy reports whether every configured account has a live runner.
func (m *Manager) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) < m.configured {
		return false
	}
	for _, e := range m.entries {
		if !e.alive() {
			return false
		}
	}
	return true
}

// Statuses returns a sorted-by-account view of all runners.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, Status{
			Account: e.spec.Email,
			Alive:   e.alive(),
			Runner:  e.runner.Snapshot(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// Trigger enqueues a manual attempt for one account. An empty account
// triggers every live runner. It reports how many runners accepted.
func (m *Manager) Trigger(accountEmail string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for email, e := range m.entries {
		if accountEmail != "" && email != accountEmail {
			continue
		}
		if e.alive() && e.runner.TriggerNow() {
			n++
		}
	}
	return n
}
