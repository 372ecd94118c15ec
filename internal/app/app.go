// Package app wires the daemon together: config, logging, storage, the
// per-account managers and the operator API, all under one supervisor.
package app

import (
	"context"
	"time"

	"github.com/himecorleone/course-registration-system/internal/account"
	"github.com/himecorleone/course-registration-system/internal/browser"
	"github.com/himecorleone/course-registration-system/internal/config"
	"github.com/himecorleone/course-registration-system/internal/manager"
	"github.com/himecorleone/course-registration-system/internal/runtime/supervisor"
	"github.com/himecorleone/course-registration-system/internal/scheduler"
	"github.com/himecorleone/course-registration-system/internal/storage"
	"github.com/himecorleone/course-registration-system/internal/web"
	"github.com/himecorleone/course-registration-system/internal/workflow"
	logx "github.com/himecorleone/course-registration-system/pkg/logx"
)

// reconcileEvery is the self-heal interval: runners that died between
// config changes get replaced even without a reload.
const reconcileEvery = time.Minute

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store storage.Store // may be nil
	sup   *supervisor.Supervisor
	mgr   *manager.Manager
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(func(ctx context.Context, c *config.Config) error {
		return config.Validate(c)
	})

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("attempt history enabled", logx.String("driver", sc.Driver))
	}

	return &App{cfgm: cfgm, logs: logSvc, log: log, store: store}, nil
}

// Start brings up all components and returns; the supervisor owns their
// goroutines until Stop.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()

	a.sup = supervisor.New(ctx, a.log.With(logx.String("comp", "supervisor")))
	a.mgr = manager.New(cfg.CredentialsDir, a.sup, a.newRunner, a.log.With(logx.String("comp", "manager")))

	specs, err := mapAccountSpecs(cfg)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		a.log.Warn("no accounts configured; nothing will be scheduled")
	}
	a.mgr.Reconcile(specs)

	if cfg.Web.Enabled {
		srv := web.New(web.Config{Addr: cfg.Web.Addr}, a.mgr, a.cfgm, a.store,
			a.log.With(logx.String("comp", "web")))
		a.sup.GoRestart("web.serve", supervisor.RestartConfig{
			MinBackoff: 500 * time.Millisecond,
			MaxBackoff: 10 * time.Second,
		}, srv.Run)
	}

	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("config.apply", a.applyLoop)
	a.sup.Go("manager.reconcile", a.reconcileLoop)

	a.log.Info("daemon started", logx.Int("accounts", len(specs)))
	return nil
}

// Stop shuts everything down, bounded by ctx.
func (a *App) Stop(ctx context.Context) error {
	var err error
	if a.sup != nil {
		err = a.sup.Stop(ctx)
	}
	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	a.log.Info("daemon stopped")
	a.logs.Close()
	return err
}

// newRunner builds the scheduler runner for one account. The engine and
// runner configs are taken from the currently committed config, so runners
// started after a reload pick up the new settings.
func (a *App) newRunner(name string, store *account.Store) manager.Runner {
	cfg := a.cfgm.Get()
	log := a.log.With(logx.String("comp", "runner"))

	engCfg, err := mapWorkflowConfig(cfg)
	if err != nil {
		// Validate() bounds these fields; reaching this means a programming
		// error in the validator, not an operator mistake.
		log.Error("workflow config mapping failed", logx.Err(err))
	}
	drvCfg, err := mapDriverConfig(cfg)
	if err != nil {
		log.Error("driver config mapping failed", logx.Err(err))
	}
	runCfg, err := mapRunnerConfig(cfg)
	if err != nil {
		log.Error("runner config mapping failed", logx.Err(err))
	}

	factory := func(ctx context.Context) (browser.Driver, error) {
		return browser.Connect(ctx, drvCfg, log.With(logx.String("comp", "browser")))
	}
	eng := workflow.New(engCfg, factory, log.With(logx.String("account", name)))
	return scheduler.NewRunner(name, store, eng, a.store, runCfg, log)
}

// applyLoop reacts to config reloads: logging settings apply in place and
// the account set is reconciled. Web and storage settings need a restart.
func (a *App) applyLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-sub:
			if !ok {
				return nil
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			specs, err := mapAccountSpecs(cfg)
			if err != nil {
				a.log.Warn("reloaded config has unusable accounts", logx.Err(err))
				continue
			}
			a.mgr.Reconcile(specs)
			a.log.Info("config applied", logx.Int("accounts", len(specs)))
		}
	}
}

// reconcileLoop periodically re-runs reconcile so dead runners self-heal.
func (a *App) reconcileLoop(ctx context.Context) error {
	t := time.NewTicker(reconcileEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			specs, err := mapAccountSpecs(a.cfgm.Get())
			if err != nil {
				continue
			}
			a.mgr.Reconcile(specs)
		}
	}
}

// RunStandalone runs the full scheduler loop for a single record file in the
// foreground, without the manager or the operator API: startup attempt, armed
// fire schedule, daily refresh. It blocks until ctx is canceled. A missing or
// corrupt record is fatal, same as in daemon mode.
func RunStandalone(ctx context.Context, cfgPath, recordPath string) error {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logSvc, log := logx.New(logx.Config{Level: cfg.Logging.Level, Console: true})
	defer logSvc.Close()
	log = log.With(logx.String("comp", "standalone"))

	engCfg, err := mapWorkflowConfig(cfg)
	if err != nil {
		return err
	}
	drvCfg, err := mapDriverConfig(cfg)
	if err != nil {
		return err
	}
	runCfg, err := mapRunnerConfig(cfg)
	if err != nil {
		return err
	}

	var hist storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return err
	} else if enabled {
		hist, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return err
		}
		defer hist.Close()
	}

	// Load once up front so a bad record path fails before anything is armed
	// and the runner carries the account's real name.
	store := account.NewStore(recordPath, log)
	rec, err := store.Load(time.Now())
	if err != nil {
		return err
	}

	factory := func(ctx context.Context) (browser.Driver, error) {
		return browser.Connect(ctx, drvCfg, log.With(logx.String("comp", "browser")))
	}
	eng := workflow.New(engCfg, factory, log.With(logx.String("account", rec.Email)))

	r := scheduler.NewRunner(rec.Email, store, eng, hist, runCfg, log)
	log.Info("standalone scheduler started", logx.String("record", recordPath))
	return r.Run(ctx)
}
