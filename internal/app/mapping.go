package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/himecorleone/course-registration-system/internal/browser"
	"github.com/himecorleone/course-registration-system/internal/config"
	"github.com/himecorleone/course-registration-system/internal/manager"
	"github.com/himecorleone/course-registration-system/internal/scheduler"
	"github.com/himecorleone/course-registration-system/internal/storage"
	"github.com/himecorleone/course-registration-system/internal/workflow"
)

// The mapping helpers translate the validated config document into the
// typed component configs. Duration fields arrive as strings; zero means
// "use the component default".

func mapWorkflowConfig(cfg *config.Config) (workflow.Config, error) {
	out := workflow.Config{BookingURL: strings.TrimSpace(cfg.Booking.URL)}
	fields := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"booking.budget", cfg.Booking.Budget, &out.Budget},
		{"booking.element_wait", cfg.Booking.ElementWait, &out.ElementWait},
		{"booking.page_settle", cfg.Booking.PageSettle, &out.PageSettle},
		{"booking.window_settle", cfg.Booking.WindowSettle, &out.WindowSettle},
		{"booking.login_settle", cfg.Booking.LoginSettle, &out.LoginSettle},
		{"booking.submit_settle", cfg.Booking.SubmitSettle, &out.SubmitSettle},
		{"booking.confirm_settle", cfg.Booking.ConfirmSettle, &out.ConfirmSettle},
	}
	for _, f := range fields {
		d, err := config.ParseDurationField(f.path, f.raw)
		if err != nil {
			return workflow.Config{}, err
		}
		*f.dst = d
	}
	return out, nil
}

func mapDriverConfig(cfg *config.Config) (browser.RemoteConfig, error) {
	pageLoad, err := config.ParseDurationField("driver.page_load_timeout", cfg.Driver.PageLoadTimeout)
	if err != nil {
		return browser.RemoteConfig{}, err
	}
	httpTimeout, err := config.ParseDurationField("driver.http_timeout", cfg.Driver.HTTPTimeout)
	if err != nil {
		return browser.RemoteConfig{}, err
	}
	return browser.RemoteConfig{
		URL:             strings.TrimSpace(cfg.Driver.URL),
		Browser:         strings.TrimSpace(cfg.Driver.Browser),
		Headless:        cfg.Driver.Headless,
		PageLoadTimeout: pageLoad,
		HTTPTimeout:     httpTimeout,
		RatePerSec:      cfg.Driver.RatePerSec,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	return storage.Config{Driver: driver, Path: cfg.Storage.Path, BusyTimeout: busy}, true, nil
}

func mapRunnerConfig(cfg *config.Config) (scheduler.Config, error) {
	out := scheduler.Config{}
	if at := strings.TrimSpace(cfg.Scheduler.RefreshAt); at != "" {
		h, m, err := config.ParseHHMM(at)
		if err != nil {
			return scheduler.Config{}, err
		}
		out.RefreshSpec = fmt.Sprintf("%d %d * * *", m, h)
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: %w", err)
		}
		out.Location = loc
	}
	return out, nil
}

func mapAccountSpecs(cfg *config.Config) ([]manager.AccountSpec, error) {
	accounts, err := cfg.EffectiveAccounts()
	if err != nil {
		return nil, err
	}
	out := make([]manager.AccountSpec, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, manager.AccountSpec{
			Email:    strings.TrimSpace(a.Email),
			Password: a.Password,
			Excluded: a.Excluded,
		})
	}
	return out, nil
}
