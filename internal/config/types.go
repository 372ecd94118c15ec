package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the daemon configuration document (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "15m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Web       WebConfig       `json:"web"`
	Booking   BookingConfig   `json:"booking"`
	Driver    DriverConfig    `json:"driver"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`

	// CredentialsDir holds one record file per account, named by email.
	CredentialsDir string `json:"credentials_dir"`

	// Accounts may be empty; the ACCOUNTS environment variable is the
	// fallback then (a JSON array of the same objects).
	Accounts []AccountConfig `json:"accounts,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// WebConfig controls the operator HTTP server.
type WebConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
}

// BookingConfig points at the course listing and tunes the workflow engine.
type BookingConfig struct {
	URL string `json:"url"`

	Budget        string `json:"budget,omitempty"`         // default "15m"
	ElementWait   string `json:"element_wait,omitempty"`   // default "10s"
	PageSettle    string `json:"page_settle,omitempty"`    // default "4s"
	WindowSettle  string `json:"window_settle,omitempty"`  // default "4s"
	LoginSettle   string `json:"login_settle,omitempty"`   // default "10s"
	SubmitSettle  string `json:"submit_settle,omitempty"`  // default "10s"
	ConfirmSettle string `json:"confirm_settle,omitempty"` // default "5s"
}

// DriverConfig points at the WebDriver endpoint.
type DriverConfig struct {
	URL        string `json:"url,omitempty"`     // default "http://127.0.0.1:4444"
	Browser    string `json:"browser,omitempty"` // default "firefox"
	Headless   bool   `json:"headless"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`

	PageLoadTimeout string `json:"page_load_timeout,omitempty"` // default "5m"
	HTTPTimeout     string `json:"http_timeout,omitempty"`      // default "30s"
}

// SchedulerConfig controls the per-account registration loops.
type SchedulerConfig struct {
	// RefreshAt is the daily schedule re-derivation time, "HH:MM".
	RefreshAt string `json:"refresh_at,omitempty"` // default "00:05"
	// Timezone is the IANA zone fire times are derived in; empty means local.
	Timezone string `json:"timezone,omitempty"`
}

// StorageConfig controls the attempt-history persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./coursed.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type AccountConfig struct {
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Excluded []string `json:"excluded,omitempty"`
}

const accountsEnv = "ACCOUNTS"

// EffectiveAccounts returns the configured accounts, falling back to the
// ACCOUNTS environment variable when the document carries none.
func (c *Config) EffectiveAccounts() ([]AccountConfig, error) {
	if len(c.Accounts) > 0 {
		return c.Accounts, nil
	}
	raw := strings.TrimSpace(os.Getenv(accountsEnv))
	if raw == "" {
		return nil, nil
	}
	var accounts []AccountConfig
	if err := json.Unmarshal([]byte(raw), &accounts); err != nil {
		return nil, fmt.Errorf("%s env: %w", accountsEnv, err)
	}
	return accounts, nil
}

// Validate rejects documents the daemon cannot run with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Booking.URL) == "" {
		return errors.New("booking.url is required")
	}
	if strings.TrimSpace(cfg.CredentialsDir) == "" {
		return errors.New("credentials_dir is required")
	}
	if at := strings.TrimSpace(cfg.Scheduler.RefreshAt); at != "" {
		if _, _, err := ParseHHMM(at); err != nil {
			return fmt.Errorf("scheduler.refresh_at: %w", err)
		}
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	accounts, err := cfg.EffectiveAccounts()
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for i, a := range accounts {
		email := strings.TrimSpace(a.Email)
		if email == "" {
			return fmt.Errorf("accounts[%d]: email is required", i)
		}
		if a.Password == "" {
			return fmt.Errorf("accounts[%d] (%s): password is required", i, email)
		}
		if seen[email] {
			return fmt.Errorf("accounts[%d]: duplicate email %s", i, email)
		}
		seen[email] = true
	}

	durations := map[string]string{
		"booking.budget":           cfg.Booking.Budget,
		"booking.element_wait":     cfg.Booking.ElementWait,
		"booking.page_settle":      cfg.Booking.PageSettle,
		"booking.window_settle":    cfg.Booking.WindowSettle,
		"booking.login_settle":     cfg.Booking.LoginSettle,
		"booking.submit_settle":    cfg.Booking.SubmitSettle,
		"booking.confirm_settle":   cfg.Booking.ConfirmSettle,
		"driver.page_load_timeout": cfg.Driver.PageLoadTimeout,
		"driver.http_timeout":      cfg.Driver.HTTPTimeout,
	}
	if cfg.Storage != nil {
		durations["storage.busy_timeout"] = cfg.Storage.BusyTimeout
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	return nil
}

// ParseHHMM parses a "HH:MM" wall-clock time.
func ParseHHMM(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}
