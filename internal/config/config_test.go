package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const goodJSON = `{
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "web": {"enabled": true, "addr": "127.0.0.1:8080"},
  "booking": {"url": "https://example.org/booking", "budget": "15m"},
  "driver": {"url": "http://127.0.0.1:4444", "browser": "firefox", "headless": true},
  "scheduler": {"refresh_at": "00:05", "timezone": "Europe/Berlin"},
  "storage": {"driver": "file", "path": "./attempts.jsonl"},
  "credentials_dir": "./accounts",
  "accounts": [
    {"email": "a@example.org", "password": "pa", "excluded": ["051003"]},
    {"email": "b@example.org", "password": "pb"}
  ]
}`

const goodYAML = `logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
web:
  enabled: false
booking:
  url: https://example.org/booking
driver:
  headless: true
scheduler:
  refresh_at: "00:05"
credentials_dir: ./accounts
accounts:
  - email: a@example.org
    password: pa
`

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(write(t, "config.json", goodJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if cfg.Booking.URL != "https://example.org/booking" {
		t.Fatalf("booking.url = %q", cfg.Booking.URL)
	}
	if len(cfg.Accounts) != 2 || cfg.Accounts[0].Excluded[0] != "051003" {
		t.Fatalf("accounts = %+v", cfg.Accounts)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(write(t, "config.yaml", goodYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Driver.Headless {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(write(t, "config.json", `{"booking": {"url": "x"}, "bogus": 1}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("unknown field must be rejected")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	m := NewManager(write(t, "config.json", `{"booking": {"url": "x"}} {"more": true}`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("trailing data must be rejected")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Booking:        BookingConfig{URL: "https://example.org"},
			CredentialsDir: "./accounts",
			Accounts:       []AccountConfig{{Email: "a@example.org", Password: "p"}},
		}
	}

	if err := Validate(base()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(*Config){
		"missing booking url":  func(c *Config) { c.Booking.URL = " " },
		"missing creds dir":    func(c *Config) { c.CredentialsDir = "" },
		"bad refresh_at":       func(c *Config) { c.Scheduler.RefreshAt = "25:99" },
		"bad timezone":         func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" },
		"account no email":     func(c *Config) { c.Accounts[0].Email = "" },
		"account no password":  func(c *Config) { c.Accounts[0].Password = "" },
		"duplicate account":    func(c *Config) { c.Accounts = append(c.Accounts, c.Accounts[0]) },
		"bad booking duration": func(c *Config) { c.Booking.Budget = "soon" },
		"negative duration":    func(c *Config) { c.Booking.ElementWait = "-3s" },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestEffectiveAccountsEnvFallback(t *testing.T) {
	t.Setenv(accountsEnv, `[{"email": "env@example.org", "password": "pw", "excluded": ["051011"]}]`)

	cfg := &Config{}
	accounts, err := cfg.EffectiveAccounts()
	if err != nil {
		t.Fatalf("EffectiveAccounts error: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Email != "env@example.org" || accounts[0].Excluded[0] != "051011" {
		t.Fatalf("accounts = %+v", accounts)
	}

	// The document wins over the environment.
	cfg.Accounts = []AccountConfig{{Email: "doc@example.org", Password: "pw"}}
	accounts, err = cfg.EffectiveAccounts()
	if err != nil {
		t.Fatalf("EffectiveAccounts error: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Email != "doc@example.org" {
		t.Fatalf("accounts = %+v", accounts)
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := ParseHHMM("00:05")
	if err != nil || h != 0 || m != 5 {
		t.Fatalf("ParseHHMM(00:05) = %d, %d, %v", h, m, err)
	}
	for _, bad := range []string{"", "5", "aa:bb", "24:00", "12:60"} {
		if _, _, err := ParseHHMM(bad); err == nil {
			t.Errorf("ParseHHMM(%q): expected error", bad)
		}
	}
}

func TestSaveRoundTrips(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"config.json", "config.yaml"} {
		name := name
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := write(t, name, "{}")
			m := NewManager(path)

			cfg := &Config{
				Booking:        BookingConfig{URL: "https://example.org"},
				CredentialsDir: "./accounts",
				Accounts:       []AccountConfig{{Email: "a@example.org", Password: "p", Excluded: []string{"051003"}}},
			}
			if err := m.Save(cfg); err != nil {
				t.Fatalf("Save error: %v", err)
			}

			loaded, err := m.Parse()
			if err != nil {
				t.Fatalf("Parse after Save error: %v", err)
			}
			if loaded.Booking.URL != cfg.Booking.URL || len(loaded.Accounts) != 1 ||
				loaded.Accounts[0].Excluded[0] != "051003" {
				t.Fatalf("round trip lost data: %+v", loaded)
			}
		})
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	t.Parallel()
	m := NewManager(write(t, "config.json", "{}"))
	if err := m.Save(&Config{}); err == nil {
		t.Fatal("invalid config must not be saved")
	}
}

func TestWatchPublishesChange(t *testing.T) {
	t.Parallel()
	path := write(t, "config.json", goodJSON)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error { return Validate(cfg) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	// Let the watcher attach before writing.
	time.Sleep(100 * time.Millisecond)

	updated := `{"booking": {"url": "https://example.org/other"}, "credentials_dir": "./accounts"}`
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-sub:
		if cfg.Booking.URL != "https://example.org/other" {
			t.Fatalf("published url = %q", cfg.Booking.URL)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config change never published")
	}

	cancel()
	<-done
}
