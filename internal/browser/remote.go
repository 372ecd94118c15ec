package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "github.com/himecorleone/course-registration-system/pkg/logx"
)

// W3C WebDriver element identifier key.
const webElementKey = "element-6066-11e4-a52e-4f735466cecf"

const defaultPollInterval = 250 * time.Millisecond

// RemoteConfig configures the WebDriver wire-protocol client.
type RemoteConfig struct {
	// URL of the driver endpoint, e.g. "http://127.0.0.1:4444".
	URL      string
	Browser  string // default "firefox"
	Headless bool

	// PageLoadTimeout is pushed to the driver session (the booking site can
	// be very slow around registration openings).
	PageLoadTimeout time.Duration
	// HTTPTimeout bounds each protocol round-trip.
	HTTPTimeout time.Duration
	// RatePerSec limits protocol calls against the driver; 0 disables.
	RatePerSec int
}

func (c RemoteConfig) withDefaults() RemoteConfig {
	if c.URL == "" {
		c.URL = "http://127.0.0.1:4444"
	}
	if c.Browser == "" {
		c.Browser = "firefox"
	}
	if c.PageLoadTimeout <= 0 {
		c.PageLoadTimeout = 5 * time.Minute
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	return c
}

// Remote drives one browser session over the W3C WebDriver protocol.
type Remote struct {
	base    string
	session string

	hc      *http.Client
	limiter *rate.Limiter
	log     logx.Logger

	pollInterval time.Duration
}

// Connect creates a driver session, retrying up to three times with
// progressive sleep (driver startup is flaky on constrained hosts).
func Connect(ctx context.Context, cfg RemoteConfig, log logx.Logger) (*Remote, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		r, err := NewRemote(ctx, cfg, log)
		if err == nil {
			return r, nil
		}
		lastErr = err
		if attempt < 3 {
			sleep := time.Duration(attempt) * 2 * time.Second
			if !log.IsZero() {
				log.Warn("webdriver session failed; retrying",
					logx.Int("attempt", attempt), logx.Duration("sleep", sleep), logx.Err(err))
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sleep):
			}
		}
	}
	return nil, fmt.Errorf("webdriver session after 3 attempts: %w", lastErr)
}

// NewRemote creates a single driver session without retries.
func NewRemote(ctx context.Context, cfg RemoteConfig, log logx.Logger) (*Remote, error) {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}

	r := &Remote{
		base:         strings.TrimRight(cfg.URL, "/"),
		hc:           &http.Client{Timeout: cfg.HTTPTimeout},
		log:          log,
		pollInterval: defaultPollInterval,
	}
	if cfg.RatePerSec > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}

	caps := map[string]any{"browserName": cfg.Browser}
	if cfg.Browser == "firefox" {
		opts := map[string]any{}
		if cfg.Headless {
			opts["args"] = []string{"-headless"}
		}
		caps["moz:firefoxOptions"] = opts
	}

	var created struct {
		SessionID string `json:"sessionId"`
	}
	err := r.do(ctx, http.MethodPost, "/session", map[string]any{
		"capabilities": map[string]any{"alwaysMatch": caps},
	}, &created)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if created.SessionID == "" {
		return nil, errors.New("create session: empty session id")
	}
	r.session = created.SessionID

	if err := r.do(ctx, http.MethodPost, r.path("/timeouts"), map[string]any{
		"pageLoad": cfg.PageLoadTimeout.Milliseconds(),
	}, nil); err != nil {
		r.log.Warn("set page load timeout failed", logx.Err(err))
	}

	r.log.Debug("webdriver session created", logx.String("session", r.session))
	return r, nil
}

func (r *Remote) path(suffix string) string {
	return "/session/" + r.session + suffix
}

func (r *Remote) Navigate(ctx context.Context, url string) error {
	return r.do(ctx, http.MethodPost, r.path("/url"), map[string]any{"url": url}, nil)
}

func (r *Remote) Find(ctx context.Context, loc Locator) (Element, error) {
	var v map[string]string
	err := r.do(ctx, http.MethodPost, r.path("/element"), locatorBody(loc), &v)
	if err != nil {
		return nil, err
	}
	return r.element(v, loc)
}

func (r *Remote) FindAll(ctx context.Context, loc Locator) ([]Element, error) {
	var vs []map[string]string
	err := r.do(ctx, http.MethodPost, r.path("/elements"), locatorBody(loc), &vs)
	if err != nil {
		return nil, err
	}
	out := make([]Element, 0, len(vs))
	for _, v := range vs {
		el, err := r.element(v, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, el)
	}
	return out, nil
}

func (r *Remote) WaitPresent(ctx context.Context, loc Locator, timeout time.Duration) (Element, error) {
	deadline := time.Now().Add(timeout)
	for {
		el, err := r.Find(ctx, loc)
		if err == nil {
			return el, nil
		}
		if !errors.Is(err, ErrNoSuchElement) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w after %s: %s", ErrWaitTimeout, timeout, loc)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}
}

func (r *Remote) Title(ctx context.Context) (string, error) {
	var v string
	err := r.do(ctx, http.MethodGet, r.path("/title"), nil, &v)
	return v, err
}

func (r *Remote) PageSource(ctx context.Context) (string, error) {
	var v string
	err := r.do(ctx, http.MethodGet, r.path("/source"), nil, &v)
	return v, err
}

func (r *Remote) Windows(ctx context.Context) ([]string, error) {
	var v []string
	err := r.do(ctx, http.MethodGet, r.path("/window/handles"), nil, &v)
	return v, err
}

func (r *Remote) CurrentWindow(ctx context.Context) (string, error) {
	var v string
	err := r.do(ctx, http.MethodGet, r.path("/window"), nil, &v)
	return v, err
}

func (r *Remote) SwitchWindow(ctx context.Context, handle string) error {
	return r.do(ctx, http.MethodPost, r.path("/window"), map[string]any{"handle": handle}, nil)
}

func (r *Remote) CloseWindow(ctx context.Context) error {
	return r.do(ctx, http.MethodDelete, r.path("/window"), nil, nil)
}

func (r *Remote) Execute(ctx context.Context, script string, args ...any) error {
	wire := make([]any, 0, len(args))
	for _, a := range args {
		if el, ok := a.(*remoteElement); ok {
			wire = append(wire, map[string]string{webElementKey: el.id})
			continue
		}
		wire = append(wire, a)
	}
	return r.do(ctx, http.MethodPost, r.path("/execute/sync"), map[string]any{
		"script": script,
		"args":   wire,
	}, nil)
}

func (r *Remote) Quit(ctx context.Context) error {
	if r.session == "" {
		return nil
	}
	err := r.do(ctx, http.MethodDelete, r.path(""), nil, nil)
	r.session = ""
	return err
}

func (r *Remote) element(v map[string]string, loc Locator) (Element, error) {
	id := v[webElementKey]
	if id == "" {
		return nil, fmt.Errorf("malformed element reference for %s", loc)
	}
	return &remoteElement{r: r, id: id}, nil
}

// ---- element handle ----

type remoteElement struct {
	r  *Remote
	id string
}

func (e *remoteElement) epath(suffix string) string {
	return e.r.path("/element/" + e.id + suffix)
}

func (e *remoteElement) Click(ctx context.Context) error {
	return e.r.do(ctx, http.MethodPost, e.epath("/click"), map[string]any{}, nil)
}

func (e *remoteElement) SendKeys(ctx context.Context, text string) error {
	return e.r.do(ctx, http.MethodPost, e.epath("/value"), map[string]any{"text": text}, nil)
}

func (e *remoteElement) Text(ctx context.Context) (string, error) {
	var v string
	err := e.r.do(ctx, http.MethodGet, e.epath("/text"), nil, &v)
	return v, err
}

func (e *remoteElement) Find(ctx context.Context, loc Locator) (Element, error) {
	var v map[string]string
	err := e.r.do(ctx, http.MethodPost, e.epath("/element"), locatorBody(loc), &v)
	if err != nil {
		return nil, err
	}
	return e.r.element(v, loc)
}

// ---- wire plumbing ----

func locatorBody(loc Locator) map[string]any {
	return map[string]any{"using": string(loc.Strategy), "value": loc.Value}
}

type wireError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// do performs one protocol round-trip and decodes value into out (if non-nil).
func (r *Remote) do(ctx context.Context, method, path string, body any, out any) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.base+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := r.hc.Do(req)
	if err != nil {
		return fmt.Errorf("webdriver %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("webdriver %s %s: read response: %w", method, path, err)
	}

	var envelope struct {
		Value json.RawMessage `json:"value"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return fmt.Errorf("webdriver %s %s: malformed response: %w", method, path, err)
		}
	}

	if resp.StatusCode >= 400 {
		var we wireError
		_ = json.Unmarshal(envelope.Value, &we)
		return mapWireError(we, resp.StatusCode)
	}

	if out != nil && len(envelope.Value) > 0 {
		if err := json.Unmarshal(envelope.Value, out); err != nil {
			return fmt.Errorf("webdriver %s %s: decode value: %w", method, path, err)
		}
	}
	return nil
}

func mapWireError(we wireError, status int) error {
	switch we.Error {
	case "no such element":
		return fmt.Errorf("%w: %s", ErrNoSuchElement, we.Message)
	case "no such window":
		return fmt.Errorf("%w: %s", ErrNoWindow, we.Message)
	case "timeout":
		return fmt.Errorf("%w: %s", ErrWaitTimeout, we.Message)
	}
	if we.Error == "" {
		return fmt.Errorf("webdriver error: http %d", status)
	}
	return fmt.Errorf("webdriver error %q: %s", we.Error, we.Message)
}
