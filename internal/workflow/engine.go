// Package workflow drives one automated-browser session through the
// multi-step registration flow of the booking site, one course at a time.
//
// The site is a server-rendered UI with asynchronous window transitions and
// no completion events, so the flow leans on bounded waits and fixed settle
// delays. That is inherent to the surface, not something to optimize away.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/himecorleone/course-registration-system/internal/account"
	"github.com/himecorleone/course-registration-system/internal/browser"
	"github.com/himecorleone/course-registration-system/internal/calendar"
	logx "github.com/himecorleone/course-registration-system/pkg/logx"
)

// Result-page markers of the booking site.
const (
	confirmationTitle = "Bestätigung"
	alreadyBookedText = "Ihre Buchung konnte nicht ausgeführt werden."
)

// Page locators.
var (
	locCourseButtons = browser.CSS(".bs_btn_vormerkliste")
	locCourseRow     = browser.XPath("./ancestor::tr")
	locCourseNumber  = browser.CSS(".bs_sknr")
	locBookButton    = browser.XPath(`//input[@value="buchen"]`)
	locLoginLink     = browser.CSS("#bs_pw_anmlink")
	locEmailField    = browser.CSS(`input[name="pw_email"]`)
	locPasswordField = browser.CSS(`input[type="password"]`)
	locTermsCheckbox = browser.CSS(`input[type="checkbox"]`)
	locSubmitButton  = browser.CSS("#bs_submit")
	locConfirmButton = browser.CSS(`input[type="submit"]`)
)

// WebDriver "Enter" key code.
const keyEnter = "\ue007"

// ErrPageUnavailable means the run died before any course could be tried:
// the listing page did not load or could not be read.
var ErrPageUnavailable = errors.New("booking page unavailable")

// Config controls one engine instance. The defaults are the settle/wait
// constants the booking site is known to need.
type Config struct {
	BookingURL string

	// Budget is the hard wall-clock limit for a whole run; courses not yet
	// resolved when it expires are reported as Error("timeout").
	Budget time.Duration

	ElementWait   time.Duration // bounded wait for any expected element
	PageSettle    time.Duration // after initial navigation
	WindowSettle  time.Duration // for the booking window to appear
	LoginSettle   time.Duration // after submitting credentials
	SubmitSettle  time.Duration // after submitting the registration
	ConfirmSettle time.Duration // after the final confirmation
}

func (c Config) withDefaults() Config {
	if c.Budget <= 0 {
		c.Budget = 15 * time.Minute
	}
	if c.ElementWait <= 0 {
		c.ElementWait = 10 * time.Second
	}
	if c.PageSettle <= 0 {
		c.PageSettle = 4 * time.Second
	}
	if c.WindowSettle <= 0 {
		c.WindowSettle = 4 * time.Second
	}
	if c.LoginSettle <= 0 {
		c.LoginSettle = 10 * time.Second
	}
	if c.SubmitSettle <= 0 {
		c.SubmitSettle = 10 * time.Second
	}
	if c.ConfirmSettle <= 0 {
		c.ConfirmSettle = 5 * time.Second
	}
	return c
}

// DriverFactory opens a fresh browser session for one run.
type DriverFactory func(ctx context.Context) (browser.Driver, error)

// Engine runs registration attempts for one account at a time.
type Engine struct {
	cfg       Config
	newDriver DriverFactory
	log       logx.Logger
}

func New(cfg Config, newDriver DriverFactory, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{cfg: cfg.withDefaults(), newDriver: newDriver, log: log}
}

// candidate is one bookable entry discovered on the listing page.
type candidate struct {
	idx int // position among the listing's booking buttons
	id  string
}

// Run performs one full workflow attempt across all discoverable courses.
//
// Per-course failures are classified into outcomes and never abort the
// batch. Only two things propagate as an error: driver initialization
// failure and a listing page that never loaded (ErrPageUnavailable). The
// browser session is always torn down, including on budget expiry.
func (e *Engine) Run(ctx context.Context, rec *account.Record) ([]Outcome, error) {
	started := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Budget)
	defer cancel()

	drv, err := e.newDriver(runCtx)
	if err != nil {
		return nil, err
	}
	defer func() {
		// Teardown must run even after the budget expired.
		quitCtx, quitCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer quitCancel()
		if err := drv.Quit(quitCtx); err != nil {
			e.log.Warn("browser session teardown failed", logx.Err(err))
		}
		e.log.Info("workflow attempt finished", logx.Duration("took", time.Since(started)))
	}()

	e.log.Info("navigating to booking page", logx.String("url", e.cfg.BookingURL))
	if err := drv.Navigate(runCtx, e.cfg.BookingURL); err != nil {
		e.log.Error("booking page unreachable", logx.Err(err))
		return nil, fmt.Errorf("%w: navigate: %w", ErrPageUnavailable, err)
	}
	if err := settle(runCtx, e.cfg.PageSettle); err != nil {
		return nil, fmt.Errorf("%w: page settle: %w", ErrPageUnavailable, err)
	}

	home, err := drv.CurrentWindow(runCtx)
	if err != nil {
		e.log.Error("cannot determine primary window", logx.Err(err))
		return nil, fmt.Errorf("%w: primary window: %w", ErrPageUnavailable, err)
	}

	candidates, err := e.discover(runCtx, drv)
	if err != nil {
		e.log.Error("course discovery failed", logx.Err(err))
		return nil, fmt.Errorf("%w: discover: %w", ErrPageUnavailable, err)
	}
	e.log.Info("courses available for registration", logx.Int("count", len(candidates)))

	outcomes := make([]Outcome, 0, len(candidates))
	for i, cand := range candidates {
		if runCtx.Err() != nil {
			e.log.Warn("run budget exceeded; aborting remaining courses",
				logx.Int("remaining", len(candidates)-i))
			for _, rest := range candidates[i:] {
				if rec.IsExcluded(rest.id) {
					continue
				}
				if rec.IsRegistered(rest.id) {
					outcomes = append(outcomes, Outcome{CourseID: rest.id, Status: StatusAlreadyRegistered, Reason: "recorded"})
					continue
				}
				outcomes = append(outcomes, Outcome{CourseID: rest.id, Status: StatusError, Reason: "timeout"})
			}
			break
		}

		if rec.IsExcluded(cand.id) {
			e.log.Info("skipping excluded course",
				logx.String("course", cand.id), logx.String("slot", calendar.Label(cand.id)))
			continue
		}
		if rec.IsRegistered(cand.id) {
			e.log.Info("skipping already registered course",
				logx.String("course", cand.id), logx.String("slot", calendar.Label(cand.id)))
			outcomes = append(outcomes, Outcome{CourseID: cand.id, Status: StatusAlreadyRegistered, Reason: "recorded"})
			continue
		}

		outcomes = append(outcomes, e.attemptCourse(runCtx, drv, home, cand, rec))
	}

	return outcomes, nil
}

// discover enumerates bookable entries and maps them to course ids via the
// course-number cell in their table row. Unmapped entries are skipped.
func (e *Engine) discover(ctx context.Context, drv browser.Driver) ([]candidate, error) {
	buttons, err := drv.FindAll(ctx, locCourseButtons)
	if err != nil {
		return nil, err
	}

	out := make([]candidate, 0, len(buttons))
	for i, btn := range buttons {
		row, err := btn.Find(ctx, locCourseRow)
		if err != nil {
			e.log.Warn("course row lookup failed", logx.Int("idx", i), logx.Err(err))
			continue
		}
		cell, err := row.Find(ctx, locCourseNumber)
		if err != nil {
			e.log.Warn("course number cell missing", logx.Int("idx", i), logx.Err(err))
			continue
		}
		id, err := cell.Text(ctx)
		if err != nil {
			e.log.Warn("course number unreadable", logx.Int("idx", i), logx.Err(err))
			continue
		}
		id = strings.TrimSpace(id)
		if _, known := calendar.Lookup(id); !known {
			e.log.Warn("unknown course listed; skipping", logx.String("course", id))
			continue
		}
		e.log.Info("found course", logx.String("course", id), logx.String("slot", calendar.Label(id)))
		out = append(out, candidate{idx: i, id: id})
	}
	return out, nil
}

// attemptCourse runs the open/authenticate/confirm/classify steps for one
// course. The secondary window is closed and focus restored on every path.
func (e *Engine) attemptCourse(ctx context.Context, drv browser.Driver, home string, cand candidate, rec *account.Record) (out Outcome) {
	log := e.log.With(logx.String("course", cand.id), logx.String("slot", calendar.Label(cand.id)))
	log.Info("attempting registration")

	defer func() {
		e.restoreHome(drv, home)
		if out.Status == StatusError {
			log.Error("course attempt failed", logx.String("step", out.Reason))
		}
	}()

	fail := func(step string, err error) Outcome {
		log.Warn("workflow step failed", logx.String("step", step), logx.Err(err))
		return Outcome{CourseID: cand.id, Status: StatusError, Reason: step}
	}

	// The listing may have been re-rendered since discovery; refetch the
	// button at the recorded position.
	buttons, err := drv.FindAll(ctx, locCourseButtons)
	if err != nil {
		return fail("discover", err)
	}
	if cand.idx >= len(buttons) {
		log.Error("course button disappeared from listing",
			logx.Int("idx", cand.idx), logx.Int("count", len(buttons)))
		return Outcome{CourseID: cand.id, Status: StatusError, Reason: "listing_changed"}
	}
	if err := buttons[cand.idx].Click(ctx); err != nil {
		return fail("open", err)
	}

	// Open: a new booking window must appear within a bounded wait.
	booking, err := waitNewWindow(ctx, drv, home, e.cfg.WindowSettle+e.cfg.ElementWait)
	if err != nil {
		return fail("no_booking_surface", err)
	}
	if err := drv.SwitchWindow(ctx, booking); err != nil {
		return fail("no_booking_surface", err)
	}

	// The book button is absent when the slot has no free places.
	book, err := drv.WaitPresent(ctx, locBookButton, e.cfg.ElementWait)
	if err != nil {
		log.Info("no booking possible", logx.Err(err))
		return Outcome{CourseID: cand.id, Status: StatusUnavailable, Reason: "no_book_button"}
	}
	if err := book.Click(ctx); err != nil {
		return fail("book", err)
	}

	// Authenticate.
	loginLink, err := drv.WaitPresent(ctx, locLoginLink, e.cfg.ElementWait)
	if err != nil {
		return fail("open_login", err)
	}
	if err := loginLink.Click(ctx); err != nil {
		return fail("open_login", err)
	}
	email, err := drv.WaitPresent(ctx, locEmailField, e.cfg.ElementWait)
	if err != nil {
		return fail("login_form", err)
	}
	if err := email.SendKeys(ctx, rec.Email); err != nil {
		return fail("login_form", err)
	}
	password, err := drv.WaitPresent(ctx, locPasswordField, e.cfg.ElementWait)
	if err != nil {
		return fail("login_form", err)
	}
	if err := password.SendKeys(ctx, rec.Password); err != nil {
		return fail("login_form", err)
	}
	if err := password.SendKeys(ctx, keyEnter); err != nil {
		return fail("login_submit", err)
	}
	// The login transition emits no completion signal; wait it out.
	if err := settle(ctx, e.cfg.LoginSettle); err != nil {
		return Outcome{CourseID: cand.id, Status: StatusError, Reason: "timeout"}
	}

	// Confirm: terms checkbox, submit, final confirmation.
	terms, err := drv.WaitPresent(ctx, locTermsCheckbox, e.cfg.ElementWait)
	if err != nil {
		return fail("terms", err)
	}
	if err := drv.Execute(ctx, "arguments[0].checked = true;", terms); err != nil {
		return fail("terms", err)
	}
	submit, err := drv.WaitPresent(ctx, locSubmitButton, e.cfg.ElementWait)
	if err != nil {
		return fail("submit", err)
	}
	if err := submit.Click(ctx); err != nil {
		return fail("submit", err)
	}
	if err := settle(ctx, e.cfg.SubmitSettle); err != nil {
		return Outcome{CourseID: cand.id, Status: StatusError, Reason: "timeout"}
	}
	confirm, err := drv.WaitPresent(ctx, locConfirmButton, e.cfg.ElementWait)
	if err != nil {
		return fail("confirm", err)
	}
	if err := confirm.Click(ctx); err != nil {
		return fail("confirm", err)
	}
	if err := settle(ctx, e.cfg.ConfirmSettle); err != nil {
		return Outcome{CourseID: cand.id, Status: StatusError, Reason: "timeout"}
	}

	return e.classify(ctx, drv, cand.id, log)
}

// classify inspects the result page after the final confirmation.
func (e *Engine) classify(ctx context.Context, drv browser.Driver, courseID string, log logx.Logger) Outcome {
	title, err := drv.Title(ctx)
	if err != nil {
		log.Warn("result title unreadable", logx.Err(err))
		return Outcome{CourseID: courseID, Status: StatusError, Reason: "classify"}
	}
	if title == confirmationTitle {
		log.Info("successfully registered")
		return Outcome{CourseID: courseID, Status: StatusSuccess}
	}

	source, err := drv.PageSource(ctx)
	if err != nil {
		log.Warn("result page unreadable", logx.Err(err))
		return Outcome{CourseID: courseID, Status: StatusError, Reason: "classify"}
	}
	if strings.Contains(source, alreadyBookedText) {
		log.Info("booking already exists for this course")
		return Outcome{CourseID: courseID, Status: StatusAlreadyRegistered, Reason: "site"}
	}

	log.Error("unknown registration status",
		logx.String("title", title), logx.String("snapshot", truncate(source, 1000)))
	return Outcome{CourseID: courseID, Status: StatusError, Reason: "unknown_status"}
}

// restoreHome closes the secondary window (if focused) and returns to the
// primary one. Best-effort; runs on every attempt exit path.
func (e *Engine) restoreHome(drv browser.Driver, home string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cur, err := drv.CurrentWindow(ctx)
	if err == nil && cur != home {
		if err := drv.CloseWindow(ctx); err != nil {
			e.log.Warn("closing booking window failed", logx.Err(err))
		}
	}
	if err := drv.SwitchWindow(ctx, home); err != nil {
		e.log.Warn("switching back to primary window failed", logx.Err(err))
	}
}

// waitNewWindow polls for a window handle other than home.
func waitNewWindow(ctx context.Context, drv browser.Driver, home string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		handles, err := drv.Windows(ctx)
		if err != nil {
			return "", err
		}
		for _, h := range handles {
			if h != home {
				return h, nil
			}
		}
		if time.Now().After(deadline) {
			return "", browser.ErrNoWindow
		}
		if err := settle(ctx, 250*time.Millisecond); err != nil {
			return "", err
		}
	}
}

// settle waits a fixed delay, honoring cancellation.
func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	return s[:maxN] + "..."
}
