package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/himecorleone/course-registration-system/internal/account"
	"github.com/himecorleone/course-registration-system/internal/browser"
	logx "github.com/himecorleone/course-registration-system/pkg/logx"
)

// fakeDriver simulates the booking site: a listing page with one booking
// button per course, a secondary booking window, and a configurable result
// page.
type fakeDriver struct {
	mu sync.Mutex

	courses []string // listed course ids, in page order
	current string
	windows []string

	resultTitle  string
	resultSource string

	noBookButton bool  // slot full: book button never appears
	noNewWindow  bool  // clicking a course opens nothing
	navErr       error // listing navigation fails
	findAllDelay time.Duration

	clicks  []string
	typed   []string
	scripts []string
	quit    bool
}

func newFakeDriver(courses ...string) *fakeDriver {
	return &fakeDriver{
		courses: courses,
		current: "home",
		windows: []string{"home"},
	}
}

type fakeElement struct {
	d    *fakeDriver
	kind string // "button", "row", "cell" or a form element name
	id   string // course id for listing elements
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error { return d.navErr }

func (d *fakeDriver) Find(ctx context.Context, loc browser.Locator) (browser.Element, error) {
	return nil, browser.ErrNoSuchElement
}

func (d *fakeDriver) FindAll(ctx context.Context, loc browser.Locator) ([]browser.Element, error) {
	if d.findAllDelay > 0 {
		time.Sleep(d.findAllDelay)
	}
	out := make([]browser.Element, 0, len(d.courses))
	for _, id := range d.courses {
		out = append(out, &fakeElement{d: d, kind: "button", id: id})
	}
	return out, nil
}

func (d *fakeDriver) WaitPresent(ctx context.Context, loc browser.Locator, timeout time.Duration) (browser.Element, error) {
	if loc == locBookButton {
		if d.noBookButton {
			return nil, browser.ErrWaitTimeout
		}
		return &fakeElement{d: d, kind: "book"}, nil
	}
	switch loc {
	case locLoginLink:
		return &fakeElement{d: d, kind: "login"}, nil
	case locEmailField:
		return &fakeElement{d: d, kind: "email"}, nil
	case locPasswordField:
		return &fakeElement{d: d, kind: "password"}, nil
	case locTermsCheckbox:
		return &fakeElement{d: d, kind: "terms"}, nil
	case locSubmitButton:
		return &fakeElement{d: d, kind: "submit"}, nil
	case locConfirmButton:
		return &fakeElement{d: d, kind: "confirm"}, nil
	}
	return nil, browser.ErrWaitTimeout
}

func (d *fakeDriver) Title(ctx context.Context) (string, error) { return d.resultTitle, nil }

func (d *fakeDriver) PageSource(ctx context.Context) (string, error) { return d.resultSource, nil }

func (d *fakeDriver) Windows(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.windows...), nil
}

func (d *fakeDriver) CurrentWindow(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, nil
}

func (d *fakeDriver) SwitchWindow(ctx context.Context, handle string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = handle
	return nil
}

func (d *fakeDriver) CloseWindow(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.windows[:0]
	for _, h := range d.windows {
		if h != d.current {
			kept = append(kept, h)
		}
	}
	d.windows = kept
	return nil
}

func (d *fakeDriver) Execute(ctx context.Context, script string, args ...any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripts = append(d.scripts, script)
	return nil
}

func (d *fakeDriver) Quit(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.quit = true
	return nil
}

func (e *fakeElement) Click(ctx context.Context) error {
	d := e.d
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clicks = append(d.clicks, e.kind)
	if e.kind == "button" && !d.noNewWindow {
		d.windows = append(d.windows, "booking")
	}
	return nil
}

func (e *fakeElement) SendKeys(ctx context.Context, text string) error {
	d := e.d
	d.mu.Lock()
	defer d.mu.Unlock()
	d.typed = append(d.typed, e.kind+":"+text)
	return nil
}

func (e *fakeElement) Text(ctx context.Context) (string, error) {
	if e.kind == "cell" {
		return " " + e.id + " ", nil // sites pad cell text with whitespace
	}
	return "", nil
}

func (e *fakeElement) Find(ctx context.Context, loc browser.Locator) (browser.Element, error) {
	switch {
	case e.kind == "button" && loc == locCourseRow:
		return &fakeElement{d: e.d, kind: "row", id: e.id}, nil
	case e.kind == "row" && loc == locCourseNumber:
		return &fakeElement{d: e.d, kind: "cell", id: e.id}, nil
	}
	return nil, browser.ErrNoSuchElement
}

func testConfig() Config {
	return Config{
		BookingURL:    "https://example.org/booking",
		ElementWait:   20 * time.Millisecond,
		PageSettle:    time.Millisecond,
		WindowSettle:  time.Millisecond,
		LoginSettle:   time.Millisecond,
		SubmitSettle:  time.Millisecond,
		ConfirmSettle: time.Millisecond,
	}
}

func newTestEngine(cfg Config, d *fakeDriver) *Engine {
	factory := func(ctx context.Context) (browser.Driver, error) { return d, nil }
	return New(cfg, factory, logx.Nop())
}

func TestRunRegistersDiscoveredCourse(t *testing.T) {
	t.Parallel()
	d := newFakeDriver("051002", "999999") // 999999 is not a known course
	d.resultTitle = confirmationTitle
	eng := newTestEngine(testConfig(), d)

	rec := account.NewRecord("a@example.org", "pw")
	outcomes, err := eng.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %+v, want exactly one", outcomes)
	}
	got := outcomes[0]
	if got.CourseID != "051002" || got.Status != StatusSuccess {
		t.Fatalf("outcome = %+v, want success for 051002", got)
	}
	if !got.Registrable() {
		t.Fatalf("success outcome must be registrable")
	}

	if !d.quit {
		t.Fatalf("browser session was not torn down")
	}
	if d.current != "home" || len(d.windows) != 1 {
		t.Fatalf("window state after run: current=%q windows=%v", d.current, d.windows)
	}
	joined := strings.Join(d.typed, "\n")
	if !strings.Contains(joined, "email:a@example.org") || !strings.Contains(joined, "password:pw") {
		t.Fatalf("credentials not entered: %q", joined)
	}
	if len(d.scripts) == 0 || !strings.Contains(d.scripts[0], "checked") {
		t.Fatalf("terms checkbox was not set: %v", d.scripts)
	}
}

func TestRunSkipsRegisteredAndExcluded(t *testing.T) {
	t.Parallel()
	d := newFakeDriver("051001", "051002", "051003")
	d.resultTitle = confirmationTitle
	eng := newTestEngine(testConfig(), d)

	rec := account.NewRecord("a@example.org", "pw")
	rec.Registered["051001"] = struct{}{}
	rec.Excluded["051003"] = struct{}{}

	outcomes, err := eng.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %+v, want two", outcomes)
	}
	if outcomes[0].CourseID != "051001" || outcomes[0].Status != StatusAlreadyRegistered {
		t.Fatalf("registered course outcome = %+v", outcomes[0])
	}
	if outcomes[1].CourseID != "051002" || outcomes[1].Status != StatusSuccess {
		t.Fatalf("open course outcome = %+v", outcomes[1])
	}
	for _, o := range outcomes {
		if o.CourseID == "051003" {
			t.Fatalf("excluded course produced an outcome: %+v", o)
		}
	}
}

// A second run after persisting a success must be a no-op on the site.
func TestRunIsIdempotentAfterMerge(t *testing.T) {
	t.Parallel()
	d := newFakeDriver("051002")
	d.resultTitle = confirmationTitle
	eng := newTestEngine(testConfig(), d)

	rec := account.NewRecord("a@example.org", "pw")
	outcomes, err := eng.Run(context.Background(), rec)
	if err != nil || len(outcomes) != 1 || outcomes[0].Status != StatusSuccess {
		t.Fatalf("first run: outcomes=%+v err=%v", outcomes, err)
	}
	rec.MarkRegistered(outcomes[0].CourseID)
	firstClicks := len(d.clicks)

	outcomes, err = eng.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("second run error: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Status != StatusAlreadyRegistered {
		t.Fatalf("second run outcomes = %+v, want already_registered", outcomes)
	}
	if len(d.clicks) != firstClicks {
		t.Fatalf("second run clicked the site: %v", d.clicks[firstClicks:])
	}
}

func TestRunReportsUnavailableWhenBookButtonMissing(t *testing.T) {
	t.Parallel()
	d := newFakeDriver("051011")
	d.noBookButton = true
	eng := newTestEngine(testConfig(), d)

	outcomes, err := eng.Run(context.Background(), account.NewRecord("a@example.org", "pw"))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Status != StatusUnavailable || outcomes[0].Reason != "no_book_button" {
		t.Fatalf("outcomes = %+v, want unavailable/no_book_button", outcomes)
	}
	if outcomes[0].Registrable() {
		t.Fatalf("unavailable outcome must not be registrable")
	}
	if d.current != "home" {
		t.Fatalf("focus not restored after unavailable course: %q", d.current)
	}
}

func TestRunClassifiesExistingSiteBooking(t *testing.T) {
	t.Parallel()
	d := newFakeDriver("051012")
	d.resultTitle = "Buchung"
	d.resultSource = "<html><body>" + alreadyBookedText + "</body></html>"
	eng := newTestEngine(testConfig(), d)

	outcomes, err := eng.Run(context.Background(), account.NewRecord("a@example.org", "pw"))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Status != StatusAlreadyRegistered || outcomes[0].Reason != "site" {
		t.Fatalf("outcomes = %+v, want already_registered/site", outcomes)
	}
	if !outcomes[0].Registrable() {
		t.Fatalf("site-confirmed booking must be registrable")
	}
}

func TestRunReportsMissingBookingWindow(t *testing.T) {
	t.Parallel()
	d := newFakeDriver("051001")
	d.noNewWindow = true
	eng := newTestEngine(testConfig(), d)

	outcomes, err := eng.Run(context.Background(), account.NewRecord("a@example.org", "pw"))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Status != StatusError || outcomes[0].Reason != "no_booking_surface" {
		t.Fatalf("outcomes = %+v, want error/no_booking_surface", outcomes)
	}
}

func TestRunSurfacesUnreachableListingPage(t *testing.T) {
	t.Parallel()
	d := newFakeDriver("051001")
	d.navErr = errors.New("connection refused")
	eng := newTestEngine(testConfig(), d)

	outcomes, err := eng.Run(context.Background(), account.NewRecord("a@example.org", "pw"))
	if !errors.Is(err, ErrPageUnavailable) {
		t.Fatalf("err = %v, want ErrPageUnavailable", err)
	}
	if len(outcomes) != 0 {
		t.Fatalf("outcomes = %+v, want none", outcomes)
	}
	if !d.quit {
		t.Fatalf("browser session was not torn down")
	}
}

func TestRunMarksRemainingCoursesOnBudgetExpiry(t *testing.T) {
	t.Parallel()
	d := newFakeDriver("051001", "051002")
	d.findAllDelay = 80 * time.Millisecond // discovery eats the whole budget
	cfg := testConfig()
	cfg.Budget = 40 * time.Millisecond
	eng := newTestEngine(cfg, d)

	rec := account.NewRecord("a@example.org", "pw")
	rec.Registered["051001"] = struct{}{}

	outcomes, err := eng.Run(context.Background(), rec)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %+v, want two", outcomes)
	}
	if outcomes[0].CourseID != "051001" || outcomes[0].Status != StatusAlreadyRegistered {
		t.Fatalf("registered course after expiry = %+v", outcomes[0])
	}
	if outcomes[1].CourseID != "051002" || outcomes[1].Status != StatusError || outcomes[1].Reason != "timeout" {
		t.Fatalf("open course after expiry = %+v", outcomes[1])
	}
	if !d.quit {
		t.Fatalf("browser session was not torn down after expiry")
	}
}

func TestStatusString(t *testing.T) {
	t.Parallel()
	cases := map[Status]string{
		StatusSuccess:           "success",
		StatusAlreadyRegistered: "already_registered",
		StatusUnavailable:       "unavailable",
		StatusError:             "error",
		Status(42):              "status(42)",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
