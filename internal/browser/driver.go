// Package browser is the boundary to the automated-browser capability the
// workflow engine drives. The site offers no API, only a server-rendered UI
// with asynchronous window transitions, so every call here is fallible and
// every wait is bounded by a timeout.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoSuchElement means a locator matched nothing.
	ErrNoSuchElement = errors.New("no such element")
	// ErrWaitTimeout means an element did not appear within its bounded wait.
	ErrWaitTimeout = errors.New("wait timed out")
	// ErrNoWindow means an expected window/surface never appeared.
	ErrNoWindow = errors.New("window did not appear")
)

// Strategy selects how a Locator value is interpreted.
type Strategy string

const (
	ByCSS   Strategy = "css selector"
	ByXPath Strategy = "xpath"
)

// Locator addresses elements on the current page.
type Locator struct {
	Strategy Strategy
	Value    string
}

func CSS(v string) Locator   { return Locator{Strategy: ByCSS, Value: v} }
func XPath(v string) Locator { return Locator{Strategy: ByXPath, Value: v} }

func (l Locator) String() string { return string(l.Strategy) + "=" + l.Value }

// Element is a handle to one element on the current page.
type Element interface {
	Click(ctx context.Context) error
	SendKeys(ctx context.Context, text string) error
	Text(ctx context.Context) (string, error)
	// Find resolves a locator relative to this element (e.g. an
	// ancestor/descendant XPath).
	Find(ctx context.Context, loc Locator) (Element, error)
}

// Driver is the external automated-browser capability.
//
// Implementations must treat the underlying browser as unreliable: bounded
// waits, clear timeout errors, and no panics on protocol failures.
type Driver interface {
	Navigate(ctx context.Context, url string) error

	Find(ctx context.Context, loc Locator) (Element, error)
	FindAll(ctx context.Context, loc Locator) ([]Element, error)
	// WaitPresent polls for the locator until it resolves or the timeout
	// elapses; a miss is reported as ErrWaitTimeout.
	WaitPresent(ctx context.Context, loc Locator, timeout time.Duration) (Element, error)

	Title(ctx context.Context) (string, error)
	PageSource(ctx context.Context) (string, error)

	Windows(ctx context.Context) ([]string, error)
	CurrentWindow(ctx context.Context) (string, error)
	SwitchWindow(ctx context.Context, handle string) error
	// CloseWindow closes the current window; the caller must switch back
	// to a surviving handle afterwards.
	CloseWindow(ctx context.Context) error

	// Execute runs a script in the page. Element arguments are translated
	// to protocol references by the implementation.
	Execute(ctx context.Context, script string, args ...any) error

	Quit(ctx context.Context) error
}
