package browser

import (
	"errors"
	"time"
)

var (
	ErrNotInitialized  = errors.New("browser session not initialized")
	ErrSessionClosed   = errors.New("browser session closed")
	ErrElementNotFound = errors.New("element not found")
	ErrTimeout         = errors.New("browser operation timed out")
)

// WaitOptions controls WaitFor. Visible waits for the element to be visible,
// otherwise attachment to the DOM is enough.
type WaitOptions struct {
	Timeout time.Duration
	Visible bool
}

// Page is one tab of the browser session. A Page is used by one task at a
// time and must be closed by whoever acquired it.
type Page interface {
	Goto(url string, timeout time.Duration) error
	Reload(timeout time.Duration) error
	WaitFor(selector string, opts WaitOptions) error

	// Text returns the rendered text of the first element matching selector.
	Text(selector string) (string, error)
	Click(selector string, timeout time.Duration) error

	// Attributes returns the named attribute of every element matching
	// selector, in document order.
	Attributes(selector, name string) ([]string, error)

	Evaluate(expression string, args ...any) (any, error)
	Content() (string, error)
	URL() string
	Close() error
}
