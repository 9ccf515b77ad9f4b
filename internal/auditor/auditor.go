// Package auditor runs accessibility audits against a URL.
//
// The default runner drives headless Chrome through chromedp and evaluates
// axe-core in the page. A static runner that fetches the HTML and checks a
// small rule set with goquery is available where no browser is installed.
package auditor

import (
	"context"
	"errors"
	"fmt"

	"github.com/raysh454/lumen/internal/model"
)

// Runner audits one URL. Implementations must be safe for concurrent use.
type Runner interface {
	Audit(ctx context.Context, url string) (*model.AuditReport, error)
	Close() error
}

// ErrMalformed is returned when the audit engine produced output that cannot
// be scored. It is retried like any other audit failure unless wrapped in a
// permanent Error.
var ErrMalformed = errors.New("auditor: malformed audit output")

// Error is an audit failure for a URL. Permanent failures (client errors,
// non-HTML targets) should not be retried.
type Error struct {
	URL       string
	Err       error
	Permanent bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("audit %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsPermanent reports whether err is an audit failure that retrying cannot fix.
func IsPermanent(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Permanent
}

func fail(url string, err error, permanent bool) error {
	return &Error{URL: url, Err: err, Permanent: permanent}
}
