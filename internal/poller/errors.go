package poller

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/raysh454/lumen/internal/client"
)

// IsTransient reports whether a status fetch error is worth retrying:
// network failures, 5xx, 429 and 408 responses. Malformed responses and
// other 4xx statuses are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var herr *client.HTTPError
	if errors.As(err, &herr) {
		return herr.StatusCode >= 500 ||
			herr.StatusCode == http.StatusTooManyRequests ||
			herr.StatusCode == http.StatusRequestTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}
