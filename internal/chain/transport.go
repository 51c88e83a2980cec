package chain

import (
	"fmt"
	"net/http"

	"github.com/matrixise/chain-portfolio/internal/errdefs"
)

// TransportError classifies an HTTP round-trip failure (dial errors,
// timeouts, connection resets) as transient.
func TransportError(err error, format string, args ...any) error {
	return errdefs.Wrap(errdefs.KindTransient, err, format, args...)
}

// StatusError converts a non-2xx response into an error: 5xx responses
// are transient, anything else is a hard failure of the request itself.
func StatusError(status int, endpoint string) error {
	if status >= http.StatusInternalServerError {
		return errdefs.New(errdefs.KindTransient, "%s returned status %d", endpoint, status)
	}
	return fmt.Errorf("%s returned status %d", endpoint, status)
}
