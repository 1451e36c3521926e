package auth

import (
	"errors"
	"net/http"

	spotifyclient "github.com/zmb3/spotify/v2"
)

var (
	// ErrNoCredential means the user never authenticated, or the session is
	// fully expired with no refresh path. Callers redirect to the relay
	// login entry point.
	ErrNoCredential = errors.New("no access credential")

	// ErrRefreshFailed means a refresh was attempted and did not produce a
	// new credential. Handled exactly like ErrNoCredential: the current
	// action is fatal and the user must re-authenticate.
	ErrRefreshFailed = errors.New("credential refresh failed")
)

// statusCoder is implemented by errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

func errorStatus(err error) (int, bool) {
	var apiErr spotifyclient.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status, true
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus(), true
	}
	return 0, false
}

// IsUnauthorized reports whether err is the 401 class: an expired or invalid
// credential on an API call. This is the only class the one-retry policy
// recovers from.
func IsUnauthorized(err error) bool {
	status, ok := errorStatus(err)
	return ok && status == http.StatusUnauthorized
}

// IsRateLimited reports whether err is the 429 class. Never treated as an
// authorization failure and never retried automatically; surfaced to the
// user as a transient condition.
func IsRateLimited(err error) bool {
	status, ok := errorStatus(err)
	return ok && status == http.StatusTooManyRequests
}

// IsFatalAuth reports whether err requires full re-authentication.
func IsFatalAuth(err error) bool {
	return errors.Is(err, ErrNoCredential) || errors.Is(err, ErrRefreshFailed)
}
