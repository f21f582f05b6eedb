package recognizer

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRecognitionTimeout marks a chunk whose last attempt ran out of time.
	ErrRecognitionTimeout = errors.New("recognition timeout")

	// ErrRecognitionFailed marks a chunk that failed for any other reason.
	ErrRecognitionFailed = errors.New("recognition failed")

	// ErrPermanent wraps backend errors that retrying cannot fix
	// (bad credentials, rejected audio).
	ErrPermanent = errors.New("permanent recognizer error")

	// ErrBackendUnavailable is returned by the fallback recognizer.
	ErrBackendUnavailable = errors.New("recognizer backend unavailable")
)

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil || errors.Is(err, ErrPermanent) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// statusError classifies an HTTP status from a backend. Client errors other
// than 408 and 429 are permanent.
func statusError(backend string, status int, body string) error {
	err := fmt.Errorf("%s: API returned status %d: %s", backend, status, body)
	if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
		return Permanent(err)
	}
	return err
}
