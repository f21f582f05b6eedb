package recognizer

import "context"

// Unavailable is the degraded-mode fallback. It fails every request at once
// and permanently, so chunks become gap markers without waiting out the
// timeout and retry budget of a dead backend.
type Unavailable struct {
	// Primary names the backend being stood in for, for error messages
	Primary string
}

// NewUnavailable returns a fallback for primary.
func NewUnavailable(primary string) *Unavailable {
	return &Unavailable{Primary: primary}
}

// Recognize always fails with ErrBackendUnavailable.
func (u *Unavailable) Recognize(ctx context.Context, req Request) (*Transcription, error) {
	if u.Primary == "" {
		return nil, Permanent(ErrBackendUnavailable)
	}
	return nil, Permanent(&unavailableError{primary: u.Primary})
}

// HealthCheck always reports unhealthy.
func (u *Unavailable) HealthCheck(ctx context.Context) (bool, error) { return false, nil }

// Name returns the backend identifier.
func (u *Unavailable) Name() string { return "unavailable" }

type unavailableError struct{ primary string }

func (e *unavailableError) Error() string { return e.primary + " is unhealthy" }
func (e *unavailableError) Unwrap() error { return ErrBackendUnavailable }
