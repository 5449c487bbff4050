package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnreachable indicates the remote authority could not be contacted.
var ErrUnreachable = errors.New("remote authority unreachable")

// ErrTimeout indicates a call did not complete within the per-call timeout.
var ErrTimeout = errors.New("remote call timed out")

// ErrInvalidRequest indicates the request could not be built, for example
// because the endpoint is not a valid path.
var ErrInvalidRequest = errors.New("invalid remote request")

// StatusError is a non-2xx response from the remote authority.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote responded with HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("remote responded with HTTP %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether retrying the same request may succeed.
func (e *StatusError) Transient() bool {
	switch {
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	}
	return false
}

// Outcome classifies the result of a remote call.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransient
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomePermanent:
		return "permanent"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Classify maps a call error onto retry policy. Network failures, timeouts
// and 5xx, 408 or 429 responses are transient. Other non-2xx responses and
// malformed requests are permanent. Any other error counts as transient, so a
// delivery is only abandoned after its retries are spent.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Transient() {
			return OutcomeTransient
		}
		return OutcomePermanent
	}
	if errors.Is(err, ErrInvalidRequest) {
		return OutcomePermanent
	}

	return OutcomeTransient
}
