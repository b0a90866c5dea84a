package librariesio

import "errors"

// Outcome classifies a single API attempt.
type Outcome int

// Outcomes of one attempt.
const (
	OutcomeOK Outcome = iota
	OutcomeNotFound
	OutcomeRateLimited
	OutcomeTransportError
	OutcomeMalformed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Err returns the sentinel error for o, or nil for OutcomeOK.
func (o Outcome) Err() error {
	switch o {
	case OutcomeNotFound:
		return ErrNotFound
	case OutcomeRateLimited:
		return ErrRateLimited
	case OutcomeTransportError:
		return ErrTransport
	case OutcomeMalformed:
		return ErrMalformedResponse
	default:
		return nil
	}
}

// OutcomeOf recovers the Outcome from an error returned by this package.
// Anything unrecognized counts as a transport error.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrRateLimited):
		return OutcomeRateLimited
	case errors.Is(err, ErrMalformedResponse):
		return OutcomeMalformed
	default:
		return OutcomeTransportError
	}
}
