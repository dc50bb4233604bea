package probe

import "time"

// Reason classifies why a probe rejected a URL. ReasonNone accompanies
// positive outcomes.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonUnavailable
	ReasonTimeout
	ReasonInvalidLink
	ReasonEmptyAudio
	ReasonUnexpectedContent
	ReasonHTTPError
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "ok"
	case ReasonUnavailable:
		return "unavailable"
	case ReasonTimeout:
		return "timeout"
	case ReasonInvalidLink:
		return "invalid link"
	case ReasonEmptyAudio:
		return "empty audio"
	case ReasonUnexpectedContent:
		return "unexpected content"
	case ReasonHTTPError:
		return "http error"
	default:
		return "unknown"
	}
}

// Outcome is the result of one probe call. Outcomes are immutable values;
// re-probing supersedes an outcome, it never mutates one.
type Outcome struct {
	OK          bool
	Reason      Reason
	StatusCode  int // set when Reason is ReasonHTTPError
	ContentType string
	Format      string
	Length      int64
	ObservedAt  time.Time
}

// Retryable reports whether the outcome may be retried within a single
// probe call. Only timeouts are; every other rejection is terminal.
func (o Outcome) Retryable() bool {
	return !o.OK && o.Reason == ReasonTimeout
}

// AuthStale reports whether the outcome points at an expired authorization
// rather than missing or broken content.
func (o Outcome) AuthStale() bool {
	return o.Reason == ReasonHTTPError && (o.StatusCode == 401 || o.StatusCode == 403)
}
