package booking

import (
	"ms-tourbooking/internal/models"
)

type Kind string

const (
	KindCommitted Kind = "committed"
	KindRejected  Kind = "rejected"
	KindFailed    Kind = "failed"
)

type Reason string

const (
	ReasonInvalidRequest      Reason = "InvalidRequest"
	ReasonDateFull            Reason = "DateFull"
	ReasonTourFull            Reason = "TourFull"
	ReasonContention          Reason = "Contention"
	ReasonLedgerInconsistency Reason = "LedgerInconsistency"
	ReasonTimeout             Reason = "Timeout"
	ReasonFailed              Reason = "Failed"
)

// Details attached to InvalidRequest outcomes.
const (
	DetailDateUnavailable = "selected date is no longer available"
	DetailDateInPast      = "selected date is in the past"
	DetailTourUnavailable = "tour is not available"
	DetailBadPartySize    = "number of people must be at least 1"
	DetailMissingIDs      = "tour and tour date are required"
)

// Outcome is the tagged result of a booking request.
type Outcome struct {
	Kind            Kind                `json:"kind"`
	Reason          Reason              `json:"reason,omitempty"`
	Detail          string              `json:"detail,omitempty"`
	Booking         *models.TourBooking `json:"booking,omitempty"`
	RemainingOnDate int                 `json:"remaining_on_date"`
	RemainingOnTour int                 `json:"remaining_on_tour"`
	Attempts        int                 `json:"attempts"`
}

func (o Outcome) Committed() bool {
	return o.Kind == KindCommitted
}

// Stale reports whether the request named a date that is no longer bookable.
func (o Outcome) Stale() bool {
	return o.Kind == KindRejected && o.Reason == ReasonInvalidRequest && o.Detail == DetailDateUnavailable
}

func rejected(reason Reason, detail string) Outcome {
	return Outcome{Kind: KindRejected, Reason: reason, Detail: detail}
}

func failed(reason Reason, detail string) Outcome {
	return Outcome{Kind: KindFailed, Reason: reason, Detail: detail}
}
