package reconcile

import (
	"strings"

	"github.com/md-rashed-zaman/slotledger/services/booking-service/internal/model"
)

// Policy decides what happens when a payment already in one terminal status
// is told to move to a different terminal status.
type Policy string

const (
	PolicyStrict         Policy = "strict"
	PolicyLastWriterWins Policy = "last_writer_wins"
)

func ParsePolicy(raw string) (Policy, bool) {
	switch Policy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyStrict:
		return PolicyStrict, true
	case PolicyLastWriterWins:
		return PolicyLastWriterWins, true
	default:
		return "", false
	}
}

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeNoop      Outcome = "noop"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeRejected  Outcome = "rejected"
	OutcomeDuplicate Outcome = "duplicate"
)

// MapStatus translates a gateway status string to a target status.
func MapStatus(raw string) (model.PaymentStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "paid":
		return model.PaymentPaid, true
	case "cancel", "cancelled", "canceled":
		return model.PaymentCancelled, true
	case "fail", "failed":
		return model.PaymentFailed, true
	default:
		return "", false
	}
}

// Decide is the transition table keyed by (current, target):
//
//	current == target          -> noop
//	pending -> terminal        -> applied
//	terminal -> other terminal -> rejected (strict) or applied (last_writer_wins)
func Decide(current, target model.PaymentStatus, policy Policy) Outcome {
	switch {
	case current == target:
		return OutcomeNoop
	case !current.Terminal():
		return OutcomeApplied
	case policy == PolicyLastWriterWins:
		return OutcomeApplied
	default:
		return OutcomeRejected
	}
}
