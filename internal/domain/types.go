// Package domain contains the core entities of the lab-analysis de-identification
// gateway: raw submissions as they arrive from a signed-in user, the patient
// context used only when a report is rendered, and the stored analysis records.
//
// Identity-bearing types (RawSubmission, PatientContext) and de-identified types
// (deid.SafePayload, AnalysisRecord) are kept apart so that the compiler, not
// convention, decides what may reach the analysis provider.
package domain

import (
	"strings"
)

// Sex is the normalized sex carried in a de-identified payload.
type Sex string

const (
	SexMale    Sex = "Male"
	SexFemale  Sex = "Female"
	SexOther   Sex = "Other"
	SexUnknown Sex = "Unknown"
)

// IsValid reports whether s is one of the four normalized values.
func (s Sex) IsValid() bool {
	switch s {
	case SexMale, SexFemale, SexOther, SexUnknown:
		return true
	default:
		return false
	}
}

// NormalizeSex maps free-form input onto the closed Sex enumeration.
// Empty input is Unknown; anything unrecognized is Other.
func NormalizeSex(raw string) Sex {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return SexUnknown
	case "m", "male", "man":
		return SexMale
	case "f", "female", "woman":
		return SexFemale
	case "unknown", "u", "prefer not to say":
		return SexUnknown
	default:
		return SexOther
	}
}

// OrderStatus tracks an order through the analysis pipeline.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderAnalyzed   OrderStatus = "analyzed"
	OrderFailed     OrderStatus = "failed"
	OrderBlocked    OrderStatus = "blocked"
)

// IsValid validates the order status
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderPending, OrderProcessing, OrderAnalyzed, OrderFailed, OrderBlocked:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further pipeline work is expected for the order.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderAnalyzed || s == OrderFailed || s == OrderBlocked
}

// AnalysisFormat records whether the provider answered with the structured object.
type AnalysisFormat string

const (
	FormatJSON AnalysisFormat = "json"
	FormatText AnalysisFormat = "text"
)
