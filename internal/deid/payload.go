package deid

import (
	"encoding/json"
	"fmt"

	"github.com/labsight/deidgate/internal/domain"
)

// Analyte is a lab reading in a de-identified payload. Value is always finite.
type Analyte struct {
	Test  string  `json:"test"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
	Ref   string  `json:"ref,omitempty"`
}

// SafePayload is the only value the analysis invoker accepts. Its fields are
// unexported and the Gate is its only constructor, so a payload in hand has
// passed PHI scanning.
type SafePayload struct {
	patientID string
	ageBucket AgeBucket
	sex       domain.Sex
	labs      []Analyte
	context   map[string]string
}

// PatientID returns the per-request pseudonym.
func (p *SafePayload) PatientID() string { return p.patientID }

// AgeBucket returns the coarse age range.
func (p *SafePayload) AgeBucket() AgeBucket { return p.ageBucket }

// Sex returns the normalized sex.
func (p *SafePayload) Sex() domain.Sex { return p.sex }

// LabCount returns the number of readings carried.
func (p *SafePayload) LabCount() int { return len(p.labs) }

// Labs returns a copy of the readings.
func (p *SafePayload) Labs() []Analyte {
	out := make([]Analyte, len(p.labs))
	copy(out, p.labs)
	return out
}

// Context returns a copy of the context map, or nil.
func (p *SafePayload) Context() map[string]string {
	if p.context == nil {
		return nil
	}
	out := make(map[string]string, len(p.context))
	for k, v := range p.context {
		out[k] = v
	}
	return out
}

type payloadJSON struct {
	PatientID string            `json:"patient_id"`
	AgeBucket AgeBucket         `json:"age_bucket"`
	Sex       domain.Sex        `json:"sex"`
	Labs      []Analyte         `json:"labs"`
	Context   map[string]string `json:"context,omitempty"`
}

// MarshalJSON writes the wire form sent to the analysis provider.
func (p *SafePayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(payloadJSON{
		PatientID: p.patientID,
		AgeBucket: p.ageBucket,
		Sex:       p.sex,
		Labs:      p.labs,
		Context:   p.context,
	})
}

// PayloadView is a read-only decoding of a stored payload, used by the
// renderer. It cannot be turned back into a SafePayload.
type PayloadView struct {
	PatientID string            `json:"patient_id"`
	AgeBucket AgeBucket         `json:"age_bucket"`
	Sex       domain.Sex        `json:"sex"`
	Labs      []Analyte         `json:"labs"`
	Context   map[string]string `json:"context,omitempty"`
}

// ParsePayloadView decodes a stored payload.
func ParsePayloadView(raw []byte) (*PayloadView, error) {
	var v PayloadView
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode stored payload: %w", err)
	}
	return &v, nil
}
