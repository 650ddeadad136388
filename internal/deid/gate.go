package deid

import (
	"fmt"

	"github.com/labsight/deidgate/internal/domain"
	"github.com/labsight/deidgate/internal/phi"
)

// BlockedReason is the fixed reason attached to every blocked decision.
const BlockedReason = "PHI detected in free text or top-level fields"

// Truncation limits, in runes.
const (
	maxTestRunes = 120
	maxUnitRunes = 32
	maxRefRunes  = 64
)

// Decision is the outcome of evaluating a submission: *Blocked or *Passed.
type Decision interface {
	decision()
}

// Blocked means identifiers were found; nothing may be sent onward.
type Blocked struct {
	Reason     string
	Categories phi.CategorySet
}

// Passed carries the de-identified payload.
type Passed struct {
	Payload *SafePayload
}

func (*Blocked) decision() {}
func (*Passed) decision()  {}

// Gate decides whether a submission may be de-identified. It holds no
// per-request state and is safe for concurrent use.
type Gate struct {
	pseudonyms PseudonymGenerator
}

// NewGate creates a gate that mints pseudonyms with g.
func NewGate(g PseudonymGenerator) *Gate {
	return &Gate{pseudonyms: g}
}

// Evaluate validates, scans and de-identifies sub. A blocked submission is a
// *Blocked decision, not an error. Errors are returned for structurally
// invalid submissions (*domain.ValidationError) and for pseudonym failures.
func (g *Gate) Evaluate(sub *domain.RawSubmission) (Decision, error) {
	if sub == nil {
		return nil, domain.NewValidationError("submission", "request body is required")
	}

	labs := sub.FiniteLabs()
	if len(labs) == 0 {
		return nil, domain.NewValidationError("labs", "at least one lab value with a numeric result is required")
	}

	payload := &SafePayload{
		ageBucket: BucketAge(sub.Age),
		sex:       domain.NormalizeSex(sub.Sex),
		labs:      make([]Analyte, 0, len(labs)),
		context:   copyContext(sub.Context),
	}
	for _, r := range labs {
		payload.labs = append(payload.labs, Analyte{
			Test:  truncateRunes(r.Test, maxTestRunes),
			Value: *r.Value,
			Unit:  truncateRunes(r.Unit, maxUnitRunes),
			Ref:   truncateRunes(r.Ref, maxRefRunes),
		})
	}

	// Truncation can cut a long digit run down to a phone or SSN shape, so
	// the payload strings are scanned as well as the originals.
	found := phi.ScanAll(sub.ScannableText()...)
	found.Union(phi.ScanAll(payload.texts()...))
	if !found.Empty() {
		return &Blocked{Reason: BlockedReason, Categories: found}, nil
	}

	id, err := g.pseudonyms.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate pseudonym: %w", err)
	}
	payload.patientID = id

	return &Passed{Payload: payload}, nil
}

// texts returns every string the payload would carry to the provider.
func (p *SafePayload) texts() []string {
	out := make([]string, 0, 3*len(p.labs)+2*len(p.context))
	for _, a := range p.labs {
		out = append(out, a.Test, a.Unit, a.Ref)
	}
	for k, v := range p.context {
		out = append(out, k, v)
	}
	return out
}

func copyContext(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[truncateRunes(k, maxUnitRunes)] = truncateRunes(v, maxRefRunes)
	}
	return out
}

func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
