package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Ages outside this range are clamped on decode so the float to int
// conversion cannot overflow. Both bounds keep their bucket.
const (
	maxAgeYears = 150
	minAgeYears = -1
)

// Age is an age in whole years, or unknown. On the wire it may be a JSON
// number, a numeric string, the string "unknown", null or absent.
type Age struct {
	Years int
	Known bool
}

// KnownAge returns an Age for the given number of years.
func KnownAge(years int) Age {
	return Age{Years: years, Known: true}
}

// UnmarshalJSON accepts numbers and numeric strings; anything else is unknown.
func (a *Age) UnmarshalJSON(data []byte) error {
	*a = Age{}
	f, ok := parseNumber(data)
	if !ok {
		return nil
	}
	f = math.Floor(f)
	switch {
	case f > maxAgeYears:
		f = maxAgeYears
	case f < minAgeYears:
		f = minAgeYears
	}
	*a = Age{Years: int(f), Known: true}
	return nil
}

// MarshalJSON writes the age as a number, or "unknown".
func (a Age) MarshalJSON() ([]byte, error) {
	if !a.Known {
		return []byte(`"unknown"`), nil
	}
	return []byte(strconv.Itoa(a.Years)), nil
}

// AnalyteReading is a single lab result as submitted. Value is nil when the
// submitted value was missing, non-numeric or not finite.
type AnalyteReading struct {
	Test  string   `json:"test"`
	Value *float64 `json:"value,omitempty"`
	Unit  string   `json:"unit,omitempty"`
	Ref   string   `json:"ref,omitempty"`
}

// HasFiniteValue reports whether the reading carries a usable numeric value.
func (r AnalyteReading) HasFiniteValue() bool {
	return r.Value != nil && !math.IsNaN(*r.Value) && !math.IsInf(*r.Value, 0)
}

// UnmarshalJSON tolerates string-typed values, which lab portals commonly emit.
func (r *AnalyteReading) UnmarshalJSON(data []byte) error {
	var wire struct {
		Test  string          `json:"test"`
		Value json.RawMessage `json:"value"`
		Unit  string          `json:"unit"`
		Ref   string          `json:"ref"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = AnalyteReading{Test: wire.Test, Unit: wire.Unit, Ref: wire.Ref}
	if f, ok := parseNumber(wire.Value); ok {
		r.Value = &f
	}
	return nil
}

// RawSubmission is the identity-bearing request as it arrives from the
// signed-in user. It is never persisted and never leaves the process.
type RawSubmission struct {
	Name          string            `json:"name,omitempty"`
	Email         string            `json:"email,omitempty"`
	Phone         string            `json:"phone,omitempty"`
	DateOfBirth   string            `json:"date_of_birth,omitempty"`
	AddressLine1  string            `json:"address_line1,omitempty"`
	AddressLine2  string            `json:"address_line2,omitempty"`
	City          string            `json:"city,omitempty"`
	State         string            `json:"state,omitempty"`
	PostalCode    string            `json:"postal_code,omitempty"`
	MRN           string            `json:"mrn,omitempty"`
	AccountNumber string            `json:"account_number,omitempty"`
	URL           string            `json:"url,omitempty"`
	IPAddress     string            `json:"ip_address,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	Age           Age               `json:"age"`
	Sex           string            `json:"sex,omitempty"`
	Context       map[string]string `json:"context,omitempty"`
	Labs          []AnalyteReading  `json:"labs"`
}

// ScannableText returns every present identity field, the notes, every
// context key and value, and the test, unit and reference range of every lab
// reading. All of it must be free of identifiers before the submission may be
// de-identified.
func (s *RawSubmission) ScannableText() []string {
	fields := []string{
		s.Name, s.Email, s.Phone, s.DateOfBirth,
		s.AddressLine1, s.AddressLine2, s.City, s.State, s.PostalCode,
		s.MRN, s.AccountNumber, s.URL, s.IPAddress, s.Notes,
	}
	out := make([]string, 0, len(fields)+2*len(s.Context)+3*len(s.Labs))
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			out = append(out, f)
		}
	}
	for k, v := range s.Context {
		out = append(out, k, v)
	}
	for _, r := range s.Labs {
		for _, f := range []string{r.Test, r.Unit, r.Ref} {
			if strings.TrimSpace(f) != "" {
				out = append(out, f)
			}
		}
	}
	return out
}

// FiniteLabs returns the readings with a usable numeric value, in input order.
func (s *RawSubmission) FiniteLabs() []AnalyteReading {
	var out []AnalyteReading
	for _, r := range s.Labs {
		if r.HasFiniteValue() {
			out = append(out, r)
		}
	}
	return out
}

// PatientContext is the identity re-attached at render time. It is fetched
// fresh for every render and never cached or sent to the analysis provider.
// Empty fields are absent.
type PatientContext struct {
	FullName    string `json:"full_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Address     string `json:"address,omitempty"`
	Sex         string `json:"sex,omitempty"`
}

func parseNumber(data []byte) (float64, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return 0, false
	}
	var f float64
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		f = v
	} else if err := json.Unmarshal(data, &f); err != nil {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
