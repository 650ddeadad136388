package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// AnalysisItems is a list of analysis statements. Providers sometimes answer
// with objects instead of strings; those are kept as their compact JSON text
// so nothing the provider said is rewritten.
type AnalysisItems []string

// UnmarshalJSON accepts an array of strings or arbitrary JSON values.
func (items *AnalysisItems) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*items = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(AnalysisItems, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		var compact bytes.Buffer
		if err := json.Compact(&compact, r); err != nil {
			return err
		}
		out = append(out, compact.String())
	}
	*items = out
	return nil
}

// StructuredAnalysis is the JSON object the provider is instructed to return.
type StructuredAnalysis struct {
	Flags        AnalysisItems `json:"flags"`
	Insights     AnalysisItems `json:"insights"`
	Supplements  AnalysisItems `json:"supplements"`
	Lifestyle    AnalysisItems `json:"lifestyle"`
	FollowUpLabs AnalysisItems `json:"follow_up_labs"`
}

// IsEmpty reports whether no section carries any content.
func (s *StructuredAnalysis) IsEmpty() bool {
	return len(s.Flags)+len(s.Insights)+len(s.Supplements)+len(s.Lifestyle)+len(s.FollowUpLabs) == 0
}

// AnalysisResult is what the analysis provider returned for one payload.
type AnalysisResult struct {
	Structured *StructuredAnalysis `json:"structured,omitempty"`
	RawText    string              `json:"raw_text"`
	Format     AnalysisFormat      `json:"format"`
	Model      string              `json:"model,omitempty"`
}

// AnalysisRecord is the persisted, de-identified outcome of one order. It never
// contains identity; re-identification happens only at render time.
type AnalysisRecord struct {
	ID          string          `json:"id"`
	OrderRef    string          `json:"order_ref"`
	SafePayload json.RawMessage `json:"safe_payload"`
	Response    AnalysisResult  `json:"llm_response"`
	CreatedAt   time.Time       `json:"created_at"`
	EmailedAt   *time.Time      `json:"emailed_at,omitempty"`
	ReportKey   string          `json:"report_key,omitempty"`
}
