// Package report turns a stored de-identified analysis and freshly fetched
// patient context into the human-readable report. It is the single place
// where identity and analysis meet, and it never calls the analysis provider.
package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"sort"
	"strconv"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/labsight/deidgate/internal/deid"
	"github.com/labsight/deidgate/internal/domain"
)

// ComplianceFooter is printed on every report.
const ComplianceFooter = "This report was prepared from lab data that was de-identified under the " +
	"HIPAA Safe Harbor method before automated analysis. Patient identity was re-attached " +
	"only when this report was generated. The analysis is informational and is not a diagnosis."

// Placeholder stands in for an absent patient context field.
const Placeholder = "not provided"

// ContentTypeHTML is the content type of rendered reports.
const ContentTypeHTML = "text/html; charset=utf-8"

//go:embed templates/report.html.tmpl
var templateFS embed.FS

// RenderedReport is the merged artifact for one order.
type RenderedReport struct {
	OrderRef    string
	ContentType string
	HTML        []byte
	GeneratedAt time.Time
}

// Renderer merges an AnalysisRecord with a PatientContext.
type Renderer struct {
	tmpl     *template.Template
	markdown goldmark.Markdown
	now      func() time.Time
}

// NewRenderer parses the report template. Raw HTML in analysis text is
// dropped by the Markdown converter.
func NewRenderer() (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/report.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing report template: %w", err)
	}
	return &Renderer{
		tmpl:     tmpl,
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		now:      time.Now,
	}, nil
}

type field struct {
	Label string
	Value string
}

type labRow struct {
	Test  string
	Value string
	Unit  string
	Ref   string
}

type section struct {
	Title string
	Items []string
}

type contextEntry struct {
	Key   string
	Value string
}

type reportView struct {
	OrderRef     string
	GeneratedAt  string
	Placeholder  string
	Patient      []field
	Labs         []labRow
	Context      []contextEntry
	Sections     []section
	AnalysisHTML template.HTML
	Footer       string
}

// Render produces the report. A nil context renders every patient field as
// the placeholder.
func (r *Renderer) Render(rec *domain.AnalysisRecord, pc *domain.PatientContext) (*RenderedReport, error) {
	if rec == nil {
		return nil, domain.NewValidationError("record", "analysis record is required")
	}
	if pc == nil {
		pc = &domain.PatientContext{}
	}

	payload, err := deid.ParsePayloadView(rec.SafePayload)
	if err != nil {
		return nil, err
	}

	generated := r.now().UTC()
	view := reportView{
		OrderRef:    rec.OrderRef,
		GeneratedAt: generated.Format(time.RFC3339),
		Placeholder: Placeholder,
		Patient: []field{
			{"Name", pc.FullName},
			{"Date of birth", pc.DateOfBirth},
			{"Sex", pc.Sex},
			{"Email", pc.Email},
			{"Phone", pc.Phone},
			{"Address", pc.Address},
		},
		Footer: ComplianceFooter,
	}

	for _, lab := range payload.Labs {
		view.Labs = append(view.Labs, labRow{
			Test:  lab.Test,
			Value: strconv.FormatFloat(lab.Value, 'f', -1, 64),
			Unit:  lab.Unit,
			Ref:   lab.Ref,
		})
	}

	keys := make([]string, 0, len(payload.Context))
	for k := range payload.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		view.Context = append(view.Context, contextEntry{Key: k, Value: payload.Context[k]})
	}

	if s := rec.Response.Structured; s != nil && !s.IsEmpty() {
		view.Sections = sections(s)
	} else {
		var md bytes.Buffer
		if err := r.markdown.Convert([]byte(rec.Response.RawText), &md); err != nil {
			return nil, fmt.Errorf("converting analysis text: %w", err)
		}
		// Raw HTML is omitted by goldmark unless WithUnsafe is set.
		view.AnalysisHTML = template.HTML(md.String())
	}

	var out bytes.Buffer
	if err := r.tmpl.Execute(&out, view); err != nil {
		return nil, fmt.Errorf("executing report template: %w", err)
	}

	return &RenderedReport{
		OrderRef:    rec.OrderRef,
		ContentType: ContentTypeHTML,
		HTML:        out.Bytes(),
		GeneratedAt: generated,
	}, nil
}

func sections(s *domain.StructuredAnalysis) []section {
	all := []section{
		{"Flags", s.Flags},
		{"Insights", s.Insights},
		{"Supplements", s.Supplements},
		{"Lifestyle", s.Lifestyle},
		{"Follow-up labs", s.FollowUpLabs},
	}
	out := all[:0]
	for _, sec := range all {
		if len(sec.Items) > 0 {
			out = append(out, sec)
		}
	}
	return out
}
