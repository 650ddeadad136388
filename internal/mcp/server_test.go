package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	litecfg "github.com/labsight/deidgate/internal/config"
	"github.com/labsight/deidgate/internal/deid"
	"github.com/labsight/deidgate/internal/phi"
)

type fixedPseudonyms string

func (f fixedPseudonyms) Generate() (string, error) { return string(f), nil }

type failingPseudonyms struct{}

func (failingPseudonyms) Generate() (string, error) { return "", errors.New("entropy exhausted") }

func newTestServer(t *testing.T, cfg *litecfg.LiteConfig, opts ...LiteServerOption) *LiteServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s, err := NewLiteServer(cfg, append([]LiteServerOption{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	return s
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestNewLiteServer(t *testing.T) {
	s := newTestServer(t, nil)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.gate)
	assert.Equal(t, litecfg.DefaultLiteConfig(), s.config)
}

func TestNewLiteServer_InvalidPseudonymConfig(t *testing.T) {
	cfg := litecfg.DefaultLiteConfig()
	cfg.PseudonymMode = "keyed"

	_, err := NewLiteServer(cfg)
	assert.Error(t, err)

	_, err = NewLiteServer(litecfg.DefaultLiteConfig(), WithLogger(nil))
	assert.Error(t, err)
}

func TestHandleScanPHI(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()

	res, out, err := s.handleScanPHI(ctx, nil, ScanPHIParams{Text: "Ferritin trending down since spring"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, ScanPHIResult{Clean: true, Categories: phi.NewCategorySet()}, out)
	assert.JSONEq(t, `{"clean":true,"categories":[]}`, resultText(t, res))

	res, out, err = s.handleScanPHI(ctx, nil, ScanPHIParams{Text: "reach me at john@email.com or 555-123-4567"})
	require.NoError(t, err)
	got := out.(ScanPHIResult)
	assert.False(t, got.Clean)
	assert.True(t, got.Categories.Has(phi.Email))
	assert.True(t, got.Categories.Has(phi.Phone))
	assert.NotContains(t, resultText(t, res), "john@email.com")
}

func TestHandleScrubText(t *testing.T) {
	s := newTestServer(t, nil)

	res, out, err := s.handleScrubText(context.Background(), nil, ScrubTextParams{Text: "write to john@email.com"})
	require.NoError(t, err)
	got := out.(ScrubTextResult)
	assert.Equal(t, "write to [REDACTED:email]", got.Text)
	assert.True(t, got.Categories.Has(phi.Email))
	assert.NotContains(t, resultText(t, res), "john@email.com")
}

func TestTextSizeLimit(t *testing.T) {
	cfg := litecfg.DefaultLiteConfig()
	cfg.MaxTextBytes = 16
	s := newTestServer(t, cfg)
	long := strings.Repeat("a", 17)

	res, out, err := s.handleScanPHI(context.Background(), nil, ScanPHIParams{Text: long})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Nil(t, out)

	res, _, err = s.handleScrubText(context.Background(), nil, ScrubTextParams{Text: long})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, _, err = s.handlePreview(context.Background(), nil, PreviewParams{Submission: `{"labs":[` + long + `]}`})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandlePreview_Passed(t *testing.T) {
	s := newTestServer(t, nil, WithPseudonyms(fixedPseudonyms("AbCd1234")))

	sub := `{"age":38,"sex":"f","labs":[{"test":"Ferritin","value":"12","unit":"ng/mL","ref":"15-150"}],"context":{"diet":"vegetarian"}}`
	res, out, err := s.handlePreview(context.Background(), nil, PreviewParams{Submission: sub})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	got := out.(PreviewResult)
	assert.False(t, got.Blocked)
	assert.Empty(t, got.Categories)

	view, err := deid.ParsePayloadView(got.Payload)
	require.NoError(t, err)
	assert.Equal(t, "AbCd1234", view.PatientID)
	assert.Equal(t, deid.Age35to44, view.AgeBucket)
	require.Len(t, view.Labs, 1)
	assert.Equal(t, 12.0, view.Labs[0].Value)
	assert.Equal(t, "vegetarian", view.Context["diet"])

	var wire map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &wire))
	assert.Equal(t, false, wire["blocked"])
}

func TestHandlePreview_Blocked(t *testing.T) {
	s := newTestServer(t, nil)

	sub := `{"email":"john@email.com","labs":[{"test":"Ferritin","value":12}]}`
	res, out, err := s.handlePreview(context.Background(), nil, PreviewParams{Submission: sub})
	require.NoError(t, err)

	got := out.(PreviewResult)
	assert.True(t, got.Blocked)
	assert.Equal(t, deid.BlockedReason, got.Reason)
	assert.True(t, got.Categories.Has(phi.Email))
	assert.Nil(t, got.Payload)
	assert.NotContains(t, resultText(t, res), "john@email.com")
}

func TestHandlePreview_InvalidInput(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name       string
		submission string
	}{
		{"empty", ""},
		{"not json", "labs: ferritin"},
		{"no finite labs", `{"labs":[{"test":"Ferritin","value":"abc"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, out, err := s.handlePreview(context.Background(), nil, PreviewParams{Submission: tt.submission})
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Nil(t, out)
		})
	}
}

func TestHandlePreview_PseudonymFailure(t *testing.T) {
	s := newTestServer(t, nil, WithPseudonyms(failingPseudonyms{}))

	_, _, err := s.handlePreview(context.Background(), nil,
		PreviewParams{Submission: `{"labs":[{"test":"Ferritin","value":12}]}`})
	assert.Error(t, err)
}
