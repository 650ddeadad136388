// Package mcp exposes the identifier scanner and the de-identification gate
// as MCP tools over stdio. It needs no database, cache or analysis provider.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	litecfg "github.com/labsight/deidgate/internal/config"
	"github.com/labsight/deidgate/internal/deid"
	"github.com/labsight/deidgate/internal/domain"
	"github.com/labsight/deidgate/internal/phi"
)

// Tool names.
const (
	ToolScanPHI     = "scan_phi"
	ToolScrubText   = "scrub_text"
	ToolPreviewDeid = "preview_deidentification"
)

const (
	serverName    = "deidgate-mcp"
	serverVersion = "v0.1.0"
)

// ScanPHIParams defines parameters for the scan_phi tool
type ScanPHIParams struct {
	Text string `json:"text" jsonschema:"free text to check for personal identifiers"`
}

// ScanPHIResult lists the identifier categories found in the text.
type ScanPHIResult struct {
	Clean      bool            `json:"clean"`
	Categories phi.CategorySet `json:"categories"`
}

// ScrubTextParams defines parameters for the scrub_text tool
type ScrubTextParams struct {
	Text string `json:"text" jsonschema:"free text to redact"`
}

// ScrubTextResult carries the redacted text.
type ScrubTextResult struct {
	Text       string          `json:"text"`
	Categories phi.CategorySet `json:"categories"`
}

// PreviewParams defines parameters for the preview_deidentification tool.
// The submission is passed as a JSON document so that lab values may be
// strings or numbers, as they are on the HTTP surface.
type PreviewParams struct {
	Submission string `json:"submission" jsonschema:"submission as a JSON document with labs, age, sex, notes and context"`
}

// PreviewResult is either a block with its categories or the payload that
// would be forwarded for analysis.
type PreviewResult struct {
	Blocked    bool            `json:"blocked"`
	Reason     string          `json:"reason,omitempty"`
	Categories phi.CategorySet `json:"categories,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// LiteServer is a standalone MCP server. Nothing it receives is stored or
// logged.
type LiteServer struct {
	config    *litecfg.LiteConfig
	gate      *deid.Gate
	mcpServer *mcp.Server
	logger    *logrus.Logger
}

// LiteServerOption is a functional option for LiteServer.
type LiteServerOption func(*LiteServer) error

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) LiteServerOption {
	return func(s *LiteServer) error {
		if logger == nil {
			return errors.New("logger is nil")
		}
		s.logger = logger
		return nil
	}
}

// WithPseudonyms replaces the generator built from the configuration.
func WithPseudonyms(g deid.PseudonymGenerator) LiteServerOption {
	return func(s *LiteServer) error {
		if g == nil {
			return errors.New("pseudonym generator is nil")
		}
		s.gate = deid.NewGate(g)
		return nil
	}
}

// NewLiteServer creates the MCP server and registers its tools.
func NewLiteServer(cfg *litecfg.LiteConfig, opts ...LiteServerOption) (*LiteServer, error) {
	if cfg == nil {
		cfg = litecfg.DefaultLiteConfig()
	}

	server := &LiteServer{
		config: cfg,
		logger: logrus.New(),
	}

	// Configure default logger
	if cfg.LogFormat == "text" {
		server.logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		server.logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		server.logger.SetLevel(level)
	}

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.gate == nil {
		gen, err := deid.NewPseudonymGenerator(cfg.PseudonymMode, cfg.PseudonymSalt)
		if err != nil {
			return nil, fmt.Errorf("invalid pseudonym configuration: %w", err)
		}
		server.gate = deid.NewGate(gen)
	}

	server.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)
	server.registerTools()

	server.logger.Info("MCP server initialized")
	return server, nil
}

func (s *LiteServer) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolScanPHI,
		Description: "Report which categories of personal identifiers appear in a piece of text",
	}, s.handleScanPHI)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolScrubText,
		Description: "Replace personal identifiers in a piece of text with category placeholders",
	}, s.handleScrubText)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        ToolPreviewDeid,
		Description: "Show whether a lab submission would be blocked, or the de-identified payload that would be sent for analysis",
	}, s.handlePreview)

	s.logger.WithField("tool_count", 3).Info("Registered MCP tools")
}

// Start runs the server on stdio until ctx is done or the client disconnects.
func (s *LiteServer) Start(ctx context.Context) error {
	s.logger.Info("Starting deidgate MCP server on stdio")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

func (s *LiteServer) handleScanPHI(ctx context.Context, req *mcp.CallToolRequest, params ScanPHIParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolScanPHI).Debug("Tool invoked")

	if err := s.checkSize("text", params.Text); err != nil {
		return s.createErrorResult("Invalid input", err), nil, nil
	}

	found := phi.Scan(params.Text)
	result := ScanPHIResult{Clean: found.Empty(), Categories: found}
	return s.jsonResult(result), result, nil
}

func (s *LiteServer) handleScrubText(ctx context.Context, req *mcp.CallToolRequest, params ScrubTextParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolScrubText).Debug("Tool invoked")

	if err := s.checkSize("text", params.Text); err != nil {
		return s.createErrorResult("Invalid input", err), nil, nil
	}

	text, found := phi.Scrub(params.Text)
	result := ScrubTextResult{Text: text, Categories: found}
	return s.jsonResult(result), result, nil
}

func (s *LiteServer) handlePreview(ctx context.Context, req *mcp.CallToolRequest, params PreviewParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolPreviewDeid).Debug("Tool invoked")

	if params.Submission == "" {
		return s.createErrorResult("Missing required parameter", errors.New("submission is required")), nil, nil
	}
	if err := s.checkSize("submission", params.Submission); err != nil {
		return s.createErrorResult("Invalid input", err), nil, nil
	}

	var sub domain.RawSubmission
	if err := json.Unmarshal([]byte(params.Submission), &sub); err != nil {
		return s.createErrorResult("Invalid input", errors.New("submission is not a valid JSON document")), nil, nil
	}

	decision, err := s.gate.Evaluate(&sub)
	if err != nil {
		var vErr *domain.ValidationError
		if errors.As(err, &vErr) {
			return s.createErrorResult("Invalid submission", err), nil, nil
		}
		return nil, nil, err
	}

	var result PreviewResult
	switch d := decision.(type) {
	case *deid.Blocked:
		result = PreviewResult{Blocked: true, Reason: d.Reason, Categories: d.Categories}
	case *deid.Passed:
		raw, err := json.Marshal(d.Payload)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		result = PreviewResult{Payload: raw}
	}
	return s.jsonResult(result), result, nil
}

func (s *LiteServer) checkSize(field, value string) error {
	if limit := s.config.MaxTextBytes; limit > 0 && len(value) > limit {
		return domain.NewValidationError(field, fmt.Sprintf("must not exceed %d bytes", limit))
	}
	return nil
}

func (s *LiteServer) jsonResult(v any) *mcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return s.createErrorResult("Failed to encode result", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}

// createErrorResult creates a standardized error result for tool calls
func (s *LiteServer) createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}
