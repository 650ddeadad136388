package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/labsight/deidgate/internal/domain"
	"github.com/labsight/deidgate/internal/llm"
	"github.com/labsight/deidgate/internal/middleware"
	"github.com/labsight/deidgate/internal/phi"
	"github.com/labsight/deidgate/internal/pipeline"
)

// BlockedMessage is shown to the submitter when identifiers were found.
const BlockedMessage = "Your submission contains personal details such as names, contact information " +
	"or dates. Please remove them from your notes and try again."

// maxScrubBytes bounds the text accepted by the scrub endpoint.
const maxScrubBytes = 64 << 10

// AnalysisResponse is returned for a passed or previously processed order.
type AnalysisResponse struct {
	OrderRef         string                `json:"order_ref"`
	AlreadyProcessed bool                  `json:"already_processed"`
	Analysis         domain.AnalysisResult `json:"analysis"`
	CreatedAt        time.Time             `json:"created_at"`
}

// BlockedResponse is returned with 422 when the gate blocked the submission.
type BlockedResponse struct {
	*domain.AppError
	Categories phi.CategorySet `json:"detected_categories"`
}

// ScrubRequest is the body of the scrub endpoint.
type ScrubRequest struct {
	Text string `json:"text"`
}

// ScrubResponse carries the redacted text and what was removed.
type ScrubResponse struct {
	Text       string          `json:"text"`
	Categories phi.CategorySet `json:"categories"`
}

func (s *Server) handleAnalyze(c *gin.Context) {
	ctx := c.Request.Context()
	orderRef := c.Param("order_ref")

	if err := s.deps.Pipeline.Authorize(ctx, orderRef, c.GetString(middleware.SubjectKey)); err != nil {
		s.handleError(c, err)
		return
	}

	if limit := s.configManager.GetServerConfig().MaxBodyBytes; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}

	var sub domain.RawSubmission
	if err := c.ShouldBindJSON(&sub); err != nil {
		// The decoder error can quote the body, so it is not returned.
		s.respondError(c, http.StatusBadRequest, domain.ErrCodeValidation,
			"Request body is not a valid submission", "")
		return
	}

	out, err := s.deps.Pipeline.Analyze(ctx, orderRef, &sub)
	if err != nil {
		s.handleError(c, err)
		return
	}

	if out.Blocked != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, BlockedResponse{
			AppError: domain.NewAppError(domain.ErrCodePHIBlocked, BlockedMessage, out.Blocked.Reason,
				c.GetString(middleware.CorrelationIDKey)),
			Categories: out.Blocked.Categories,
		})
		return
	}

	c.JSON(http.StatusOK, AnalysisResponse{
		OrderRef:         out.Record.OrderRef,
		AlreadyProcessed: out.AlreadyProcessed,
		Analysis:         out.Record.Response,
		CreatedAt:        out.Record.CreatedAt,
	})
}

func (s *Server) handleReport(c *gin.Context) {
	rep, err := s.deps.Pipeline.Report(c.Request.Context(), c.Param("order_ref"), c.GetString(middleware.SubjectKey))
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.Data(http.StatusOK, rep.ContentType, rep.HTML)
}

func (s *Server) handlePublish(c *gin.Context) {
	res, err := s.deps.Pipeline.Publish(c.Request.Context(), c.Param("order_ref"), c.GetString(middleware.SubjectKey))
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_ref":  c.Param("order_ref"),
		"report_key": res.ReportKey,
		"notified":   res.Notified,
	})
}

func (s *Server) handleScrub(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxScrubBytes)

	var req ScrubRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrCodeValidation,
			"Request body must be a JSON object with a text field", "")
		return
	}

	text, found := phi.Scrub(req.Text)
	c.JSON(http.StatusOK, ScrubResponse{Text: text, Categories: found})
}

// handleError maps pipeline errors to responses. Messages are fixed strings;
// wrapped error text is logged, never returned.
func (s *Server) handleError(c *gin.Context, err error) {
	var (
		ve *domain.ValidationError
		ie *llm.InvokerError
	)
	entry := s.logger.WithFields(logrus.Fields{
		"correlation_id": c.GetString(middleware.CorrelationIDKey),
		"route":          c.FullPath(),
	})

	switch {
	case errors.As(err, &ve):
		s.respondError(c, http.StatusBadRequest, domain.ErrCodeValidation, ve.Message, ve.Field)
	case errors.Is(err, domain.ErrNotFound):
		s.respondError(c, http.StatusNotFound, domain.ErrCodeNotFound, "Order not found", "")
	case errors.Is(err, domain.ErrForbidden):
		s.respondError(c, http.StatusForbidden, domain.ErrCodeForbidden, "Order belongs to another user", "")
	case errors.Is(err, pipeline.ErrPublishingDisabled):
		s.respondError(c, http.StatusServiceUnavailable, domain.ErrCodeInternalServer, "Report publishing is not configured", "")
	case errors.Is(err, context.DeadlineExceeded):
		entry.WithError(err).Warn("Request deadline exceeded")
		s.respondError(c, http.StatusGatewayTimeout, domain.ErrCodeInternalServer, "Request timed out", "")
	case errors.As(err, &ie):
		entry.WithError(err).Error("Analysis provider call failed")
		s.respondError(c, http.StatusBadGateway, domain.ErrCodeExternalAPI, "Analysis provider is unavailable, please retry later", string(ie.Kind))
	default:
		entry.WithError(err).Error("Request failed")
		s.respondError(c, http.StatusInternalServerError, domain.ErrCodeInternalServer, "Internal server error", "")
	}
}
