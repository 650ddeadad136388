// Package pipeline wires the de-identification gate, audit logger, analysis
// invoker and result store into the analysis flow, and the identity lookup
// and renderer into the report flow. It owns order status transitions.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/labsight/deidgate/internal/deid"
	"github.com/labsight/deidgate/internal/domain"
	"github.com/labsight/deidgate/internal/notify"
	"github.com/labsight/deidgate/internal/report"
	"github.com/labsight/deidgate/internal/store"
)

// Invoker sends a de-identified payload to the analysis provider.
type Invoker interface {
	Invoke(ctx context.Context, payload *deid.SafePayload) (*domain.AnalysisResult, error)
}

// AuditLogger records gate decisions.
type AuditLogger interface {
	Log(ctx context.Context, decision deid.Decision, orderRef string)
}

// IdentityStore resolves identity and ownership for an order.
type IdentityStore interface {
	PatientContext(ctx context.Context, orderRef string) (*domain.PatientContext, error)
	OrderOwner(ctx context.Context, orderRef string) (string, error)
	SetOrderStatus(ctx context.Context, orderRef string, status domain.OrderStatus) error
}

// ArtifactStore keeps rendered reports.
type ArtifactStore interface {
	PutReport(ctx context.Context, rep *report.RenderedReport) (string, error)
}

// Notifier announces that a report is ready.
type Notifier interface {
	Publish(ctx context.Context, event notify.ReportReady) error
}

// ErrPublishingDisabled is returned by Publish when no artifact store is configured.
var ErrPublishingDisabled = errors.New("report publishing is not configured")

// Outcome is the result of one analysis request. Exactly one of Blocked and
// Record is set.
type Outcome struct {
	Blocked          *deid.Blocked
	Record           *domain.AnalysisRecord
	AlreadyProcessed bool
}

// PublishResult reports where a published report was stored.
type PublishResult struct {
	ReportKey string
	Notified  bool
}

// Service runs the analysis and report flows
type Service struct {
	gate      *deid.Gate
	invoker   Invoker
	audit     AuditLogger
	records   store.Store
	identity  IdentityStore
	renderer  *report.Renderer
	artifacts ArtifactStore
	notifier  Notifier
	completed *lru.Cache[string, *domain.AnalysisRecord]
	logger    *logrus.Logger
	now       func() time.Time
}

// Config collects the collaborators of a Service. Artifacts and Notifier
// are optional.
type Config struct {
	Gate         *deid.Gate
	Invoker      Invoker
	Audit        AuditLogger
	Records      store.Store
	Identity     IdentityStore
	Renderer     *report.Renderer
	Artifacts    ArtifactStore
	Notifier     Notifier
	RecentOrders int
}

// NewService creates a pipeline service
func NewService(config Config, logger *logrus.Logger) (*Service, error) {
	if config.Gate == nil || config.Invoker == nil || config.Audit == nil ||
		config.Records == nil || config.Identity == nil || config.Renderer == nil {
		return nil, errors.New("pipeline: gate, invoker, audit, records, identity and renderer are required")
	}
	if config.RecentOrders <= 0 {
		config.RecentOrders = 1024
	}

	completed, err := lru.New[string, *domain.AnalysisRecord](config.RecentOrders)
	if err != nil {
		return nil, fmt.Errorf("failed to create completed-order cache: %w", err)
	}

	return &Service{
		gate:      config.Gate,
		invoker:   config.Invoker,
		audit:     config.Audit,
		records:   config.Records,
		identity:  config.Identity,
		renderer:  config.Renderer,
		artifacts: config.Artifacts,
		notifier:  config.Notifier,
		completed: completed,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Authorize checks that subject owns the order. An empty subject means the
// caller was not authenticated and is only accepted when authentication is
// disabled by configuration; the HTTP layer enforces that.
func (s *Service) Authorize(ctx context.Context, orderRef, subject string) error {
	if subject == "" {
		return nil
	}
	owner, err := s.identity.OrderOwner(ctx, orderRef)
	if err != nil {
		return err
	}
	if owner != subject {
		return fmt.Errorf("order %s: %w", orderRef, domain.ErrForbidden)
	}
	return nil
}

// Analyze runs one submission through the gate and, if it passes, through
// the analysis provider. A repeated order reference returns the stored
// record without calling the provider again.
func (s *Service) Analyze(ctx context.Context, orderRef string, sub *domain.RawSubmission) (*Outcome, error) {
	if orderRef == "" {
		return nil, domain.NewValidationError("order_ref", "order reference is required")
	}

	if rec, ok := s.completed.Get(orderRef); ok {
		return &Outcome{Record: rec, AlreadyProcessed: true}, nil
	}

	existing, err := s.records.GetByOrderRef(ctx, orderRef)
	switch {
	case err == nil:
		s.completed.Add(orderRef, existing)
		return &Outcome{Record: existing, AlreadyProcessed: true}, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("checking existing analysis: %w", err)
	}

	decision, err := s.gate.Evaluate(sub)
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, decision, orderRef)

	var passed *deid.Passed
	switch d := decision.(type) {
	case *deid.Blocked:
		s.setStatus(ctx, orderRef, domain.OrderBlocked)
		return &Outcome{Blocked: d}, nil
	case *deid.Passed:
		passed = d
	default:
		return nil, fmt.Errorf("unexpected gate decision %T", decision)
	}

	s.setStatus(ctx, orderRef, domain.OrderProcessing)

	result, err := s.invoker.Invoke(ctx, passed.Payload)
	if err != nil {
		s.setStatus(ctx, orderRef, domain.OrderFailed)
		return nil, err
	}

	payload, err := json.Marshal(passed.Payload)
	if err != nil {
		s.setStatus(ctx, orderRef, domain.OrderFailed)
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	stored, created, err := s.records.Create(ctx, &domain.AnalysisRecord{
		OrderRef:    orderRef,
		SafePayload: payload,
		Response:    *result,
	})
	if err != nil {
		s.setStatus(ctx, orderRef, domain.OrderFailed)
		return nil, fmt.Errorf("storing analysis: %w", err)
	}

	s.setStatus(ctx, orderRef, domain.OrderAnalyzed)
	s.completed.Add(orderRef, stored)

	s.logger.WithFields(logrus.Fields{
		"order_ref": orderRef,
		"created":   created,
		"format":    stored.Response.Format,
	}).Info("Analysis stored")

	return &Outcome{Record: stored, AlreadyProcessed: !created}, nil
}

// Report re-attaches identity to the stored analysis. The record and the
// patient context are read concurrently; a missing context renders with
// placeholders.
func (s *Service) Report(ctx context.Context, orderRef, subject string) (*report.RenderedReport, error) {
	if err := s.Authorize(ctx, orderRef, subject); err != nil {
		return nil, err
	}

	var (
		rec *domain.AnalysisRecord
		pc  *domain.PatientContext
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rec, err = s.records.GetByOrderRef(gctx, orderRef)
		return err
	})
	g.Go(func() error {
		var err error
		pc, err = s.identity.PatientContext(gctx, orderRef)
		if errors.Is(err, domain.ErrNotFound) {
			pc, err = nil, nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep, err := s.renderer.Render(rec, pc)
	if err != nil {
		return nil, fmt.Errorf("rendering report: %w", err)
	}

	s.logger.WithField("order_ref", orderRef).Info("Report rendered")
	return rep, nil
}

// Publish renders the report, uploads it and announces it. The record's
// emailed_at marker is set once the announcement is accepted.
func (s *Service) Publish(ctx context.Context, orderRef, subject string) (*PublishResult, error) {
	if s.artifacts == nil {
		return nil, ErrPublishingDisabled
	}

	rep, err := s.Report(ctx, orderRef, subject)
	if err != nil {
		return nil, err
	}

	key, err := s.artifacts.PutReport(ctx, rep)
	if err != nil {
		return nil, err
	}
	if err := s.records.SetReportKey(ctx, orderRef, key); err != nil {
		return nil, fmt.Errorf("recording report key: %w", err)
	}

	result := &PublishResult{ReportKey: key}
	if s.notifier == nil {
		return result, nil
	}

	err = s.notifier.Publish(ctx, notify.ReportReady{
		OrderRef:    orderRef,
		ReportKey:   key,
		GeneratedAt: rep.GeneratedAt,
	})
	if err != nil {
		return nil, err
	}
	if err := s.records.MarkEmailed(ctx, orderRef, s.now()); err != nil {
		return nil, fmt.Errorf("marking report emailed: %w", err)
	}
	result.Notified = true
	return result, nil
}

// setStatus records a status transition. A failure is logged and does not
// fail the request; the caller's context may already be cancelled when the
// order is marked failed, so the update runs detached from it.
func (s *Service) setStatus(ctx context.Context, orderRef string, status domain.OrderStatus) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.identity.SetOrderStatus(ctx, orderRef, status); err != nil {
		s.logger.WithFields(logrus.Fields{
			"order_ref": orderRef,
			"status":    status,
			"error":     err,
		}).Warn("Failed to update order status")
	}
}
