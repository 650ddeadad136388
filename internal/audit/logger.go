// Package audit records one structured line per gate decision. A line never
// holds more than the de-identified payload itself would: categories and the
// order reference for a block; pseudonym, age bucket, sex and lab count for a
// pass.
package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/labsight/deidgate/internal/deid"
	"github.com/labsight/deidgate/internal/phi"
)

// SchemaVersion is stamped on every audit line.
const SchemaVersion = "deid.audit.v1"

// Recorder receives decision counts. BlockStats implements it.
type Recorder interface {
	RecordPassed(ctx context.Context) error
	RecordBlocked(ctx context.Context, categories phi.CategorySet) error
}

// Logger writes gate decisions to the audit sink.
type Logger struct {
	logger   *logrus.Logger
	recorder Recorder
	errLog   logrus.FieldLogger
}

// NewLogger creates an audit logger writing JSON lines to out. recorder may be nil.
func NewLogger(out io.Writer, recorder Recorder, errLog logrus.FieldLogger) *Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "audit_timestamp",
			logrus.FieldKeyLevel: "audit_level",
			logrus.FieldKeyMsg:   "audit_message",
		},
	})
	if errLog == nil {
		errLog = logrus.StandardLogger()
	}
	return &Logger{logger: logger, recorder: recorder, errLog: errLog}
}

// OpenSink resolves the configured audit output.
func OpenSink(output string) (io.WriteCloser, error) {
	switch output {
	case "", "stdout":
		return nopCloser{os.Stdout}, nil
	case "stderr":
		return nopCloser{os.Stderr}, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit sink: %w", err)
		}
		return f, nil
	}
}

// Log writes exactly one line for decision. Counter failures are reported on
// the application log and never fail the request.
func (l *Logger) Log(ctx context.Context, decision deid.Decision, orderRef string) {
	switch d := decision.(type) {
	case *deid.Blocked:
		l.logger.WithFields(logrus.Fields{
			"schema":     SchemaVersion,
			"event":      "gate_decision",
			"outcome":    "blocked",
			"order_ref":  orderRef,
			"categories": d.Categories.Strings(),
		}).Info("gate decision")
		if l.recorder != nil {
			if err := l.recorder.RecordBlocked(ctx, d.Categories); err != nil {
				l.errLog.WithError(err).Warn("Failed to update block stats")
			}
		}
	case *deid.Passed:
		p := d.Payload
		l.logger.WithFields(logrus.Fields{
			"schema":     SchemaVersion,
			"event":      "gate_decision",
			"outcome":    "passed",
			"patient_id": p.PatientID(),
			"age_bucket": string(p.AgeBucket()),
			"sex":        string(p.Sex()),
			"lab_count":  p.LabCount(),
		}).Info("gate decision")
		if l.recorder != nil {
			if err := l.recorder.RecordPassed(ctx); err != nil {
				l.errLog.WithError(err).Warn("Failed to update block stats")
			}
		}
	}
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
