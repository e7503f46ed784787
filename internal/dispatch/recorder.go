package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/anthropics/midstream/internal/domain"
	"github.com/anthropics/midstream/internal/render"
)

// AuditSink persists audit records for dispatched operations.
type AuditSink interface {
	Append(ctx context.Context, rec domain.AuditRecord) error
}

// Recorder wraps Dispatch with audit persistence and structured logging.
// Audit failures are logged and never alter the operation outcomes.
type Recorder struct {
	backend Backend
	sink    AuditSink
	log     *zap.Logger
	now     func() time.Time
}

// NewRecorder builds a Recorder. sink may be nil to disable persistence;
// log may be nil to disable logging.
func NewRecorder(backend Backend, sink AuditSink, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{backend: backend, sink: sink, log: log, now: time.Now}
}

// Dispatch runs ops in order and appends one audit record per outcome.
// Records for outcomes gathered before a cancellation are still written.
func (r *Recorder) Dispatch(ctx context.Context, sessionID string, ops []domain.Operation) ([]domain.Outcome, error) {
	outcomes, err := Dispatch(ctx, r.backend, ops)

	auditCtx := context.WithoutCancel(ctx)
	for _, o := range outcomes {
		e := render.Summarize(o)
		if r.sink != nil {
			rec := domain.AuditRecord{
				SessionID:    sessionID,
				Action:       e.Action,
				Path:         e.Path,
				Success:      e.Success,
				Error:        e.Error,
				PayloadBytes: e.Bytes,
				CreatedAt:    r.now().Unix(),
			}
			if aerr := r.sink.Append(auditCtx, rec); aerr != nil {
				r.log.Warn("audit append failed",
					zap.String("session", sessionID),
					zap.String("action", e.Action),
					zap.Error(aerr))
			}
		}
		r.log.Info("operation dispatched",
			zap.String("session", sessionID),
			zap.String("action", e.Action),
			zap.String("path", e.Path),
			zap.Bool("success", e.Success),
			zap.Int64("bytes", e.Bytes))
	}
	return outcomes, err
}
