// Package audit records every orchestrator action as an immutable,
// append-only event stream with monotonic per-applicant sequence numbers.
package audit

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/evaluation-cli/internal/model"
	"github.com/sells-group/evaluation-cli/internal/store"
)

// Logger appends audit events through the store. Appends for the same
// applicant are serialized in-process so the per-applicant sequence stays
// gapless under concurrent workflows.
type Logger struct {
	store store.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLogger creates an audit logger backed by the given store.
func NewLogger(st store.Store) *Logger {
	return &Logger{
		store: st,
		locks: make(map[string]*sync.Mutex),
	}
}

// Record appends one event and returns its assigned sequence number.
func (l *Logger) Record(ctx context.Context, applicantID, actor string, t model.InteractionType, payload map[string]any) (int64, error) {
	lock := l.applicantLock(applicantID)
	lock.Lock()
	defer lock.Unlock()

	seq, err := l.store.AppendAuditEvent(ctx, &model.AuditEvent{
		ApplicantID: applicantID,
		Actor:       actor,
		Type:        t,
		Payload:     payload,
	})
	if err != nil {
		return 0, eris.Wrapf(err, "audit: append %s for %s", t, applicantID)
	}
	return seq, nil
}

// MustRecord appends one event and logs instead of failing: the workflow
// never aborts because an audit write failed, but the failure itself is
// visible in the operational log.
func (l *Logger) MustRecord(ctx context.Context, applicantID, actor string, t model.InteractionType, payload map[string]any) {
	if _, err := l.Record(ctx, applicantID, actor, t, payload); err != nil {
		zap.L().Error("audit: event write failed",
			zap.String("applicant_id", applicantID),
			zap.String("interaction_type", string(t)),
			zap.Error(err),
		)
	}
}

// Query returns events for one applicant in sequence order.
func (l *Logger) Query(ctx context.Context, applicantID string, f store.AuditFilter) ([]model.AuditEvent, error) {
	events, err := l.store.ListAuditEvents(ctx, applicantID, f)
	if err != nil {
		return nil, eris.Wrapf(err, "audit: query %s", applicantID)
	}
	return events, nil
}

func (l *Logger) applicantLock(applicantID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[applicantID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[applicantID] = lock
	}
	return lock
}
