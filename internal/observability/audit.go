package observability

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent is a security relevant event: wallet creation, review
// decisions, recorded claims.
type AuditEvent struct {
	Type      string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor,omitempty"`
	Action    string         `json:"action"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
}

// AuditLogger writes audit events as JSON lines.
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	file   *os.File
}

var (
	auditMu   sync.Mutex
	auditInst *AuditLogger
)

// GetAuditLogger returns the process audit logger, stderr until
// InitAuditLogger is called.
func GetAuditLogger() *AuditLogger {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditInst == nil {
		auditInst = &AuditLogger{logger: zerolog.New(os.Stderr).With().Timestamp().Logger()}
	}
	return auditInst
}

// InitAuditLogger points the process audit logger at path.
func InitAuditLogger(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditInst != nil && auditInst.file != nil {
		auditInst.file.Close()
	}
	auditInst = &AuditLogger{logger: zerolog.New(file).With().Timestamp().Logger(), file: file}
	return nil
}

// NewAuditLogger creates an audit logger on an explicit zerolog logger.
func NewAuditLogger(logger zerolog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// Record writes the event and mirrors it as a span event when a span is
// active.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status)
	if event.TraceID != "" {
		entry = entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry = entry.Interface("metadata", event.Metadata)
	}
	entry.Msg("")
}

// Close closes the audit logger's file handle
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

func actor(userID int64) string {
	return "tg:" + strconv.FormatInt(userID, 10)
}

// RecordReviewAudit logs an approve or reject button press.
func RecordReviewAudit(ctx context.Context, userID int64, decision string, metadata map[string]any) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "review",
		Actor:    actor(userID),
		Action:   "review:" + decision,
		Status:   "success",
		Metadata: metadata,
	})
}

// RecordClaimAudit logs a recorded reward claim.
func RecordClaimAudit(ctx context.Context, userID int64, status string, metadata map[string]any) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "claim",
		Actor:    actor(userID),
		Action:   "claim:record",
		Status:   status,
		Metadata: metadata,
	})
}

// RecordWalletAudit logs wallet lifecycle events. Never pass key material in
// metadata.
func RecordWalletAudit(ctx context.Context, userID int64, action string, metadata map[string]any) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "wallet",
		Actor:    actor(userID),
		Action:   "wallet:" + action,
		Status:   "success",
		Metadata: metadata,
	})
}
