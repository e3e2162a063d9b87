// Package audit records who touched which path.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/sharebox/internal/storage"
	"github.com/org/sharebox/pkg/models"
)

// Logger writes request entries to the storage backend.
type Logger struct {
	store storage.Backend
	now   func() time.Time
}

// NewLogger creates an audit Logger.
func NewLogger(store storage.Backend) *Logger {
	return &Logger{store: store, now: time.Now}
}

// LogRequest stamps entry and stores it. A failed write is logged and does
// not affect the request.
func (l *Logger) LogRequest(ctx context.Context, entry *models.AuditEntry) {
	entry.Timestamp = l.now().UTC()
	// The request context may already be cancelled once the response is out.
	if err := l.store.WriteAuditEntry(context.WithoutCancel(ctx), entry); err != nil {
		log.Error().Err(err).
			Str("request_id", entry.RequestID).
			Str("path", entry.Path).
			Msg("writing audit entry")
	}
}

// Query returns entries newest first.
func (l *Logger) Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 100
	}
	return l.store.QueryAuditLog(ctx, filter)
}
