package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/token-service/internal/models"
	"github.com/noah-isme/token-service/pkg/jobs"
)

// AuditDispatcher writes audit entries from a background worker pool so
// request latency does not depend on the audit table.
type AuditDispatcher struct {
	queue  *jobs.Queue[*models.AuditLog]
	logger *zap.Logger
}

// NewAuditDispatcher wraps store with an asynchronous queue.
func NewAuditDispatcher(store AuditRecorder, cfg jobs.Config) *AuditDispatcher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	write := func(ctx context.Context, entry *models.AuditLog) error {
		return store.CreateAuditLog(ctx, entry)
	}
	return &AuditDispatcher{
		queue:  jobs.NewQueue[*models.AuditLog]("audit", write, cfg),
		logger: cfg.Logger,
	}
}

// Start launches the workers.
func (d *AuditDispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop flushes queued entries and stops the workers.
func (d *AuditDispatcher) Stop() {
	d.queue.Stop()
}

// CreateAuditLog queues entry. The caller's context is not used by the write.
func (d *AuditDispatcher) CreateAuditLog(_ context.Context, entry *models.AuditLog) error {
	return d.queue.Enqueue(entry)
}
