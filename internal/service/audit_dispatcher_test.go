package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/token-service/internal/models"
	"github.com/noah-isme/token-service/pkg/jobs"
)

func TestAuditDispatcherFlushesOnStop(t *testing.T) {
	store := &recordingAudit{}
	d := NewAuditDispatcher(store, jobs.Config{Workers: 1})
	d.Start(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, action := range []string{models.AuditActionLogin, models.AuditActionLogout} {
		require.NoError(t, d.CreateAuditLog(ctx, &models.AuditLog{Action: action}))
	}
	d.Stop()

	require.Len(t, store.logs, 2)
	assert.Equal(t, models.AuditActionLogin, store.logs[0].Action)
	assert.Equal(t, models.AuditActionLogout, store.logs[1].Action)
}

func TestAuditDispatcherRejectsAfterStop(t *testing.T) {
	d := NewAuditDispatcher(&recordingAudit{}, jobs.Config{})
	d.Start(context.Background())
	d.Stop()

	assert.ErrorIs(t, d.CreateAuditLog(context.Background(), &models.AuditLog{}), jobs.ErrQueueClosed)
}
