// Package cleanup provides data retention enforcement.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/incidentops/iats/pkg/store"
)

// cleanupInterval is how often the retention pass runs.
const cleanupInterval = time.Hour

// Service periodically purges incidents (and their dependent rows) whose
// last update is older than the retention window. The purge is idempotent
// and safe to run from multiple pods.
type Service struct {
	store         *store.Store
	retentionDays int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(st *store.Store, retentionDays int) *Service {
	return &Service{store: st, retentionDays: retentionDays}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"retention_days", s.retentionDays,
		"interval", cleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.purge(ctx)

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purge(ctx)
		}
	}
}

func (s *Service) purge(ctx context.Context) {
	if s.retentionDays <= 0 {
		return
	}
	before := time.Now().AddDate(0, 0, -s.retentionDays)

	var result *store.PurgeResult
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		var err error
		result, err = tx.PurgeOldData(ctx, before)
		return err
	})
	if err != nil {
		slog.Error("Retention: purge failed", "error", err)
		return
	}
	if result.IncidentDeleted > 0 {
		slog.Info("Retention: purged old incidents",
			"incidents", result.IncidentDeleted,
			"evidence_packs", result.EvidenceDeleted,
			"reports", result.ReportDeleted)
	}
}
