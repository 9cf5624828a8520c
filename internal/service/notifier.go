package service

import (
	"context"
	"log/slog"

	"nftrarity/internal/accrual"
	"nftrarity/internal/events"
	"nftrarity/internal/metrics"
)

// PointsVersioner bumps the counter the websocket hub watches
type PointsVersioner interface {
	BumpPointsVersion(ctx context.Context) (int64, error)
}

// AccrualNotifier fans a finished accrual run out to the points version
// counter, the event bus and metrics
type AccrualNotifier struct {
	versions  PointsVersioner
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewAccrualNotifier(versions PointsVersioner, publisher events.Publisher, m *metrics.Metrics, logger *slog.Logger) *AccrualNotifier {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &AccrualNotifier{versions: versions, publisher: publisher, metrics: m, logger: logger}
}

func (n *AccrualNotifier) AccrualCompleted(ctx context.Context, report *accrual.RunReport) {
	n.metrics.AccrualRun(report.FinishedAt.Sub(report.StartedAt), len(report.Failures), report.TotalPoints)

	if n.versions != nil {
		if _, err := n.versions.BumpPointsVersion(ctx); err != nil {
			n.logger.Warn("bump points version failed", "error", err)
		}
	}

	evt := events.AccrualCompletedEvent{
		UsersProcessed: report.UsersProcessed,
		Failures:       len(report.Failures),
		TotalPoints:    report.TotalPoints,
		TierChanges:    report.TierChanges,
		StartedAt:      report.StartedAt,
		FinishedAt:     report.FinishedAt,
	}
	if err := n.publisher.Publish(events.SubjectAccrualCompleted, evt); err != nil {
		n.logger.Warn("publish accrual event failed", "error", err)
	}
}

var _ accrual.Notifier = (*AccrualNotifier)(nil)
