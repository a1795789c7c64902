package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/RayanAndish/GoldACC-sub003/internal/ports"
	"github.com/google/uuid"
)

// OutboxWorker pulls unpublished license and system events from the outbox and
// hands them to the publisher. A record that keeps failing is dead-lettered
// once it reaches maxRetries.
type OutboxWorker struct {
	logger     *slog.Logger
	outbox     ports.OutboxRepository
	publisher  ports.EventPublisher
	interval   time.Duration
	batchSize  int
	claimTTL   time.Duration
	maxRetries int
	nowFn      func() time.Time
}

// NewOutboxWorker constructs the outbox publisher loop. Zero values fall back
// to a 2s interval, batches of 100, a 30s claim and 5 retries.
func NewOutboxWorker(
	logger *slog.Logger,
	outbox ports.OutboxRepository,
	publisher ports.EventPublisher,
	interval time.Duration,
	batchSize int,
	claimTTL time.Duration,
	maxRetries int,
) *OutboxWorker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if claimTTL <= 0 {
		claimTTL = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &OutboxWorker{
		logger:     logger,
		outbox:     outbox,
		publisher:  publisher,
		interval:   interval,
		batchSize:  batchSize,
		claimTTL:   claimTTL,
		maxRetries: maxRetries,
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

// Run executes the periodic outbox publish loop until context cancellation.
func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.processOnce(ctx); err != nil {
			w.logger.ErrorContext(ctx, "outbox iteration failed",
				"module", "events.outbox_worker",
				"layer", "adapter",
				"operation", "outbox_process_once",
				"outcome", "failure",
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type batchStats struct {
	published    int
	failed       int
	deadLettered int
}

func (w *OutboxWorker) processOnce(ctx context.Context) error {
	claimToken := uuid.NewString()
	records, err := w.outbox.ClaimUnpublished(ctx, w.batchSize, claimToken, w.nowFn().Add(w.claimTTL))
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	now := w.nowFn()
	var stats batchStats
	for _, rec := range records {
		// Records claimed again after a crash may already be over the limit.
		if rec.RetryCount >= w.maxRetries {
			stats.deadLettered++
			w.deadLetter(ctx, rec, claimToken, "retry threshold reached before publish", now)
			continue
		}
		if err := w.publisher.Publish(ctx, rec.EventType, rec.PartitionKey, rec.Payload); err != nil {
			stats.failed++
			if w.recordFailure(ctx, rec, claimToken, err, now) {
				stats.deadLettered++
			}
			continue
		}
		stats.published++
		if err := w.outbox.MarkPublished(ctx, rec.OutboxID, claimToken, now); err != nil {
			w.logger.WarnContext(ctx, "outbox record published but not marked",
				w.attrs("mark_published", "failure", rec, "error", err)...)
		}
	}

	w.logger.InfoContext(ctx, "outbox batch processed",
		"module", "events.outbox_worker",
		"layer", "adapter",
		"operation", "outbox_process_once",
		"outcome", "success",
		"batch_size", len(records),
		"published_count", stats.published,
		"failed_count", stats.failed,
		"dead_lettered_count", stats.deadLettered,
	)
	return nil
}

// recordFailure schedules a retry or dead-letters the record. It reports
// whether the record was dead-lettered.
func (w *OutboxWorker) recordFailure(ctx context.Context, rec ports.OutboxRecord, claimToken string, publishErr error, now time.Time) bool {
	retries := rec.RetryCount + 1
	if retries >= w.maxRetries {
		w.logger.ErrorContext(ctx, "outbox message moved to dlq",
			w.attrs("publish_event", "failure", rec, "retry_count", retries, "error", publishErr)...)
		w.deadLetter(ctx, rec, claimToken, publishErr.Error(), now)
		return true
	}
	w.logger.WarnContext(ctx, "outbox publish failed; retry scheduled",
		w.attrs("publish_event", "failure", rec, "retry_count", retries, "error", publishErr)...)
	if err := w.outbox.MarkFailed(ctx, rec.OutboxID, claimToken, publishErr.Error(), now); err != nil {
		w.logger.WarnContext(ctx, "outbox failure not recorded",
			w.attrs("mark_failed", "failure", rec, "error", err)...)
	}
	return false
}

func (w *OutboxWorker) deadLetter(ctx context.Context, rec ports.OutboxRecord, claimToken, reason string, now time.Time) {
	if err := w.outbox.MarkDeadLettered(ctx, rec.OutboxID, claimToken, reason, now); err != nil {
		w.logger.WarnContext(ctx, "outbox dead letter not recorded",
			w.attrs("mark_dead_lettered", "failure", rec, "error", err)...)
	}
}

// attrs builds the structured fields shared by every per-record log line.
// Payloads are never logged, only their size.
func (w *OutboxWorker) attrs(operation, outcome string, rec ports.OutboxRecord, extra ...any) []any {
	base := []any{
		"module", "events.outbox_worker",
		"layer", "adapter",
		"operation", operation,
		"outcome", outcome,
		"outbox_id", rec.OutboxID,
		"event_type", rec.EventType,
		"partition_key", rec.PartitionKey,
		"payload_bytes", len(rec.Payload),
	}
	return append(base, extra...)
}
