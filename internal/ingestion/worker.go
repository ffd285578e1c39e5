package ingestion

import (
	"context"
	"sync"
	"time"

	"github.com/ferrebot/ferrebot-backend/internal/domain"
	"github.com/ferrebot/ferrebot-backend/internal/platform/logger"
	"github.com/ferrebot/ferrebot-backend/internal/repos"
	"github.com/ferrebot/ferrebot-backend/internal/utils"
)

// ChangeWorker drains the pending-change queue the storefront webhook
// feeds. Changes for the same upstream id never run concurrently, and
// a queue past its bound sheds the oldest entries and asks for a full
// reconcile to recover the gap.
type ChangeWorker struct {
	pending    repos.PendingChangeRepo
	reconciler *Reconciler
	log        *logger.Logger

	interval    time.Duration
	maxQueue    int
	maxAttempts int
	retryBase   time.Duration

	// onOverflow is invoked once per shed so the caller can schedule a
	// full reconcile.
	onOverflow func()

	mu       sync.Mutex
	inFlight map[string]bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewChangeWorker(pending repos.PendingChangeRepo, reconciler *Reconciler, baseLog *logger.Logger, onOverflow func()) *ChangeWorker {
	return &ChangeWorker{
		pending:     pending,
		reconciler:  reconciler,
		log:         baseLog.With("component", "ChangeWorker"),
		interval:    utils.GetEnvAsDuration("CHANGE_WORKER_INTERVAL", 2*time.Second, nil),
		maxQueue:    utils.GetEnvAsInt("CHANGE_QUEUE_MAX", 10000, nil),
		maxAttempts: utils.GetEnvAsInt("CHANGE_MAX_ATTEMPTS", 5, nil),
		retryBase:   utils.GetEnvAsDuration("CHANGE_RETRY_BASE", 5*time.Second, nil),
		onOverflow:  onOverflow,
		inFlight:    map[string]bool{},
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

func (w *ChangeWorker) Start(ctx context.Context) {
	go func() {
		defer close(w.doneCh)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.tick(ctx)
			}
		}
	}()
}

func (w *ChangeWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *ChangeWorker) tick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			w.log.Error("Change worker tick panicked", "panic", rec)
		}
	}()

	w.shedIfOverflowing(ctx)

	for i := 0; i < 50; i++ {
		if ctx.Err() != nil {
			return
		}
		w.mu.Lock()
		snapshot := make(map[string]bool, len(w.inFlight))
		for k, v := range w.inFlight {
			snapshot[k] = v
		}
		w.mu.Unlock()

		change, err := w.pending.ClaimNextRunnable(ctx, snapshot, w.maxAttempts)
		if err != nil {
			w.log.Warn("Claim pending change failed", "error", err.Error())
			return
		}
		if change == nil {
			return
		}
		w.process(ctx, change)
	}
}

func (w *ChangeWorker) process(ctx context.Context, change *domain.PendingChange) {
	w.mu.Lock()
	if w.inFlight[change.UpstreamID] {
		w.mu.Unlock()
		return
	}
	w.inFlight[change.UpstreamID] = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.inFlight, change.UpstreamID)
		w.mu.Unlock()
	}()

	err := w.reconciler.ReconcileItem(ctx, change.Kind, change.UpstreamID, change.Op == domain.ChangeOpDelete)
	if err != nil {
		delay := w.retryBase * time.Duration(1<<change.Attempts)
		w.log.Warn("Pending change failed",
			"upstream_id", change.UpstreamID,
			"op", string(change.Op),
			"attempt", change.Attempts+1,
			"retry_in", delay.String(),
			"error", err.Error(),
		)
		if mErr := w.pending.MarkFailed(ctx, change.ID, delay); mErr != nil {
			w.log.Error("Mark pending change failed", "error", mErr.Error())
		}
		return
	}
	if err := w.pending.MarkProcessed(ctx, change.ID); err != nil {
		w.log.Error("Mark pending change processed", "error", err.Error())
	}
}

func (w *ChangeWorker) shedIfOverflowing(ctx context.Context) {
	count, err := w.pending.CountUnprocessed(ctx)
	if err != nil || count <= int64(w.maxQueue) {
		return
	}
	shed, err := w.pending.ShedOldest(ctx, int(count)-w.maxQueue)
	if err != nil {
		w.log.Error("Shedding pending changes failed", "error", err.Error())
		return
	}
	w.log.Warn("Pending change queue overflowed",
		"queue", count,
		"max", w.maxQueue,
		"shed", shed,
	)
	if w.onOverflow != nil {
		w.onOverflow()
	}
}
