package workers

import (
	"context"
	"log/slog"
	"time"

	"chat-core/typing"
)

// TypingSweeperWorker periodically expires stale typing marks so a client
// that disconnects mid-keystroke is seen to stop typing within one TTL.
type TypingSweeperWorker struct {
	coordinator *typing.Coordinator
	interval    time.Duration
	log         *slog.Logger
}

func NewTypingSweeperWorker(log *slog.Logger, coordinator *typing.Coordinator) *TypingSweeperWorker {
	// sweeping at half the TTL keeps worst-case staleness under 1.5x TTL
	return &TypingSweeperWorker{
		coordinator: coordinator,
		interval:    coordinator.TTL() / 2,
		log:         log,
	}
}

func (w *TypingSweeperWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping typing sweeper")
			return ctx.Err()
		case <-ticker.C:
			w.coordinator.Sweep(ctx)
		}
	}
}
