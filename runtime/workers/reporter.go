package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"chat-core/notify"
	"chat-core/runtime"
)

// ReporterWorker logs process health (CPU, RSS) together with the core's
// live gauges at a fixed interval. It replaces nothing critical; operators
// read these lines when a node looks unhealthy.
type ReporterWorker struct {
	log      *slog.Logger
	interval time.Duration
	registry *runtime.Registry
	router   *runtime.Router
	notifier *notify.LogNotifier
}

func NewReporterWorker(log *slog.Logger, interval time.Duration,
	registry *runtime.Registry, router *runtime.Router, notifier *notify.LogNotifier) *ReporterWorker {
	return &ReporterWorker{
		log:      log,
		interval: interval,
		registry: registry,
		router:   router,
		notifier: notifier,
	}
}

func (w *ReporterWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rss, cpu, err := selfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			w.log.Info("Core health",
				"connections", w.registry.TotalConnections(),
				"rooms", w.router.RoomCount(),
				"notifications_sent", w.notifier.Sent(),
				"cpu_percent", cpu,
				"ram_bytes", rss)
		}
	}
}

// selfStats retrieves memory and CPU usage for the given process.
func selfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
