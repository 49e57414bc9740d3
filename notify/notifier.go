// Package notify holds the outbound notification collaborator boundary.
package notify

import (
	"log/slog"
	"sync/atomic"

	"chat-core/domain"
)

// LogNotifier is the in-process stand-in for the platform's push/email
// service. It only records the intent; a deployment wires a real client
// behind the same contract.Notifier interface.
type LogNotifier struct {
	log   *slog.Logger
	count atomic.Int64
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(user domain.UserID, preview string) {
	n.count.Add(1)
	n.log.Info("Offline notification queued", "user_id", user, "preview", preview)
}

// Sent is a gauge for the telemetry reporter.
func (n *LogNotifier) Sent() int64 {
	return n.count.Load()
}
