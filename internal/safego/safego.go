// Package safego runs helpdesk background tasks (audit writes, audit shipping, the key
// expiry notifier) so that a panic in one of them is logged and counted instead of taking
// down the server.
package safego

import (
	"log/slog"
	"runtime/debug"

	"github.com/helpdesk-io/helpdesk/internal/telemetry"
)

// Go runs fn in a new goroutine under the given task name. A panic is recovered, logged
// with its stack and counted in background_panics_total. The returned channel is closed
// once fn has returned or panicked.
func Go(task string, fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				telemetry.BackgroundPanicsTotal.WithLabelValues(task).Inc()
				slog.Error("recovered panic in background task",
					"task", task, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
	return done
}
