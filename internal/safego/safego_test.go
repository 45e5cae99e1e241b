package safego

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/helpdesk-io/helpdesk/internal/telemetry"
)

func panicCount(t *testing.T, task string) float64 {
	t.Helper()
	var m dto.Metric
	if err := telemetry.BackgroundPanicsTotal.WithLabelValues(task).Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestGo_RunsTask(t *testing.T) {
	ran := false
	wait(t, Go("audit-write", func() { ran = true }))
	if !ran {
		t.Error("task did not run")
	}
	if got := panicCount(t, "audit-write"); got != 0 {
		t.Errorf("panics = %v, want 0", got)
	}
}

func TestGo_RecoversAndCountsPanic(t *testing.T) {
	before := panicCount(t, "key-expiry-notifier")

	wait(t, Go("key-expiry-notifier", func() { panic("mailer exploded") }))

	if got := panicCount(t, "key-expiry-notifier") - before; got != 1 {
		t.Errorf("panic delta = %v, want 1", got)
	}
}
