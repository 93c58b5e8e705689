package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressReporter_EmitAndSubscribe(t *testing.T) {
	pr := NewProgressReporter()
	defer pr.Close()

	ch := pr.Subscribe()
	want := ProgressEvent{
		CeremonyID: "cer-1",
		Task:       "t-audit",
		Status:     ProgressStarted,
		Message:    "running",
	}

	pr.Emit(want)

	select {
	case got := <-ch:
		assert.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for progress event")
	}
}

func TestProgressReporter_EmitWhenFull_DoesNotBlock(t *testing.T) {
	pr := NewProgressReporter()
	defer pr.Close()

	// The internal channel buffer is 64. Emitting 100 events must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			pr.Emit(ProgressEvent{
				CeremonyID: "cer-1",
				Task:       "t-audit",
				Status:     ProgressDispatched,
			})
		}
		close(done)
	}()

	select {
	case <-done:
		// Success: all 100 emits returned without blocking.
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked when the channel was full")
	}
}

func TestProgressReporter_Close_ChannelClosed(t *testing.T) {
	pr := NewProgressReporter()
	ch := pr.Subscribe()

	pr.Emit(ProgressEvent{
		CeremonyID: "cer-1",
		Task:       "t-audit",
		Status:     ProgressComplete,
	})
	pr.Close()

	// Range over the channel; it must terminate because Close was called.
	var received []ProgressEvent
	for ev := range ch {
		received = append(received, ev)
	}
	require.Len(t, received, 1)
	assert.Equal(t, ProgressComplete, received[0].Status)
}

func TestFormatProgress_AllStatuses(t *testing.T) {
	tests := []struct {
		name   string
		event  ProgressEvent
		expect string
	}{
		{
			name:   "dispatched",
			event:  ProgressEvent{Task: "t-audit", Status: ProgressDispatched},
			expect: "  ○ t-audit dispatched",
		},
		{
			name:   "started",
			event:  ProgressEvent{Task: "t-audit", Status: ProgressStarted},
			expect: "  ● t-audit...",
		},
		{
			name:   "complete",
			event:  ProgressEvent{Task: "t-audit", Status: ProgressComplete},
			expect: "  ✓ t-audit complete",
		},
		{
			name:   "failed",
			event:  ProgressEvent{Task: "t-audit", Status: ProgressFailed, Message: "timeout"},
			expect: "  ✗ t-audit failed: timeout",
		},
		{
			name:   "requeued",
			event:  ProgressEvent{Task: "t-audit", Status: ProgressRequeued, Message: "attempt 2 of 3"},
			expect: "  ↻ t-audit requeued: attempt 2 of 3",
		},
		{
			name:   "timed out",
			event:  ProgressEvent{Task: "t-audit", Status: ProgressTimedOut, Message: "after 10m0s"},
			expect: "  ⧖ t-audit timed out: after 10m0s",
		},
		{
			name:   "skipped",
			event:  ProgressEvent{Task: "t-audit", Status: ProgressSkipped},
			expect: "  - t-audit skipped",
		},
		{
			name:   "ceremony",
			event:  ProgressEvent{CeremonyID: "cer-1", Status: ProgressCeremony, Message: "ceremony started"},
			expect: "[cer-1] ceremony started",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatProgress(tt.event)
			assert.Equal(t, tt.expect, got)
		})
	}
}

func TestProgressReporter_EmitAfterClose_Dropped(t *testing.T) {
	pr := NewProgressReporter()
	ch := pr.Subscribe()

	pr.Close()
	pr.Emit(ProgressEvent{CeremonyID: "cer-1", Status: ProgressCeremony, Message: "late"})
	pr.Close()

	var got []ProgressEvent
	for ev := range ch {
		got = append(got, ev)
	}
	assert.Empty(t, got)
}
