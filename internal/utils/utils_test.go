package utils

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLatencyTrackerSnapshot(t *testing.T) {
	tracker := NewLatencyTracker(10)
	for i := 1; i <= 5; i++ {
		tracker.Observe(time.Duration(i*10) * time.Millisecond)
	}

	snap := tracker.Snapshot()
	if snap.Count != 5 {
		t.Fatalf("expected count 5, got %d", snap.Count)
	}
	if snap.P50 != 30*time.Millisecond || snap.Max != 50*time.Millisecond {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if p95 := tracker.Percentile(95); p95 < 40*time.Millisecond {
		t.Fatalf("expected percentile >= 40ms, got %v", p95)
	}
}

func TestLatencyTrackerKeepsNewestWindow(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 0; i < 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 3 {
		t.Fatalf("expected tracker size 3, got %d", tracker.Count())
	}
	if min := tracker.Percentile(0); min != 7*time.Millisecond {
		t.Fatalf("expected oldest kept sample 7ms, got %v", min)
	}
}

func TestCommitClockMondayIsZero(t *testing.T) {
	// 2024-04-01 is a Monday; 23:30 in UTC-2 is 01:30 Tuesday in UTC.
	local := time.Date(2024, 4, 1, 23, 30, 0, 0, time.FixedZone("x", -2*3600))
	hour, day := CommitClock(local)
	if hour != 1 || day != 1 {
		t.Fatalf("CommitClock = %d, %d", hour, day)
	}
	if _, day := CommitClock(time.Date(2024, 4, 7, 12, 0, 0, 0, time.UTC)); day != 6 {
		t.Fatalf("expected Sunday to be 6, got %d", day)
	}
}

func TestParseRFC3339(t *testing.T) {
	got, err := ParseRFC3339("2024-04-01T10:00:00+02:00")
	if err != nil || !got.Equal(time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("ParseRFC3339 = %v, %v", got, err)
	}
	if zero, err := ParseRFC3339(""); err != nil || !zero.IsZero() {
		t.Fatalf("empty value must give zero time")
	}
	if _, err := ParseRFC3339("yesterday"); err == nil {
		t.Fatalf("expected parse error")
	}
	if FormatRFC3339(time.Time{}) != "" {
		t.Fatalf("zero time must format empty")
	}
}

func TestAppErrorKind(t *testing.T) {
	cause := errors.New("no rows")
	err := fmt.Errorf("wrapped: %w", NewAppError("GetModel", KindNotFound, "no model trained", cause))
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause must stay reachable")
	}
	if KindOf(cause) != KindInternal {
		t.Fatalf("plain errors are internal")
	}
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("warning", true, &buf)
	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"k":"v"`) {
		t.Fatalf("unexpected log output %q", out)
	}
}
