package logger

import (
	"bytes"
	"os"
	"sync"
	"testing"
	"time"
)

// capture redirects output to a buffer for one test.
func capture(t *testing.T, verboseMode bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(verboseMode)
	t.Cleanup(func() {
		SetVerbose(false)
		SetTimestamps(false)
		SetOutput(os.Stderr)
		now = time.Now
	})
	return &buf
}

func TestSetVerbose(t *testing.T) {
	capture(t, false)
	if IsVerbose() {
		t.Fatal("expected verbose off")
	}
	SetVerbose(true)
	if !IsVerbose() {
		t.Fatal("expected verbose on")
	}
}

func TestLevels(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		log     func()
		want    string
	}{
		{"debug verbose", true, func() { Debug("fetched %d pages", 3) }, "[DEBUG] fetched 3 pages\n"},
		{"debug quiet", false, func() { Debug("fetched %d pages", 3) }, ""},
		{"info verbose", true, func() { Info("account %s synced", "acc-1") }, "[INFO] account acc-1 synced\n"},
		{"info quiet", false, func() { Info("account %s synced", "acc-1") }, ""},
		{"warn verbose", true, func() { Warn("watch expires soon") }, "[WARN] watch expires soon\n"},
		{"error quiet", false, func() { Error("sync failed: %v", "boom") }, "[ERROR] sync failed: boom\n"},
		{"section verbose", true, func() { Section("Transform") }, "\n=== Transform ===\n"},
		{"section quiet", false, func() { Section("Transform") }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := capture(t, tt.verbose)
			tt.log()
			if got := buf.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTimestamps(t *testing.T) {
	buf := capture(t, true)
	SetTimestamps(true)
	now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	Info("ready")

	if buf.String() != "2026-01-02T03:04:05Z [INFO] ready\n" {
		t.Errorf("unexpected timestamped output: %q", buf.String())
	}
}

func TestConcurrentWrites(t *testing.T) {
	buf := capture(t, true)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Debug("worker %d", i)
		}()
	}
	wg.Wait()

	if got := bytes.Count(buf.Bytes(), []byte("\n")); got != 10 {
		t.Errorf("expected 10 lines, got %d", got)
	}
}
