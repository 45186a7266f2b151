// SPDX-License-Identifier: AGPL-3.0-only
package scheduler

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/jolks/persona-agent/internal/errors"
	"github.com/jolks/persona-agent/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(logging.Options{Output: io.Discard, Level: logging.Fatal})
}

func noop(context.Context) error { return nil }

func TestNewScheduler(t *testing.T) {
	s := NewScheduler(time.Minute, testLogger())
	if s == nil {
		t.Fatal("NewScheduler() returned nil")
	}
	if s.cron == nil {
		t.Error("Scheduler.cron is nil")
	}
	if s.jobs == nil {
		t.Error("Scheduler.jobs is nil")
	}
}

func TestAddJob(t *testing.T) {
	s := NewScheduler(time.Minute, testLogger())

	if err := s.AddJob("digest", "0 9 * * *", noop); err != nil {
		t.Fatalf("Failed to add job: %v", err)
	}
	if err := s.AddJob("digest", "0 9 * * *", noop); !errors.Is(err, apperrors.ErrAlreadyExists) {
		t.Errorf("Expected already exists error, got %v", err)
	}
	if err := s.AddJob("bad", "not a schedule", noop); err == nil {
		t.Error("Expected error for invalid schedule")
	}
	if err := s.AddJob("nil", "@hourly", nil); err == nil {
		t.Error("Expected error for nil job function")
	}

	jobs := s.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("Expected 1 job, got %d", len(jobs))
	}
	if jobs[0].Name != "digest" || jobs[0].Schedule != "0 9 * * *" {
		t.Errorf("Unexpected job %+v", jobs[0])
	}
}

func TestAddJob_SecondsField(t *testing.T) {
	s := NewScheduler(time.Minute, testLogger())
	if err := s.AddJob("fast", "*/5 * * * * *", noop); err != nil {
		t.Errorf("Expected six-field schedule to parse, got %v", err)
	}
}

func TestRemoveJob(t *testing.T) {
	s := NewScheduler(time.Minute, testLogger())
	if err := s.AddJob("digest", "@daily", noop); err != nil {
		t.Fatalf("Failed to add job: %v", err)
	}

	if err := s.RemoveJob("digest"); err != nil {
		t.Fatalf("Failed to remove job: %v", err)
	}
	if len(s.Jobs()) != 0 {
		t.Error("Expected no jobs after removal")
	}
	if err := s.RemoveJob("digest"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected not found error, got %v", err)
	}
}

func TestJobsSortedByName(t *testing.T) {
	s := NewScheduler(time.Minute, testLogger())
	for _, name := range []string{"c", "a", "b"} {
		if err := s.AddJob(name, "@hourly", noop); err != nil {
			t.Fatalf("Failed to add job: %v", err)
		}
	}

	jobs := s.Jobs()
	if jobs[0].Name != "a" || jobs[1].Name != "b" || jobs[2].Name != "c" {
		t.Errorf("Expected jobs sorted by name, got %v", jobs)
	}
}

func TestRunNow(t *testing.T) {
	s := NewScheduler(time.Minute, testLogger())
	var calls int32
	if err := s.AddJob("count", "@yearly", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("smtp down")
	}); err != nil {
		t.Fatalf("Failed to add job: %v", err)
	}

	if err := s.RunNow("count"); err == nil || err.Error() != "smtp down" {
		t.Errorf("Expected job error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}

	status := s.Jobs()[0]
	if status.Runs != 1 || status.LastError != "smtp down" || status.LastRun.IsZero() {
		t.Errorf("Unexpected status %+v", status)
	}
	if err := s.RunNow("missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected not found error, got %v", err)
	}
}

func TestRunNow_AppliesTimeout(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, testLogger())
	if err := s.AddJob("slow", "@yearly", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}); err != nil {
		t.Fatalf("Failed to add job: %v", err)
	}

	if err := s.RunNow("slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestScheduledExecution(t *testing.T) {
	s := NewScheduler(time.Minute, testLogger())
	ran := make(chan struct{}, 1)
	if err := s.AddJob("tick", "* * * * * *", func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("Failed to add job: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("Expected job to run within 3 seconds")
	}

	if s.Jobs()[0].NextRun.IsZero() {
		t.Error("Expected next run to be set once started")
	}
}
