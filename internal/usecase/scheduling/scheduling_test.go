package scheduling

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestSchedulerActionFires(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(nil)
	s.RegisterAction(ActionPatternFlush, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	if err := s.AddTask(ScheduledTask{Name: "flush", Schedule: "50ms", Action: ActionPatternFlush}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	s.Start(context.Background())
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if c := count.Load(); c < 1 {
		t.Errorf("action fired %d times, expected at least 1", c)
	}
}

func TestSchedulerFailingActionKeepsRunning(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(nil)
	s.RegisterAction(ActionPatternBackup, func(ctx context.Context) error {
		count.Add(1)
		return errors.New("disk full")
	})
	s.AddTask(ScheduledTask{Name: "backup", Schedule: "30ms", Action: ActionPatternBackup})

	s.Start(context.Background())
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if c := count.Load(); c < 2 {
		t.Errorf("failing action fired %d times, expected it to keep firing", c)
	}
}

func TestSchedulerAddTaskErrors(t *testing.T) {
	s := NewScheduler(nil)
	s.RegisterAction(ActionPatternFlush, func(context.Context) error { return nil })

	tests := []struct {
		name string
		task ScheduledTask
	}{
		{"unknown action", ScheduledTask{Name: "x", Schedule: "1m", Action: "does_not_exist"}},
		{"missing name", ScheduledTask{Schedule: "1m", Action: ActionPatternFlush}},
		{"bad schedule", ScheduledTask{Name: "x", Schedule: "whenever", Action: ActionPatternFlush}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.AddTask(tt.task); err == nil {
				t.Error("expected error")
			}
		})
	}

	if err := s.AddTask(ScheduledTask{Name: "flush", Schedule: "1m", Action: ActionPatternFlush}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := s.AddTask(ScheduledTask{Name: "flush", Schedule: "5m", Action: ActionPatternFlush}); err == nil {
		t.Error("expected duplicate task name to fail")
	}
}

func TestSchedulerStopHaltsTasks(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(nil)
	s.RegisterAction(ActionSessionPrune, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	s.AddTask(ScheduledTask{Name: "prune", Schedule: "50ms", Action: ActionSessionPrune})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(150 * time.Millisecond)
	cancel()
	s.Stop()

	after := count.Load()
	time.Sleep(100 * time.Millisecond)
	if count.Load() != after {
		t.Error("task continued after Stop")
	}
}

func TestSchedulerTasksAndRemove(t *testing.T) {
	s := NewScheduler(nil)
	s.RegisterAction(ActionPatternFlush, func(context.Context) error { return nil })
	s.RegisterAction(ActionSessionPrune, func(context.Context) error { return nil })
	s.AddTask(ScheduledTask{Name: "prune", Schedule: "@every 1m", Action: ActionSessionPrune})
	s.AddTask(ScheduledTask{Name: "flush", Schedule: "*/5 * * * *", Action: ActionPatternFlush})

	s.Start(context.Background())
	defer s.Stop()

	tasks := s.Tasks()
	if len(tasks) != 2 || tasks[0].Name != "flush" || tasks[1].Name != "prune" {
		t.Fatalf("Tasks = %+v", tasks)
	}
	if tasks[0].Next.IsZero() {
		t.Error("running task should have a next run time")
	}

	if err := s.RemoveTask("flush"); err != nil {
		t.Fatalf("RemoveTask: %v", err)
	}
	if err := s.RemoveTask("flush"); err == nil {
		t.Error("removing twice should fail")
	}
	if len(s.Tasks()) != 1 {
		t.Errorf("Tasks len = %d, want 1", len(s.Tasks()))
	}
}

func TestSchedulerRunNow(t *testing.T) {
	s := NewScheduler(nil)
	var ran bool
	s.RegisterAction(ActionPatternFlush, func(context.Context) error {
		ran = true
		return nil
	})
	if err := s.RunNow(context.Background(), ActionPatternFlush); err != nil || !ran {
		t.Fatalf("RunNow: ran=%v err=%v", ran, err)
	}
	if err := s.RunNow(context.Background(), ActionPatternBackup); err == nil {
		t.Error("unregistered action should fail")
	}
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"*/5 * * * *", false},
		{"0 3 * * *", false},
		{"@hourly", false},
		{"@every 10m", false},
		{"30m", false},
		{"250ms", false},
		{"", true},
		{"-5m", true},
		{"0s", true},
		{"not a schedule", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := ParseSchedule(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSchedule(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestConstantDelay(t *testing.T) {
	sched, err := ParseSchedule("1500ms")
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	if got := sched.Next(start); !got.Equal(start.Add(1500 * time.Millisecond)) {
		t.Errorf("Next = %v", got)
	}
}
