/*
 * Triggerr
 * Copyright (C) 2025  Triggerr, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package scheduler runs named interval tasks, the policy monitor sweep and
// the quote expiry sweep among them, and records every execution.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/e3o8o/triggerr-sub002/lib/utils"
)

// ExecutionStatus is the recorded outcome of one task run.
type ExecutionStatus string

const (
	ExecutionSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionFailed    ExecutionStatus = "FAILED"
)

// TaskRecord is the persisted registration of a scheduled task.
type TaskRecord struct {
	// Name identifies the task.
	Name string `json:"name"`
	// Interval is the nominal period between runs.
	Interval time.Duration `json:"interval"`
	// Enabled is false for tasks that are registered but paused.
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Execution is one recorded task run.
type Execution struct {
	// ID is the execution identifier.
	ID string `json:"id"`
	// TaskName is the task that ran.
	TaskName   string          `json:"task_name"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Status     ExecutionStatus `json:"status"`
	// Error carries the failure message for FAILED executions.
	Error string `json:"error,omitempty"`
}

// Store persists task registrations and execution records. Implemented by
// lib/storage.
type Store interface {
	// UpsertTask registers or refreshes a task record.
	UpsertTask(ctx context.Context, task *TaskRecord) error
	// RecordExecution appends one execution record.
	RecordExecution(ctx context.Context, execution *Execution) error
	// ListExecutions returns the most recent executions of a task, newest
	// first, capped at limit.
	ListExecutions(ctx context.Context, taskName string, limit int) ([]Execution, error)
}

// Task is a named function run on an interval.
type Task struct {
	// Name identifies the task, unique within a scheduler.
	Name string
	// Interval is the period between runs. The first run happens one
	// jittered interval after Start.
	Interval time.Duration
	// Run does the work. Run errors are recorded, the loop keeps going.
	Run func(ctx context.Context) error
}

func (t *Task) check() error {
	if t.Name == "" {
		return trace.BadParameter("missing parameter Name")
	}
	if t.Interval <= 0 {
		return trace.BadParameter("task %v has a non-positive interval", t.Name)
	}
	if t.Run == nil {
		return trace.BadParameter("task %v is missing its Run function", t.Name)
	}
	return nil
}

// Config configures a Scheduler.
type Config struct {
	// Store records task registrations and executions.
	Store Store
	// Jitter is applied to every interval so co-scheduled instances spread
	// out. Defaults to a seventh jitter.
	Jitter utils.Jitter
	// Clock is optional and can be used to control time in tests.
	Clock clockwork.Clock
	// Log is the scheduler's log.
	Log *slog.Logger
}

// CheckAndSetDefaults checks and sets defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing parameter Store")
	}
	if c.Jitter == nil {
		c.Jitter = utils.NewSeventhJitter()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	c.Log = c.Log.With("component", "scheduler")
	return nil
}

// New returns a Scheduler. Tasks are added with Add before Start.
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Scheduler{cfg: cfg}, nil
}

// Scheduler runs each added task on its own jittered interval loop until
// Close or context cancellation.
type Scheduler struct {
	cfg Config

	mu      sync.Mutex
	tasks   []Task
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Add registers a task. All tasks must be added before Start.
func (s *Scheduler) Add(task Task) error {
	if err := task.check(); err != nil {
		return trace.Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return trace.CompareFailed("scheduler is already started")
	}
	for _, existing := range s.tasks {
		if existing.Name == task.Name {
			return trace.AlreadyExists("task %v is already registered", task.Name)
		}
	}
	s.tasks = append(s.tasks, task)
	return nil
}

// Start registers the task records and launches one loop per task. It
// returns once the loops are running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return trace.CompareFailed("scheduler is already started")
	}
	now := s.cfg.Clock.Now().UTC()
	for _, task := range s.tasks {
		err := s.cfg.Store.UpsertTask(ctx, &TaskRecord{
			Name:      task.Name,
			Interval:  task.Interval,
			Enabled:   true,
			UpdatedAt: now,
		})
		if err != nil {
			return trace.Wrap(err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true
	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.runLoop(ctx, task)
	}
	s.cfg.Log.InfoContext(ctx, "Scheduler started.", "tasks", len(s.tasks))
	return nil
}

// Close stops the loops and waits for in-flight runs to return.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	return nil
}

func (s *Scheduler) runLoop(ctx context.Context, task Task) {
	defer s.wg.Done()
	timer := s.cfg.Clock.NewTimer(s.cfg.Jitter(task.Interval))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
			s.runTask(ctx, task)
			timer.Reset(s.cfg.Jitter(task.Interval))
		}
	}
}

func (s *Scheduler) runTask(ctx context.Context, task Task) {
	started := s.cfg.Clock.Now().UTC()
	err := task.Run(ctx)
	execution := &Execution{
		ID:         uuid.NewString(),
		TaskName:   task.Name,
		StartedAt:  started,
		FinishedAt: s.cfg.Clock.Now().UTC(),
		Status:     ExecutionSucceeded,
	}
	if err != nil {
		execution.Status = ExecutionFailed
		execution.Error = err.Error()
		s.cfg.Log.WarnContext(ctx, "Task run failed.", "task", task.Name, "error", err)
	}
	if err := s.cfg.Store.RecordExecution(ctx, execution); err != nil {
		s.cfg.Log.ErrorContext(ctx, "Failed to record task execution.", "task", task.Name, "error", err)
	}
}
