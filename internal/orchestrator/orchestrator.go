// Package orchestrator runs application tasks under bounded concurrency,
// wrapping every unit of work in a PoD → execute → PoE proof envelope.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aamirshehzad9/GentleOmega/internal/proof"
)

// Task statuses.
const (
	TaskPending    = "pending"
	TaskProcessing = "processing"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// ErrQueueFull is returned by Submit when the task queue is at capacity.
// Callers decide whether to retry or reject upstream; the queue never grows
// unbounded.
var ErrQueueFull = errors.New("task queue full")

// ErrUnknownTaskType is returned by Submit for an unregistered task type.
var ErrUnknownTaskType = errors.New("unknown task type")

// Executor performs one unit of work for a task type.
type Executor func(ctx context.Context, data map[string]any) (map[string]any, error)

// Recorder is the proof surface tasks are wrapped in.
type Recorder interface {
	RecordPoD(ctx context.Context, data map[string]any, userID *string) (*proof.PodReceipt, error)
	RecordPoE(ctx context.Context, podHash string, result map[string]any, userID *string) (*proof.PoeReceipt, error)
	VerifyChain(ctx context.Context) (*proof.IntegrityResult, error)
}

// Pinger reports persistence reachability for the health snapshot.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Task is one submitted unit of work and its proof trail.
type Task struct {
	ID          string         `json:"task_id"`
	Type        string         `json:"task_type"`
	Data        map[string]any `json:"data"`
	Status      string         `json:"status"`
	PodHash     string         `json:"pod_hash,omitempty"`
	PoeHash     string         `json:"poe_hash,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

// DependencyHealth is the cached probe result for one dependency.
type DependencyHealth struct {
	OK        bool      `json:"ok"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Health is the orchestrator's administrative snapshot.
type Health struct {
	Status          string           `json:"status"`
	TasksProcessed  int64            `json:"tasks_processed"`
	TaskErrors      int64            `json:"task_errors"`
	ActiveTasks     int64            `json:"active_tasks"`
	QueueDepth      int              `json:"queue_depth"`
	Database        DependencyHealth `json:"database"`
	ChainIntegrity  DependencyHealth `json:"chain_integrity"`
	EmbeddingsReady DependencyHealth `json:"embeddings"`
}

// Config tunes the orchestrator.
type Config struct {
	MaxConcurrent   int           // simultaneous executions; default 5
	QueueSize       int           // bounded queue capacity; default 100
	MonitorInterval time.Duration // dependency re-check period; default 5m
	EmbeddingsReady bool          // readiness flag for the embeddings backend
}

// Orchestrator dispatches queued tasks to registered executors with a fixed
// concurrency bound.
type Orchestrator struct {
	recorder Recorder
	pinger   Pinger
	cfg      Config
	logger   *zap.Logger

	queue chan *Task
	sem   chan struct{}

	mu        sync.RWMutex
	executors map[string]Executor
	tasks     map[string]*Task
	deps      struct {
		database  DependencyHealth
		integrity DependencyHealth
	}

	processed atomic.Int64
	failures  atomic.Int64
	active    atomic.Int64
}

// New creates an Orchestrator with the built-in create_item executor
// registered. Call Start to begin dispatching.
func New(recorder Recorder, pinger Pinger, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 100
	}
	if cfg.MonitorInterval == 0 {
		cfg.MonitorInterval = 5 * time.Minute
	}

	o := &Orchestrator{
		recorder:  recorder,
		pinger:    pinger,
		cfg:       cfg,
		logger:    logger,
		queue:     make(chan *Task, cfg.QueueSize),
		sem:       make(chan struct{}, cfg.MaxConcurrent),
		executors: make(map[string]Executor),
		tasks:     make(map[string]*Task),
	}
	o.RegisterExecutor("create_item", createItem)
	return o
}

// RegisterExecutor binds an executor to a task type, replacing any previous
// binding.
func (o *Orchestrator) RegisterExecutor(taskType string, fn Executor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.executors[taskType] = fn
}

// Submit enqueues a task and returns its identifier without waiting for
// execution. A full queue is rejected immediately with ErrQueueFull.
func (o *Orchestrator) Submit(taskType string, data map[string]any) (string, error) {
	o.mu.RLock()
	_, known := o.executors[taskType]
	o.mu.RUnlock()
	if !known {
		return "", fmt.Errorf("%w: %s", ErrUnknownTaskType, taskType)
	}

	task := &Task{
		ID:          uuid.NewString(),
		Type:        taskType,
		Data:        data,
		Status:      TaskPending,
		SubmittedAt: time.Now().UTC(),
	}

	o.mu.Lock()
	o.tasks[task.ID] = task
	o.mu.Unlock()

	select {
	case o.queue <- task:
	default:
		o.mu.Lock()
		delete(o.tasks, task.ID)
		o.mu.Unlock()
		return "", ErrQueueFull
	}

	o.logger.Debug("task queued",
		zap.String("task_id", task.ID),
		zap.String("task_type", taskType),
	)
	return task.ID, nil
}

// Task returns a copy of the task with the given id.
func (o *Orchestrator) Task(id string) (*Task, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	task, ok := o.tasks[id]
	if !ok {
		return nil, false
	}
	copied := *task
	return &copied, true
}

// Start launches the dispatcher and the dependency monitor. Both stop when
// ctx is cancelled; in-flight tasks are allowed to finish.
func (o *Orchestrator) Start(ctx context.Context) {
	o.CheckDependencies(ctx)
	go o.dispatch(ctx)
	go o.monitor(ctx)
}

// dispatch pulls tasks off the queue, blocking on the semaphore when the
// concurrency bound is reached.
func (o *Orchestrator) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-o.queue:
			select {
			case o.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(task *Task) {
				defer func() { <-o.sem }()
				o.execute(ctx, task)
			}(task)
		}
	}
}

// execute runs one task inside its proof envelope. A failure anywhere marks
// the task failed without disturbing the dispatcher or other tasks.
func (o *Orchestrator) execute(ctx context.Context, task *Task) {
	o.active.Add(1)
	defer o.active.Add(-1)

	o.setStatus(task.ID, TaskProcessing, nil)

	o.mu.RLock()
	executor := o.executors[task.Type]
	o.mu.RUnlock()

	podReceipt, err := o.recorder.RecordPoD(ctx, map[string]any{
		"task_id":   task.ID,
		"task_type": task.Type,
		"data":      task.Data,
	}, nil)
	if err != nil {
		o.finish(task, nil, fmt.Errorf("record pod: %w", err))
		return
	}

	result, err := executor(ctx, task.Data)
	if err != nil {
		o.finish(task, nil, err)
		return
	}

	poeReceipt, err := o.recorder.RecordPoE(ctx, podReceipt.PodHash, result, nil)
	if err != nil {
		o.finish(task, nil, fmt.Errorf("record poe: %w", err))
		return
	}

	o.mu.Lock()
	if stored, ok := o.tasks[task.ID]; ok {
		stored.PodHash = podReceipt.PodHash
		stored.PoeHash = poeReceipt.PoeHash
	}
	o.mu.Unlock()

	o.finish(task, result, nil)
}

// finish records a task's terminal state and counters.
func (o *Orchestrator) finish(task *Task, result map[string]any, err error) {
	o.processed.Add(1)
	if err != nil {
		o.failures.Add(1)
		o.setStatus(task.ID, TaskFailed, err)
		o.logger.Error("task failed",
			zap.String("task_id", task.ID),
			zap.String("task_type", task.Type),
			zap.Error(err),
		)
		return
	}

	o.mu.Lock()
	if stored, ok := o.tasks[task.ID]; ok {
		stored.Result = result
	}
	o.mu.Unlock()
	o.setStatus(task.ID, TaskCompleted, nil)
	o.logger.Info("task completed",
		zap.String("task_id", task.ID),
		zap.String("task_type", task.Type),
	)
}

func (o *Orchestrator) setStatus(id, status string, err error) {
	now := time.Now().UTC()
	o.mu.Lock()
	defer o.mu.Unlock()
	task, ok := o.tasks[id]
	if !ok {
		return
	}
	task.Status = status
	if err != nil {
		task.Error = err.Error()
	}
	if status == TaskCompleted || status == TaskFailed {
		task.FinishedAt = &now
	}
}

// CheckDependencies probes the database and the chain integrity once,
// caching the results for the health snapshot.
func (o *Orchestrator) CheckDependencies(ctx context.Context) {
	now := time.Now().UTC()

	db := DependencyHealth{OK: true, CheckedAt: now}
	if err := o.pinger.Ping(ctx); err != nil {
		db = DependencyHealth{OK: false, Detail: err.Error(), CheckedAt: now}
	}

	integrity := DependencyHealth{OK: true, CheckedAt: now}
	result, err := o.recorder.VerifyChain(ctx)
	switch {
	case err != nil:
		integrity = DependencyHealth{OK: false, Detail: err.Error(), CheckedAt: now}
	case result.Integrity != "intact":
		integrity = DependencyHealth{
			OK:        false,
			Detail:    fmt.Sprintf("%d broken links", len(result.BrokenLinks)),
			CheckedAt: now,
		}
	}

	o.mu.Lock()
	o.deps.database = db
	o.deps.integrity = integrity
	o.mu.Unlock()

	if !db.OK || !integrity.OK {
		o.logger.Warn("dependency check degraded",
			zap.Bool("database_ok", db.OK),
			zap.Bool("integrity_ok", integrity.OK),
		)
	}
}

// monitor re-checks dependencies on a fixed interval until ctx is cancelled.
func (o *Orchestrator) monitor(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.CheckDependencies(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Health returns the current snapshot. Degraded dependencies are reported in
// the body, never as a failure.
func (o *Orchestrator) Health() *Health {
	o.mu.RLock()
	db := o.deps.database
	integrity := o.deps.integrity
	o.mu.RUnlock()

	embeddings := DependencyHealth{OK: o.cfg.EmbeddingsReady, CheckedAt: time.Now().UTC()}
	if !embeddings.OK {
		embeddings.Detail = "embeddings backend not configured"
	}

	h := &Health{
		Status:          "healthy",
		TasksProcessed:  o.processed.Load(),
		TaskErrors:      o.failures.Load(),
		ActiveTasks:     o.active.Load(),
		QueueDepth:      len(o.queue),
		Database:        db,
		ChainIntegrity:  integrity,
		EmbeddingsReady: embeddings,
	}
	if !db.OK || !integrity.OK {
		h.Status = "degraded"
	}
	return h
}

// createItem is the built-in executor: it materialises an item record from
// the task payload.
func createItem(_ context.Context, data map[string]any) (map[string]any, error) {
	name, _ := data["name"].(string)
	if name == "" {
		return nil, errors.New("create_item: name is required")
	}
	return map[string]any{
		"status":     "completed",
		"item_id":    uuid.NewString(),
		"name":       name,
		"attributes": data,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}
