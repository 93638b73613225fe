package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aamirshehzad9/GentleOmega/internal/ledger"
	"github.com/aamirshehzad9/GentleOmega/internal/proof"
)

func newOrchestrator(t *testing.T, cfg Config) (*Orchestrator, *ledger.MemoryStore, context.CancelFunc) {
	t.Helper()
	store := ledger.NewMemory()
	recorder := proof.NewRecorder(store, zap.NewNop())
	o := New(recorder, store, cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	o.Start(ctx)
	return o, store, cancel
}

// waitTerminal polls until the task reaches completed or failed.
func waitTerminal(t *testing.T, o *Orchestrator, id string) *Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if task, ok := o.Task(id); ok &&
			(task.Status == TaskCompleted || task.Status == TaskFailed) {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal state", id)
	return nil
}

func TestSubmitWrapsWorkInProofEnvelope(t *testing.T) {
	o, store, cancel := newOrchestrator(t, Config{})
	defer cancel()

	id, err := o.Submit("create_item", map[string]any{"name": "widget"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	task := waitTerminal(t, o, id)
	if task.Status != TaskCompleted {
		t.Fatalf("task status = %s (%s), want completed", task.Status, task.Error)
	}
	if task.PodHash == "" || task.PoeHash == "" {
		t.Errorf("task missing proof hashes: pod=%q poe=%q", task.PodHash, task.PoeHash)
	}
	if task.Result["item_id"] == "" {
		t.Errorf("result = %+v, want a created item", task.Result)
	}

	// The proof trail landed in the ledger: one pod entry, one poe entry.
	entries, err := store.List(context.Background(), 10, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	types := map[string]int{}
	for _, e := range entries {
		types[e.ContentType]++
	}
	if types["pod"] != 1 || types["poe"] != 1 {
		t.Errorf("ledger entry types = %v, want one pod and one poe", types)
	}
}

func TestSubmitUnknownTaskType(t *testing.T) {
	o, _, cancel := newOrchestrator(t, Config{})
	defer cancel()

	if _, err := o.Submit("teleport", nil); !errors.Is(err, ErrUnknownTaskType) {
		t.Errorf("err = %v, want ErrUnknownTaskType", err)
	}
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	store := ledger.NewMemory()
	recorder := proof.NewRecorder(store, zap.NewNop())
	// No Start: nothing drains the queue.
	o := New(recorder, store, Config{QueueSize: 2}, zap.NewNop())

	for i := 0; i < 2; i++ {
		if _, err := o.Submit("create_item", map[string]any{"name": "x"}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if _, err := o.Submit("create_item", map[string]any{"name": "x"}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
}

func TestFailedTaskDoesNotDisturbOthers(t *testing.T) {
	o, _, cancel := newOrchestrator(t, Config{})
	defer cancel()

	o.RegisterExecutor("explode", func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("boom")
	})

	failedID, err := o.Submit("explode", nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	okID, err := o.Submit("create_item", map[string]any{"name": "survivor"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	failed := waitTerminal(t, o, failedID)
	if failed.Status != TaskFailed || failed.Error != "boom" {
		t.Errorf("failed task = %+v, want failed with error boom", failed)
	}

	ok := waitTerminal(t, o, okID)
	if ok.Status != TaskCompleted {
		t.Errorf("sibling task status = %s, want completed", ok.Status)
	}

	health := o.Health()
	if health.TasksProcessed != 2 || health.TaskErrors != 1 {
		t.Errorf("health = %+v, want 2 processed / 1 error", health)
	}
}

func TestConcurrencyBound(t *testing.T) {
	o, _, cancel := newOrchestrator(t, Config{MaxConcurrent: 2, QueueSize: 10})
	defer cancel()

	var active, maxActive atomic.Int64
	release := make(chan struct{})
	o.RegisterExecutor("hold", func(context.Context, map[string]any) (map[string]any, error) {
		n := active.Add(1)
		for {
			prev := maxActive.Load()
			if n <= prev || maxActive.CompareAndSwap(prev, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		return map[string]any{"status": "completed"}, nil
	})

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		id, err := o.Submit("hold", nil)
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	time.Sleep(200 * time.Millisecond)
	close(release)
	for _, id := range ids {
		waitTerminal(t, o, id)
	}

	if got := maxActive.Load(); got > 2 {
		t.Errorf("max concurrent executions = %d, want at most 2", got)
	}
}

func TestHealthSnapshot(t *testing.T) {
	o, _, cancel := newOrchestrator(t, Config{})
	defer cancel()

	health := o.Health()
	if health.Status != "healthy" {
		t.Errorf("status = %s, want healthy", health.Status)
	}
	if !health.Database.OK || !health.ChainIntegrity.OK {
		t.Errorf("dependencies = %+v, want database and integrity OK", health)
	}
	if health.EmbeddingsReady.OK {
		t.Error("embeddings reported ready without configuration")
	}
	if health.QueueDepth != 0 || health.ActiveTasks != 0 {
		t.Errorf("idle orchestrator reports queue=%d active=%d", health.QueueDepth, health.ActiveTasks)
	}
}

func TestTaskLookupCopies(t *testing.T) {
	o, _, cancel := newOrchestrator(t, Config{})
	defer cancel()

	id, err := o.Submit("create_item", map[string]any{"name": "thing"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	task := waitTerminal(t, o, id)

	task.Status = "meddled"
	again, ok := o.Task(id)
	if !ok || again.Status == "meddled" {
		t.Error("Task returned a shared pointer instead of a copy")
	}

	if _, ok := o.Task("no-such-task"); ok {
		t.Error("lookup of unknown id succeeded")
	}
}
