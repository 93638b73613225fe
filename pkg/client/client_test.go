package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aamirshehzad9/GentleOmega/pkg/client"
)

// ── Stub server ─────────────────────────────────────────────────────────

func stubOmegaServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/pod", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Data map[string]any `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Data == nil {
			http.Error(w, `{"error":"data object is required"}`, http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"status":           "pod_recorded",
			"pod_hash":         "a1b2c3d4e5f60718a1b2c3d4e5f60718a1b2c3d4e5f60718a1b2c3d4e5f60718",
			"transaction_hash": "",
			"ledger_ref":       1,
			"timestamp":        time.Now().UTC().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/api/v1/poe", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"status":       "poe_recorded",
			"pod_hash":     "a1b2c3d4e5f60718a1b2c3d4e5f60718a1b2c3d4e5f60718a1b2c3d4e5f60718",
			"poe_hash":     "ffeeddccbbaa9988ffeeddccbbaa9988ffeeddccbbaa9988ffeeddccbbaa9988",
			"ledger_ref":   2,
			"verification": "complete",
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/api/v1/ledger", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" {
			http.Error(w, `{"error":"unexpected limit"}`, http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"entries": []map[string]any{
				{"id": 2, "hash": "ff00", "content_type": "poe", "status": "queued"},
				{"id": 1, "hash": "aa11", "content_type": "pod", "status": "queued"},
			},
			"count": 2,
		})
	})

	mux.HandleFunc("/api/v1/ledger/verify", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":       "success",
			"entries":      2,
			"verified":     2,
			"broken_links": []string{},
			"integrity":    "intact",
		})
	})

	mux.HandleFunc("/api/v1/chain/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "operational", "rpc_ok": true, "rpc_latency_ms": 12,
			"last_block": 1000001, "queued_tx": 1, "pending_tx": 0,
			"verified": 1, "failed_tx": 0,
		})
	})

	mux.HandleFunc("/api/v1/chain/cycle", func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || auth == "Bearer " {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"metrics": map[string]any{
				"enqueued": 1, "submitted": 1, "confirmed": 1,
				"rpc_ok": true, "rpc_latency_ms": 3,
			},
		})
	})

	mux.HandleFunc("/api/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{
			"task_id": "550e8400-e29b-41d4-a716-446655440000",
			"status":  "pending",
		})
	})

	taskPolls := 0
	mux.HandleFunc("/api/v1/tasks/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
		if id == "missing" {
			http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
			return
		}
		taskPolls++
		status := "processing"
		if taskPolls > 1 {
			status = "completed"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"task_id": id, "task_type": "create_item", "status": status,
			"submitted_at": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// ── Tests ───────────────────────────────────────────────────────────────

func TestRecordPoD(t *testing.T) {
	srv := stubOmegaServer(t)
	c := client.MustNew(srv.URL)

	receipt, err := c.RecordPoD(context.Background(), map[string]any{"prompt": "hello"}, "")
	if err != nil {
		t.Fatalf("RecordPoD: %v", err)
	}
	if receipt.Status != "pod_recorded" {
		t.Errorf("status = %q, want pod_recorded", receipt.Status)
	}
	if len(receipt.PodHash) != 64 {
		t.Errorf("pod hash length = %d, want 64", len(receipt.PodHash))
	}
}

func TestRecordPoDRejectedWithoutData(t *testing.T) {
	srv := stubOmegaServer(t)
	c := client.MustNew(srv.URL)

	_, err := c.RecordPoD(context.Background(), nil, "")
	if err == nil {
		t.Fatal("expected error for missing data")
	}
	if !strings.Contains(err.Error(), "data object is required") {
		t.Errorf("error = %v, want server message surfaced", err)
	}
}

func TestRecordPoE(t *testing.T) {
	srv := stubOmegaServer(t)
	c := client.MustNew(srv.URL)

	receipt, err := c.RecordPoE(context.Background(),
		"a1b2c3d4e5f60718a1b2c3d4e5f60718a1b2c3d4e5f60718a1b2c3d4e5f60718",
		map[string]any{"output": "done"}, "user-1")
	if err != nil {
		t.Fatalf("RecordPoE: %v", err)
	}
	if receipt.Verification != "complete" {
		t.Errorf("verification = %q, want complete", receipt.Verification)
	}
}

func TestLedgerBrowse(t *testing.T) {
	srv := stubOmegaServer(t)
	c := client.MustNew(srv.URL)

	entries, err := c.Ledger(context.Background(), 5, "")
	if err != nil {
		t.Fatalf("Ledger: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ID != 2 || entries[0].ContentType != "poe" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
}

func TestVerifyLedger(t *testing.T) {
	srv := stubOmegaServer(t)
	c := client.MustNew(srv.URL)

	result, err := c.VerifyLedger(context.Background())
	if err != nil {
		t.Fatalf("VerifyLedger: %v", err)
	}
	if !result.Intact() {
		t.Errorf("Intact() = false for %+v", result)
	}
}

func TestStatus(t *testing.T) {
	srv := stubOmegaServer(t)
	c := client.MustNew(srv.URL)

	status, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.RPCOk || status.LastBlock != 1000001 {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestRunCycleRequiresAdminToken(t *testing.T) {
	srv := stubOmegaServer(t)

	if _, err := client.MustNew(srv.URL).RunCycle(context.Background()); err == nil {
		t.Fatal("expected unauthorized error without token")
	}

	c := client.MustNew(srv.URL, client.WithAdminToken("tok"))
	result, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle with token: %v", err)
	}
	if result.Metrics.Confirmed != 1 {
		t.Errorf("confirmed = %d, want 1", result.Metrics.Confirmed)
	}
}

func TestSubmitAndWaitTask(t *testing.T) {
	srv := stubOmegaServer(t)
	c := client.MustNew(srv.URL)

	id, err := c.SubmitTask(context.Background(), "create_item", map[string]any{"name": "x"})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	if id == "" {
		t.Fatal("empty task id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	task, err := c.WaitTask(ctx, id, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitTask: %v", err)
	}
	if task.Status != "completed" {
		t.Errorf("status = %q, want completed", task.Status)
	}
}

func TestTaskNotFound(t *testing.T) {
	srv := stubOmegaServer(t)
	c := client.MustNew(srv.URL)

	if _, err := c.Task(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown task")
	}
}
