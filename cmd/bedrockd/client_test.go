package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestDaemon(t *testing.T) (*httptest.Server, *APIClient) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"busy": false})
	})
	mux.HandleFunc("POST /api/backup", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("mode") == "full" {
			_ = json.NewEncoder(w).Encode(map[string]any{"mode": "full", "files": 3})
			return
		}
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "another session is active"})
	})
	mux.HandleFunc("POST /api/command", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Command string `json:"command"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Command == "" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "command required"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"sent": req.Command})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, NewAPIClient(srv.URL+"/api", 5*time.Second)
}

func TestClientStatus(t *testing.T) {
	_, client := newTestDaemon(t)
	status, err := client.GetStatus()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status["busy"] != false {
		t.Fatalf("status = %v", status)
	}
}

func TestClientBackup(t *testing.T) {
	_, client := newTestDaemon(t)
	result, err := client.TriggerBackup("full", true)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if result["mode"] != "full" {
		t.Fatalf("result = %v", result)
	}
}

func TestClientBackupConflict(t *testing.T) {
	_, client := newTestDaemon(t)
	if _, err := client.TriggerBackup("", false); err == nil {
		t.Fatalf("conflict should surface as an error")
	}
}

func TestClientSendCommand(t *testing.T) {
	_, client := newTestDaemon(t)
	if err := client.SendCommand("say hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := client.SendCommand(""); err == nil {
		t.Fatalf("empty command should be rejected by the daemon")
	}
}
