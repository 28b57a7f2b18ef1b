// Package health serves the loopback-only liveness endpoint: overall status,
// per-component liveness, and row counts. It binds 127.0.0.1 only — Claudia
// exposes no network services beyond the local machine.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/claudia-memory/claudia/internal/embedding"
	"github.com/claudia-memory/claudia/internal/scheduler"
	"github.com/claudia-memory/claudia/internal/storage"
)

const serviceName = "claudia-memory"

// Server is the health HTTP endpoint.
type Server struct {
	store storage.Store
	embed *embedding.Client
	sched *scheduler.Scheduler
	http  *http.Server
}

func NewServer(store storage.Store, embed *embedding.Client, sched *scheduler.Scheduler) *Server {
	return &Server{store: store, embed: embed, sched: sched}
}

// Start listens on localhost:port. A port of 0 disables the endpoint.
func (s *Server) Start(port int) error {
	if port <= 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHealth)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/stats", s.handleStats)

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = s.http.Serve(ln) }()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   serviceName,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	dbOK := true
	if _, _, err := s.store.GetMeta(ctx, "embedding_model"); err != nil {
		dbOK = false
	}

	embedOK := false
	embedMismatch := false
	if s.embed != nil {
		embedOK = s.embed.Available(ctx)
		embedMismatch = s.embed.MismatchFlagged()
	}

	components := map[string]any{
		"database":   dbOK,
		"embeddings": embedOK,
		"scheduler":  s.sched != nil,
	}
	if embedMismatch {
		components["embedding_dimension_mismatch"] = true
	}
	if s.sched != nil {
		jobs := map[string]string{}
		for id, next := range s.sched.Jobs() {
			jobs[id] = next.UTC().Format(time.RFC3339)
		}
		components["jobs"] = jobs
	}

	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":     statusWord(dbOK),
		"components": components,
	})
}

func statusWord(ok bool) string {
	if ok {
		return "healthy"
	}
	return "degraded"
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	stats, err := s.store.Stats(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
