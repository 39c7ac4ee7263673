package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskrun/internal/reconciler"
	"taskrun/pkg/logging"
)

// statusSource is the reconcile bookkeeping exposed on /statusz.
type statusSource interface {
	GetStatus(resourceType reconciler.ResourceType, name, namespace string) (*reconciler.ReconcileStatus, bool)
	GetAllStatuses() []reconciler.ReconcileStatus
}

// healthServer serves /metrics, /healthz, /readyz and /statusz.
type healthServer struct {
	addr    string
	handler http.Handler
}

func newHealthServer(addr string, gatherer prometheus.Gatherer, ready func() bool, statuses statusSource) *healthServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !ready() {
			http.Error(w, "informer cache not synced", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/statusz", func(w http.ResponseWriter, r *http.Request) {
		serveStatuses(w, r, statuses)
	})

	return &healthServer{addr: addr, handler: mux}
}

// serveStatuses writes the manager's view of every TaskRun it has seen, or
// of one TaskRun when name and namespace are given.
func serveStatuses(w http.ResponseWriter, r *http.Request, statuses statusSource) {
	name := r.URL.Query().Get("name")
	namespace := r.URL.Query().Get("namespace")

	var body any
	switch {
	case name == "" && namespace == "":
		body = statuses.GetAllStatuses()
	case name == "" || namespace == "":
		http.Error(w, "name and namespace must be given together", http.StatusBadRequest)
		return
	default:
		status, ok := statuses.GetStatus(reconciler.ResourceTypeTaskRun, name, namespace)
		if !ok {
			http.Error(w, "TaskRun "+namespace+"/"+name+" has not been reconciled", http.StatusNotFound)
			return
		}
		body = status
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn("Bootstrap", "Failed to write status response: %v", err)
	}
}

// Run serves until ctx is cancelled.
func (h *healthServer) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           h.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Bootstrap", "Serving metrics and health probes on %s", listener.Addr())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
