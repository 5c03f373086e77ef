package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gitlake/gitlake/internal/blobstore"
)

const healthCheckTimeout = 2 * time.Second

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// handleHealthz is a liveness probe: it never touches the database or
// blob store, so it stays up even while a dependency is degraded.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz is a readiness probe: it pings the metadata database and
// runs an existence check on the fixed blob-store key "health/readyz-probe",
// failing closed if either is unreachable. Nothing writes that key; a
// missing key counts as a reachable store.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Timestamp: time.Now().UTC(), Checks: map[string]string{}}

	if err := s.metaDB.Ping(ctx); err != nil {
		resp.Checks["database"] = err.Error()
		resp.Status = "degraded"
	} else {
		resp.Checks["database"] = "ok"
	}

	if _, err := s.backend.Has(ctx, "health/readyz-probe"); err != nil && !blobstore.IsNotFound(err) {
		resp.Checks["storage"] = err.Error()
		resp.Status = "degraded"
	} else {
		resp.Checks["storage"] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	jsonResponse(w, status, resp)
}
