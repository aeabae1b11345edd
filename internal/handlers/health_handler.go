package handlers

import (
	"context"
	"net/http"
	"time"

	pkghttp "github.com/bastionsec/bastion/pkg/http"
)

// Pinger reports reachability of one backing dependency
type Pinger interface {
	Ping(ctx context.Context) error
}

// DBChecker reports database reachability
type DBChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler reports service and dependency health
type HealthHandler struct {
	db    DBChecker
	store Pinger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(db DBChecker, store Pinger) *HealthHandler {
	return &HealthHandler{db: db, store: store}
}

// HealthResponse is the health endpoint payload
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Checked time.Time         `json:"checked_at"`
}

// Health reports dependency reachability. Unreachable dependencies are
// named in the body and flip the response to 503 so load balancers can
// rotate the instance out.
// @Summary Health check
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:  "ok",
		Checks:  map[string]string{"database": "ok", "store": "ok"},
		Checked: time.Now().UTC(),
	}

	if err := h.db.HealthCheck(ctx); err != nil {
		resp.Status = "degraded"
		resp.Checks["database"] = "unreachable"
	}
	if err := h.store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Checks["store"] = "unreachable"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	pkghttp.WriteJSON(w, status, resp)
}
