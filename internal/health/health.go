// Package health serves liveness and readiness endpoints backed by
// per-component checkers.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckTimeout bounds a full round of checks
const CheckTimeout = 5 * time.Second

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Response is the body of GET /health
type Response struct {
	Status     Status                     `json:"status"`
	Version    string                     `json:"version"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

// Checker checks one dependency
type Checker interface {
	Check(ctx context.Context) ComponentHealth
	Name() string
}

// Handler serves the health endpoints
type Handler struct {
	version  string
	mu       sync.RWMutex
	checkers []Checker
}

// NewHandler creates a health handler reporting the given version
func NewHandler(version string, checkers ...Checker) *Handler {
	return &Handler{version: version, checkers: checkers}
}

// RegisterChecker adds a checker
func (h *Handler) RegisterChecker(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// Mount registers /health, /health/live and /health/ready on r
func (h *Handler) Mount(r chi.Router) {
	r.Get("/health", h.health)
	r.Get("/health/live", h.live)
	r.Get("/health/ready", h.ready)
}

// Run checks every component and returns the overall status
func (h *Handler) Run(ctx context.Context) Response {
	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()

	h.mu.RLock()
	checkers := h.checkers
	h.mu.RUnlock()

	components := make(map[string]ComponentHealth, len(checkers))
	overall := StatusHealthy
	for _, c := range checkers {
		result := c.Check(ctx)
		components[c.Name()] = result
		switch {
		case result.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case result.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}
	return Response{
		Status:     overall,
		Version:    h.version,
		Timestamp:  time.Now().UTC(),
		Components: components,
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := h.Run(r.Context())
	// degraded still serves traffic
	if resp.Status == StatusUnhealthy {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, resp)
}

func (h *Handler) live(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "alive"})
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	if h.Run(r.Context()).Status == StatusUnhealthy {
		status = "not_ready"
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, map[string]string{"status": status})
}

// Pinger is implemented by the storage layer
type Pinger interface {
	Ping(ctx context.Context) error
}

// StorageChecker reports the database as unhealthy when it cannot be reached
type StorageChecker struct {
	db Pinger
}

// NewStorageChecker creates a database checker
func NewStorageChecker(db Pinger) *StorageChecker {
	return &StorageChecker{db: db}
}

func (s *StorageChecker) Name() string {
	return "database"
}

func (s *StorageChecker) Check(ctx context.Context) ComponentHealth {
	start := time.Now()
	err := s.db.Ping(ctx)
	latency := time.Since(start)
	if err != nil {
		return ComponentHealth{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("ping failed: %v", err),
			Latency: latency.String(),
		}
	}
	return ComponentHealth{Status: StatusHealthy, Latency: latency.String()}
}

// HTTPChecker checks that an upstream answers at all. Payments depend on it
// but orders do not, so failures degrade rather than fail the service.
type HTTPChecker struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPChecker creates a new HTTP health checker
func NewHTTPChecker(name, url string) *HTTPChecker {
	return &HTTPChecker{
		name: name,
		url:  url,
		client: &http.Client{
			Timeout: 3 * time.Second,
		},
	}
}

func (h *HTTPChecker) Name() string {
	return h.name
}

func (h *HTTPChecker) Check(ctx context.Context) ComponentHealth {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return ComponentHealth{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("failed to create request: %v", err),
		}
	}

	resp, err := h.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return ComponentHealth{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("request failed: %v", err),
			Latency: latency.String(),
		}
	}
	defer func() { _ = resp.Body.Close() }()

	status := StatusHealthy
	if resp.StatusCode >= http.StatusInternalServerError {
		status = StatusDegraded
	}
	return ComponentHealth{
		Status:  status,
		Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
		Latency: latency.String(),
	}
}
