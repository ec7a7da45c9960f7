package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// MongoPinger reports database connectivity.
type MongoPinger interface {
	Ping(ctx context.Context) error
}

// AuditHealthChecker reports audit publisher connectivity.
type AuditHealthChecker interface {
	IsHealthy() bool
}

// VerificationCounter reports running background verifications.
type VerificationCounter interface {
	ActiveVerifications() int
}

// maxVerificationLoad mirrors the background task cap; at the cap new
// submissions are refused.
const maxVerificationLoad = 100

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents health status of a single component
type ComponentHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the JSON response for health check
type HealthResponse struct {
	Status     HealthStatus      `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentHealth `json:"components"`
}

// HealthHandler handles HTTP health check requests
type HealthHandler struct {
	mongo         MongoPinger
	audit         AuditHealthChecker
	verifications VerificationCounter
	logger        zerolog.Logger
}

// NewHealthHandler creates a new health check handler
func NewHealthHandler(
	mongo MongoPinger,
	audit AuditHealthChecker,
	verifications VerificationCounter,
	logger zerolog.Logger,
) *HealthHandler {
	return &HealthHandler{
		mongo:         mongo,
		audit:         audit,
		verifications: verifications,
		logger:        logger,
	}
}

// ServeHTTP implements http.Handler interface
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := h.checkComponents(ctx)
	status := h.determineOverallStatus(components)

	response := HealthResponse{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Components: components,
	}

	statusCode := http.StatusOK
	if status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	logEvent := h.logger.Debug()
	if status == HealthStatusUnhealthy {
		logEvent = h.logger.Warn()
	} else if status == HealthStatusDegraded {
		logEvent = h.logger.Info()
	}
	logEvent.
		Str("status", string(status)).
		Int("status_code", statusCode).
		Interface("components", components).
		Msg("Health check completed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode health check response")
		return
	}
}

// checkComponents checks health of all service components
func (h *HealthHandler) checkComponents(ctx context.Context) []ComponentHealth {
	components := make([]ComponentHealth, 0, 3)

	select {
	case <-ctx.Done():
		return []ComponentHealth{{
			Name:    "health_check",
			Healthy: false,
			Message: "Health check timeout",
		}}
	default:
	}

	mongoMsg := ""
	mongoHealthy := true
	if err := h.mongo.Ping(ctx); err != nil {
		mongoHealthy = false
		mongoMsg = "MongoDB ping failed: " + err.Error()
	}
	components = append(components, ComponentHealth{
		Name:    "mongodb",
		Healthy: mongoHealthy,
		Message: mongoMsg,
	})

	auditHealthy := h.audit.IsHealthy()
	auditMsg := ""
	if !auditHealthy {
		auditMsg = "Audit publisher is not healthy"
	}
	components = append(components, ComponentHealth{
		Name:    "audit_publisher",
		Healthy: auditHealthy,
		Message: auditMsg,
	})

	active := h.verifications.ActiveVerifications()
	capacityHealthy := active < maxVerificationLoad
	capacityMsg := ""
	if !capacityHealthy {
		capacityMsg = "Background verification capacity exhausted"
	}
	components = append(components, ComponentHealth{
		Name:    "verification_capacity",
		Healthy: capacityHealthy,
		Message: capacityMsg,
	})

	return components
}

// determineOverallStatus determines overall health status based on component health
func (h *HealthHandler) determineOverallStatus(components []ComponentHealth) HealthStatus {
	allHealthy := true
	anyHealthy := false

	for _, component := range components {
		if !component.Healthy {
			allHealthy = false
		} else {
			anyHealthy = true
		}
	}

	if allHealthy {
		return HealthStatusHealthy
	} else if anyHealthy {
		return HealthStatusDegraded
	}

	return HealthStatusUnhealthy
}
