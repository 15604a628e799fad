package routes

import (
	"net/http"

	"github.com/zatekoja/patientflow/internal/api/handlers"
	"github.com/zatekoja/patientflow/internal/api/middleware"
	"github.com/zatekoja/patientflow/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	queueHandler    *handlers.QueueHandler
	pinHandler      *handlers.PinHandler
	workflowHandler *handlers.WorkflowHandler
	adminHandler    *handlers.AdminHandler
	sseHandler      *handlers.SSEHandler

	metrics        *observability.Metrics
	allowedOrigins []string
}

// NewRouter creates a new router. sseHandler may be nil when streams are
// served by a separate process.
func NewRouter(
	queueHandler *handlers.QueueHandler,
	pinHandler *handlers.PinHandler,
	workflowHandler *handlers.WorkflowHandler,
	adminHandler *handlers.AdminHandler,
	sseHandler *handlers.SSEHandler,
	metrics *observability.Metrics,
	allowedOrigins []string,
) *Router {
	return &Router{
		mux:             http.NewServeMux(),
		queueHandler:    queueHandler,
		pinHandler:      pinHandler,
		workflowHandler: workflowHandler,
		adminHandler:    adminHandler,
		sseHandler:      sseHandler,
		metrics:         metrics,
		allowedOrigins:  allowedOrigins,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", HealthCheck)

	// Clinic queues
	r.mux.HandleFunc("GET /api/clinics", r.queueHandler.ListClinics)
	r.mux.HandleFunc("GET /api/clinics/{id}/queue", r.queueHandler.GetQueue)
	r.mux.HandleFunc("POST /api/clinics/{id}/queue", r.queueHandler.Enqueue)
	r.mux.HandleFunc("POST /api/clinics/{id}/call-next", r.queueHandler.CallNext)
	r.mux.HandleFunc("POST /api/clinics/{id}/check-in", r.queueHandler.CheckIn)
	r.mux.HandleFunc("POST /api/clinics/{id}/complete", r.queueHandler.Complete)
	r.mux.HandleFunc("POST /api/clinics/{id}/expire", r.queueHandler.ExpireNoShows)

	// Daily PINs
	r.mux.HandleFunc("POST /api/clinics/{id}/pin", r.pinHandler.IssuePin)
	r.mux.HandleFunc("GET /api/clinics/{id}/pin", r.pinHandler.GetPin)
	r.mux.HandleFunc("POST /api/clinics/{id}/pin/verify", r.pinHandler.VerifyPin)

	// Patient workflow
	r.mux.HandleFunc("POST /api/patients/enqueue", r.workflowHandler.EnqueuePatient)
	r.mux.HandleFunc("POST /api/patients/{id}/route-next", r.workflowHandler.RouteToNext)
	r.mux.HandleFunc("POST /api/patients/{id}/scan", r.workflowHandler.ScanCode)
	r.mux.HandleFunc("POST /api/patients/{id}/emergency", r.workflowHandler.Emergency)
	r.mux.HandleFunc("GET /api/patients/{id}/status", r.workflowHandler.PatientStatus)
	r.mux.HandleFunc("GET /api/patients/{id}/route", r.workflowHandler.RouteStatus)
	r.mux.HandleFunc("POST /api/tickets/{id}/arrive", r.workflowHandler.Arrive)
	r.mux.HandleFunc("POST /api/tickets/{id}/depart", r.workflowHandler.Depart)

	// Route templates
	r.mux.HandleFunc("GET /api/routes/{exam}", r.workflowHandler.GetExamRoute)
	r.mux.HandleFunc("GET /api/routes/{exam}/steps/{step}/clinic", r.workflowHandler.PickClinic)

	// Administration
	r.mux.HandleFunc("GET /api/admin/settings", r.adminHandler.GetSettings)
	r.mux.HandleFunc("PUT /api/admin/settings/{key}", r.adminHandler.UpdateSetting)
	r.mux.HandleFunc("POST /api/admin/tick", r.adminHandler.Tick)

	if r.sseHandler != nil {
		RegisterStreamRoutes(r.mux, r.sseHandler)
	}

	// Apply middleware in reverse order (last middleware wraps first)
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.ResponseOptimization(handler)
	handler = middleware.CORS(r.allowedOrigins)(handler)

	return handler
}

// RegisterStreamRoutes mounts the SSE and WebSocket endpoints on mux
func RegisterStreamRoutes(mux *http.ServeMux, sse *handlers.SSEHandler) {
	mux.HandleFunc("GET /api/stream/clinics/{id}", sse.StreamClinicEvents)
	mux.HandleFunc("GET /api/stream/patients/{id}", sse.StreamPatientEvents)
	mux.HandleFunc("GET /ws/clinics/{id}", sse.ServeClinicWS)
}

// HealthCheck answers liveness probes
func HealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		return
	}
}
