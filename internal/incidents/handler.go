package incidents

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/opsdeck/incident-commander/internal/domain"
	"github.com/opsdeck/incident-commander/internal/oncall"
	"github.com/opsdeck/incident-commander/internal/pkg/httputil"
)

// Handler handles HTTP requests for the incidents module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new incidents handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterReadRoutes registers read-only incident routes.
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Route("/incidents", func(r chi.Router) {
		r.Get("/", h.ListIncidents)
		r.Get("/{id}", h.GetIncident)
		r.Get("/{id}/timeline", h.GetTimeline)
	})
}

// RegisterOperatorRoutes registers incident mutation routes.
func (h *Handler) RegisterOperatorRoutes(r chi.Router) {
	r.Route("/incidents", func(r chi.Router) {
		r.Post("/", h.CreateIncident)
		r.Patch("/{id}", h.UpdateIncident)
		r.Post("/{id}/resolve", h.ResolveIncident)
		r.Post("/{id}/escalate", h.EscalateIncident)
		r.Post("/{id}/assign", h.AssignIncident)
		r.Post("/{id}/comments", h.AddComment)
	})
}

// CreateIncidentRequest represents the request body for declaring an
// incident.
type CreateIncidentRequest struct {
	Title            string   `json:"title" validate:"required,min=1,max=255"`
	Description      string   `json:"description"`
	Severity         string   `json:"severity" validate:"required,oneof=low medium high critical"`
	AffectedServices []string `json:"affected_services"`
	UsersAffected    int      `json:"users_affected" validate:"gte=0"`
	RevenueAtRisk    float64  `json:"revenue_at_risk" validate:"gte=0"`
	ImpactDesc       string   `json:"impact_description"`
	RoutingKey       string   `json:"routing_key"`
}

// UpdateIncidentRequest represents the request body for updating an
// incident. Omitted fields are left unchanged.
type UpdateIncidentRequest struct {
	Title            *string        `json:"title" validate:"omitempty,min=1,max=255"`
	Description      *string        `json:"description"`
	Severity         *string        `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Status           *string        `json:"status" validate:"omitempty,oneof=investigating identified monitoring resolved"`
	AffectedServices *[]string      `json:"affected_services"`
	Impact           *domain.Impact `json:"impact"`
}

// EscalateIncidentRequest represents the request body for a manual
// escalation.
type EscalateIncidentRequest struct {
	Level int `json:"level" validate:"required,gt=0"`
}

// AssignIncidentRequest represents the request body for assigning an
// incident.
type AssignIncidentRequest struct {
	ResponderID string `json:"responder_id" validate:"required"`
}

// AddCommentRequest represents the request body for adding a comment.
type AddCommentRequest struct {
	Text string `json:"text" validate:"required,min=1"`
}

// CreateIncident handles POST /incidents request.
func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	var req CreateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incident, err := h.service.CreateIncident(r.Context(), CreateIncidentInput{
		Title:            req.Title,
		Description:      req.Description,
		Severity:         domain.Severity(req.Severity),
		AffectedServices: req.AffectedServices,
		Impact: domain.Impact{
			UsersAffected: req.UsersAffected,
			RevenueAtRisk: req.RevenueAtRisk,
			Description:   req.ImpactDesc,
		},
		RoutingKey: req.RoutingKey,
		CreatedBy:  httputil.GetCaller(r.Context()),
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, incident)
}

// GetIncident handles GET /incidents/{id} request.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := h.service.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, incident)
}

// GetTimeline handles GET /incidents/{id}/timeline request.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	incident, err := h.service.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, incident.Timeline)
}

// ListIncidents handles GET /incidents request. Supports status, severity
// and service query filters.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	filters := Filters{
		Status:   domain.IncidentStatus(r.URL.Query().Get("status")),
		Severity: domain.Severity(r.URL.Query().Get("severity")),
		Service:  r.URL.Query().Get("service"),
	}
	if filters.Status != "" && !filters.Status.IsValid() {
		httputil.Error(w, http.StatusBadRequest, "unknown status filter")
		return
	}
	if filters.Severity != "" && !filters.Severity.IsValid() {
		httputil.Error(w, http.StatusBadRequest, "unknown severity filter")
		return
	}

	incidents, err := h.service.ListIncidents(r.Context(), filters)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, incidents)
}

// UpdateIncident handles PATCH /incidents/{id} request.
func (h *Handler) UpdateIncident(w http.ResponseWriter, r *http.Request) {
	var req UpdateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	input := UpdateIncidentInput{
		Title:            req.Title,
		Description:      req.Description,
		AffectedServices: req.AffectedServices,
		Impact:           req.Impact,
		UpdatedBy:        httputil.GetCaller(r.Context()),
	}
	if req.Severity != nil {
		severity := domain.Severity(*req.Severity)
		input.Severity = &severity
	}
	if req.Status != nil {
		status := domain.IncidentStatus(*req.Status)
		input.Status = &status
	}

	incident, err := h.service.UpdateIncident(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, incident)
}

// ResolveIncident handles POST /incidents/{id}/resolve request.
func (h *Handler) ResolveIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := h.service.ResolveIncident(r.Context(), chi.URLParam(r, "id"), httputil.GetCaller(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, incident)
}

// EscalateIncident handles POST /incidents/{id}/escalate request.
func (h *Handler) EscalateIncident(w http.ResponseWriter, r *http.Request) {
	var req EscalateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incident, err := h.service.Escalate(r.Context(), chi.URLParam(r, "id"), req.Level, httputil.GetCaller(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, incident)
}

// AssignIncident handles POST /incidents/{id}/assign request.
func (h *Handler) AssignIncident(w http.ResponseWriter, r *http.Request) {
	var req AssignIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incident, err := h.service.AssignIncident(r.Context(), chi.URLParam(r, "id"), req.ResponderID, httputil.GetCaller(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, incident)
}

// AddComment handles POST /incidents/{id}/comments request.
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	var req AddCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	incident, err := h.service.AddComment(r.Context(), chi.URLParam(r, "id"), req.Text, httputil.GetCaller(r.Context()))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusCreated, incident)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
		{Error: ErrIncidentNotFound, Status: http.StatusNotFound},
		{Error: ErrIncidentResolved, Status: http.StatusConflict},
		{Error: ErrInvalidTransition, Status: http.StatusBadRequest},
		{Error: oncall.ErrNoActiveRotation, Status: http.StatusConflict},
	})
}
