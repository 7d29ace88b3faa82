package oncall

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/opsdeck/incident-commander/internal/domain"
	"github.com/opsdeck/incident-commander/internal/pkg/httputil"
)

// Handler handles HTTP requests for the oncall module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new oncall handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers rotation management routes (admin only).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/rotations", func(r chi.Router) {
		r.Get("/", h.ListRotations)
		r.Post("/", h.CreateRotation)
		r.Get("/{id}", h.GetRotation)
		r.Patch("/{id}", h.UpdateRotation)
	})
}

// RegisterOperatorRoutes registers on-call lookup routes.
func (h *Handler) RegisterOperatorRoutes(r chi.Router) {
	r.Get("/oncall/current", h.CurrentOnCall)
}

// ScheduleEntry represents one shift in a rotation request body.
type ScheduleEntry struct {
	ResponderID        string    `json:"responder_id" validate:"required"`
	StartTime          time.Time `json:"start_time" validate:"required"`
	EndTime            time.Time `json:"end_time" validate:"required"`
	Timezone           string    `json:"timezone"`
	BackupResponderIDs []string  `json:"backup_responder_ids"`
}

// PolicyLevel represents one escalation level in a rotation request body.
// Delay is in seconds.
type PolicyLevel struct {
	Level        int      `json:"level" validate:"required,gt=0"`
	DelaySeconds int      `json:"delay_seconds" validate:"required,gt=0"`
	Recipients   []string `json:"recipients"`
	Channels     []string `json:"channels" validate:"dive,oneof=email sms slack call"`
	Description  string   `json:"description"`
}

// CreateRotationRequest represents the request body for creating a
// rotation.
type CreateRotationRequest struct {
	Name             string              `json:"name" validate:"required,min=1,max=255"`
	RoutingKeys      []string            `json:"routing_keys"`
	Schedule         []ScheduleEntry     `json:"schedule" validate:"dive"`
	EscalationPolicy []PolicyLevel       `json:"escalation_policy" validate:"dive"`
	ContactMethods   map[string][]string `json:"contact_methods"`
	Active           *bool               `json:"active"`
}

// UpdateRotationRequest represents the request body for updating a
// rotation. Omitted fields are left unchanged.
type UpdateRotationRequest struct {
	Name             *string              `json:"name" validate:"omitempty,min=1,max=255"`
	RoutingKeys      *[]string            `json:"routing_keys"`
	Schedule         *[]ScheduleEntry     `json:"schedule" validate:"omitempty,dive"`
	EscalationPolicy *[]PolicyLevel       `json:"escalation_policy" validate:"omitempty,dive"`
	ContactMethods   *map[string][]string `json:"contact_methods"`
	Active           *bool                `json:"active"`
}

// CreateRotation handles POST /rotations request.
func (h *Handler) CreateRotation(w http.ResponseWriter, r *http.Request) {
	var req CreateRotationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	rotation, err := h.service.CreateRotation(r.Context(), CreateRotationInput{
		Name:             req.Name,
		RoutingKeys:      req.RoutingKeys,
		Schedule:         toSchedule(req.Schedule),
		EscalationPolicy: toPolicy(req.EscalationPolicy),
		ContactMethods:   toContactMethods(req.ContactMethods),
		Active:           active,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	httputil.Success(w, http.StatusCreated, rotation)
}

// GetRotation handles GET /rotations/{id} request.
func (h *Handler) GetRotation(w http.ResponseWriter, r *http.Request) {
	rotation, err := h.service.GetRotation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, rotation)
}

// ListRotations handles GET /rotations request.
func (h *Handler) ListRotations(w http.ResponseWriter, r *http.Request) {
	rotations, err := h.service.ListRotations(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, rotations)
}

// UpdateRotation handles PATCH /rotations/{id} request.
func (h *Handler) UpdateRotation(w http.ResponseWriter, r *http.Request) {
	var req UpdateRotationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	input := UpdateRotationInput{
		Name:        req.Name,
		RoutingKeys: req.RoutingKeys,
		Active:      req.Active,
	}
	if req.Schedule != nil {
		schedule := toSchedule(*req.Schedule)
		input.Schedule = &schedule
	}
	if req.EscalationPolicy != nil {
		policy := toPolicy(*req.EscalationPolicy)
		input.EscalationPolicy = &policy
	}
	if req.ContactMethods != nil {
		contacts := toContactMethods(*req.ContactMethods)
		input.ContactMethods = &contacts
	}

	rotation, err := h.service.UpdateRotation(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, rotation)
}

// CurrentOnCall handles GET /oncall/current request. The routing_key query
// parameter selects the rotation; empty falls back to the default rotation.
func (h *Handler) CurrentOnCall(w http.ResponseWriter, r *http.Request) {
	assignment, err := h.service.CurrentOnCall(r.Context(), r.URL.Query().Get("routing_key"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, assignment)
}

func toSchedule(entries []ScheduleEntry) []domain.OnCallSchedule {
	out := make([]domain.OnCallSchedule, len(entries))
	for i, e := range entries {
		out[i] = domain.OnCallSchedule{
			ResponderID:        e.ResponderID,
			StartTime:          e.StartTime,
			EndTime:            e.EndTime,
			Timezone:           e.Timezone,
			BackupResponderIDs: e.BackupResponderIDs,
		}
	}
	return out
}

func toPolicy(levels []PolicyLevel) []domain.EscalationLevel {
	out := make([]domain.EscalationLevel, len(levels))
	for i, l := range levels {
		channels := make([]domain.ChannelType, len(l.Channels))
		for j, ch := range l.Channels {
			channels[j] = domain.ChannelType(ch)
		}
		out[i] = domain.EscalationLevel{
			Level:       l.Level,
			Delay:       time.Duration(l.DelaySeconds) * time.Second,
			Recipients:  l.Recipients,
			Channels:    channels,
			Description: l.Description,
		}
	}
	return out
}

func toContactMethods(contacts map[string][]string) map[domain.ChannelType][]string {
	if contacts == nil {
		return nil
	}
	out := make(map[domain.ChannelType][]string, len(contacts))
	for ch, recipients := range contacts {
		out[domain.ChannelType(ch)] = recipients
	}
	return out
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
		{Error: ErrRotationNotFound, Status: http.StatusNotFound},
		{Error: ErrNoActiveRotation, Status: http.StatusNotFound},
		{Error: ErrNoOnCall, Status: http.StatusNotFound},
		{Error: ErrInvalidPolicy, Status: http.StatusBadRequest},
		{Error: ErrInvalidSchedule, Status: http.StatusBadRequest},
	})
}
