package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/guiomkt/angubackend-sub001/domains/whatsapp/be/service"
	"github.com/guiomkt/angubackend-sub001/platform/go/problem"
)

const (
	problemTypeValidation  = "https://angu.app/problems/validation-error"
	problemTypePermission  = "https://angu.app/problems/permission-denied"
	problemTypeNotFound    = "https://angu.app/problems/not-found"
	problemTypeConflict    = "https://angu.app/problems/conflict"
	problemTypeUpstream    = "https://angu.app/problems/upstream-error"
	problemTypeInternal    = "https://angu.app/problems/internal-error"
	problemTypeUnavailable = "https://angu.app/problems/service-unavailable"
)

// ErrRestaurantUnknown reports that the restaurant addressed by the request
// path does not exist.
var ErrRestaurantUnknown = errors.New("restaurant not found")

// Service is the slice of the whatsapp service the HTTP surface needs.
type Service interface {
	Provision(ctx context.Context, restaurantID uuid.UUID, input service.ProvisionInput) (service.Channel, error)
	VerifyNumber(ctx context.Context, restaurantID uuid.UUID, input service.VerifyInput) (service.Channel, error)
	Status(ctx context.Context, restaurantID uuid.UUID) (service.Channel, error)
	Logs(ctx context.Context, restaurantID uuid.UUID, limit int) ([]service.LogEntry, error)
	Disconnect(ctx context.Context, restaurantID uuid.UUID) error
}

// RestaurantDirectory resolves restaurant display names. Provisioning is
// rejected for restaurants the directory does not know; lookups must return
// ErrRestaurantUnknown in that case.
type RestaurantDirectory interface {
	RestaurantName(ctx context.Context, restaurantID uuid.UUID) (string, error)
}

// Handler exposes the provisioning workflow over HTTP.
type Handler struct {
	svc         Service
	restaurants RestaurantDirectory
	logger      *zap.Logger
}

// New constructs a Handler instance.
func New(svc Service, restaurants RestaurantDirectory, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("whatsapp service is required")
	}
	if restaurants == nil {
		panic("restaurant directory is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, restaurants: restaurants, logger: logger}
}

// Routes returns the router for one restaurant's whatsapp channel; mount it
// under a pattern carrying a {restaurantID} parameter.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/provision", h.provision)
	r.Post("/verify", h.verify)
	r.Get("/status", h.status)
	r.Get("/logs", h.logs)
	r.Delete("/", h.disconnect)
	return r
}

type provisionRequest struct {
	Code      string         `json:"code,omitempty"`
	AuthState string         `json:"auth_state,omitempty"`
	Mode      string         `json:"mode,omitempty"`
	Overrides map[string]any `json:"overrides,omitempty"`
}

type verifyRequest struct {
	Code string  `json:"code"`
	PIN  *string `json:"pin,omitempty"`
}

type channelResponse struct {
	RestaurantID       uuid.UUID  `json:"restaurant_id"`
	Status             string     `json:"status"`
	BusinessID         *string    `json:"business_id,omitempty"`
	WABAID             *string    `json:"waba_id,omitempty"`
	PhoneNumberID      *string    `json:"phone_number_id,omitempty"`
	DisplayPhoneNumber *string    `json:"display_phone_number,omitempty"`
	VerifiedName       *string    `json:"verified_name,omitempty"`
	CreationStrategy   *string    `json:"creation_strategy,omitempty"`
	PollingAttempts    int        `json:"polling_attempts"`
	LastError          *string    `json:"last_error,omitempty"`
	TokenExpiresAt     *time.Time `json:"token_expires_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type logEntryResponse struct {
	LogID        int64          `json:"log_id"`
	Step         string         `json:"step"`
	Strategy     *string        `json:"strategy,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type logListResponse struct {
	Items []logEntryResponse `json:"items"`
}

func (h *Handler) provision(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := h.restaurantID(w, r)
	if !ok {
		return
	}

	var req provisionRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	name, err := h.restaurants.RestaurantName(r.Context(), restaurantID)
	switch {
	case errors.Is(err, ErrRestaurantUnknown):
		problem.Write(w, problem.Details{
			Type: problemTypeNotFound, Title: "Not found",
			Detail: "restaurant not found", Status: http.StatusNotFound,
		})
		return
	case err != nil:
		h.logger.Error("restaurant lookup failed",
			zap.String("restaurant_id", restaurantID.String()), zap.Error(err))
		problem.Write(w, problem.Details{
			Type: problemTypeUnavailable, Title: "Service unavailable",
			Detail: "restaurant directory unavailable", Status: http.StatusServiceUnavailable,
		})
		return
	}

	ch, err := h.svc.Provision(r.Context(), restaurantID, service.ProvisionInput{
		Code:        req.Code,
		AuthState:   req.AuthState,
		Mode:        service.Mode(req.Mode),
		AccountName: name,
		Overrides:   req.Overrides,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toChannelResponse(ch))
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := h.restaurantID(w, r)
	if !ok {
		return
	}

	var req verifyRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	ch, err := h.svc.VerifyNumber(r.Context(), restaurantID, service.VerifyInput{Code: req.Code, PIN: req.PIN})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toChannelResponse(ch))
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := h.restaurantID(w, r)
	if !ok {
		return
	}

	ch, err := h.svc.Status(r.Context(), restaurantID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toChannelResponse(ch))
}

func (h *Handler) logs(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := h.restaurantID(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			problem.Write(w, problem.Details{
				Type: problemTypeValidation, Title: "Invalid request",
				Detail: "limit must be a non-negative integer", Status: http.StatusBadRequest,
			})
			return
		}
		limit = parsed
	}

	entries, err := h.svc.Logs(r.Context(), restaurantID, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	items := make([]logEntryResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, logEntryResponse{
			LogID:        entry.LogID,
			Step:         string(entry.Step),
			Strategy:     entry.Strategy,
			Success:      entry.Success,
			ErrorMessage: entry.ErrorMessage,
			Details:      entry.Details,
			CreatedAt:    entry.CreatedAt,
		})
	}
	h.writeJSON(w, http.StatusOK, logListResponse{Items: items})
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	restaurantID, ok := h.restaurantID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Disconnect(r.Context(), restaurantID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) restaurantID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "restaurantID"))
	if err != nil {
		problem.Write(w, problem.Details{
			Type: problemTypeValidation, Title: "Invalid request",
			Detail: "restaurant id must be a UUID", Status: http.StatusBadRequest,
		})
		return uuid.Nil, false
	}
	return id, true
}

// decodeJSON parses the request body into dst. An empty body is accepted and
// leaves dst zero-valued; unknown fields are rejected.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		problem.Write(w, problem.Details{
			Type: problemTypeValidation, Title: "Invalid request body",
			Detail: fmt.Sprintf("decode request body: %v", err), Status: http.StatusBadRequest,
		})
		return false
	}
	return true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrNotFound) {
		problem.Write(w, problem.Details{
			Type: problemTypeNotFound, Title: "Not found",
			Detail: err.Error(), Status: http.StatusNotFound,
		})
		return
	}

	var stepErr *service.StepError
	if errors.As(err, &stepErr) {
		status, problemType, title := statusForClass(stepErr.Class)
		problem.Write(w, problem.Details{
			Type: problemType, Title: title,
			Detail: stepErr.Error(), Status: status,
		})
		return
	}

	h.logger.Error("whatsapp operation failed", zap.Error(err))
	problem.Write(w, problem.Details{
		Type: problemTypeInternal, Title: "Internal error",
		Detail: "internal error", Status: http.StatusInternalServerError,
	})
}

func statusForClass(class service.Class) (int, string, string) {
	switch class {
	case service.ClassValidation:
		return http.StatusBadRequest, problemTypeValidation, "Invalid request"
	case service.ClassPermission:
		return http.StatusForbidden, problemTypePermission, "Permission denied"
	case service.ClassNotFound:
		return http.StatusNotFound, problemTypeNotFound, "Not found"
	case service.ClassIdempotentConflict:
		return http.StatusConflict, problemTypeConflict, "Conflict"
	case service.ClassUpstreamUnavailable:
		return http.StatusServiceUnavailable, problemTypeUnavailable, "Provider unavailable"
	case service.ClassTimeout:
		return http.StatusGatewayTimeout, problemTypeUpstream, "Provider timeout"
	default:
		return http.StatusBadGateway, problemTypeUpstream, "Provider error"
	}
}

func toChannelResponse(ch service.Channel) channelResponse {
	return channelResponse{
		RestaurantID:       ch.RestaurantID,
		Status:             string(ch.Status),
		BusinessID:         ch.BusinessID,
		WABAID:             ch.WABAID,
		PhoneNumberID:      ch.PhoneNumberID,
		DisplayPhoneNumber: ch.DisplayPhoneNumber,
		VerifiedName:       ch.VerifiedName,
		CreationStrategy:   ch.CreationStrategy,
		PollingAttempts:    ch.PollingAttempts,
		LastError:          ch.LastError,
		TokenExpiresAt:     ch.TokenExpiresAt,
		CreatedAt:          ch.CreatedAt,
		UpdatedAt:          ch.UpdatedAt,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}
