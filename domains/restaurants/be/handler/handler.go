package handler

import (
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

	"github.com/guiomkt/angubackend-sub001/domains/restaurants/be/service"
	"github.com/guiomkt/angubackend-sub001/platform/go/problem"
)

const (
	problemTypeValidation = "https://angu.app/problems/validation-error"
	problemTypeNotFound   = "https://angu.app/problems/not-found"
	problemTypeConflict   = "https://angu.app/problems/conflict"
	problemTypeInternal   = "https://angu.app/problems/internal-error"

	restaurantsBasePath = "/api/v1/restaurants"
)

// Handler exposes the restaurant registry over HTTP.
type Handler struct {
	svc    service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("restaurants service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes returns the restaurant CRUD router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{restaurantID}", h.get)
	r.Patch("/{restaurantID}", h.update)
	return r
}

type createRequest struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Timezone string `json:"timezone,omitempty"`
	Status   string `json:"status,omitempty"`
}

type updateRequest struct {
	Name     *string `json:"name,omitempty"`
	Status   *string `json:"status,omitempty"`
	Timezone *string `json:"timezone,omitempty"`
}

type restaurantResponse struct {
	RestaurantID uuid.UUID `json:"restaurant_id"`
	Slug         string    `json:"slug"`
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	Timezone     string    `json:"timezone"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type listResponse struct {
	Items      []restaurantResponse `json:"items"`
	Page       int                  `json:"page"`
	PageSize   int                  `json:"page_size"`
	TotalItems int                  `json:"total_items"`
	TotalPages int                  `json:"total_pages"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	created, err := h.svc.Create(r.Context(), service.CreateInput{
		Slug:     req.Slug,
		Name:     req.Name,
		Timezone: req.Timezone,
		Status:   service.Status(req.Status),
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("%s/%s", restaurantsBasePath, created.ID))
	h.writeJSON(w, http.StatusCreated, toRestaurantResponse(created))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	opts := service.ListOptions{}
	query := r.URL.Query()

	if raw := query.Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeValidation(w, "page must be an integer")
			return
		}
		opts.Page = parsed
	}
	if raw := query.Get("page_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeValidation(w, "page_size must be an integer")
			return
		}
		opts.PageSize = parsed
	}
	if raw := query.Get("status"); raw != "" {
		status, err := service.StatusFromString(raw)
		if err != nil {
			h.writeValidation(w, err.Error())
			return
		}
		opts.Status = &status
	}

	result, err := h.svc.List(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	items := make([]restaurantResponse, 0, len(result.Restaurants))
	for _, restaurant := range result.Restaurants {
		items = append(items, toRestaurantResponse(restaurant))
	}
	h.writeJSON(w, http.StatusOK, listResponse{
		Items:      items,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.restaurantID(w, r)
	if !ok {
		return
	}

	restaurant, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRestaurantResponse(restaurant))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.restaurantID(w, r)
	if !ok {
		return
	}

	var req updateRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	input := service.UpdateInput{Name: req.Name, Timezone: req.Timezone}
	if req.Status != nil {
		status := service.Status(*req.Status)
		input.Status = &status
	}

	updated, err := h.svc.Update(r.Context(), id, input)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toRestaurantResponse(updated))
}

func (h *Handler) restaurantID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "restaurantID"))
	if err != nil {
		h.writeValidation(w, "restaurant id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

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

func (h *Handler) writeValidation(w http.ResponseWriter, detail string) {
	problem.Write(w, problem.Details{
		Type: problemTypeValidation, Title: "Invalid request",
		Detail: detail, Status: http.StatusBadRequest,
	})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var vErr *service.ValidationError
	switch {
	case errors.As(err, &vErr):
		problem.Write(w, problem.Details{
			Type: problemTypeValidation, Title: "Invalid request",
			Detail: vErr.Error(), Status: http.StatusBadRequest,
			Errors: vErr.Fields,
		})
	case errors.Is(err, service.ErrNotFound):
		problem.Write(w, problem.Details{
			Type: problemTypeNotFound, Title: "Not found",
			Detail: err.Error(), Status: http.StatusNotFound,
		})
	case errors.Is(err, service.ErrConflictSlug):
		problem.Write(w, problem.Details{
			Type: problemTypeConflict, Title: "Conflict",
			Detail: err.Error(), Status: http.StatusConflict,
		})
	default:
		h.logger.Error("restaurant operation failed", zap.Error(err))
		problem.Write(w, problem.Details{
			Type: problemTypeInternal, Title: "Internal error",
			Detail: "internal error", Status: http.StatusInternalServerError,
		})
	}
}

func toRestaurantResponse(r service.Restaurant) restaurantResponse {
	return restaurantResponse{
		RestaurantID: r.ID,
		Slug:         r.Slug,
		Name:         r.Name,
		Status:       string(r.Status),
		Timezone:     r.Timezone,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}
