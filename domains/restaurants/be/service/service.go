package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/guiomkt/angubackend-sub001/domains/restaurants/be/repo"
	"github.com/guiomkt/angubackend-sub001/platform/go/persistence"
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

func (f FieldErrors) add(field, message string) {
	f[field] = append(f[field], message)
}

// ValidationError is returned when the input payload is invalid.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

// Domain sentinel errors.
var (
	ErrNotFound     = errors.New("restaurant not found")
	ErrConflictSlug = errors.New("restaurant slug already exists")
)

// Status is the lifecycle state of a restaurant.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// StatusFromString converts a stored string to Status.
func StatusFromString(s string) (Status, error) {
	switch Status(s) {
	case StatusActive, StatusSuspended:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown restaurant status %q", s)
	}
}

// DefaultTimezone applies when a restaurant is created without one.
const DefaultTimezone = "America/Sao_Paulo"

// Restaurant represents the domain view of a restaurant record.
type Restaurant struct {
	ID        uuid.UUID
	Slug      string
	Name      string
	Status    Status
	Timezone  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListOptions controls filtering and pagination.
type ListOptions struct {
	Status   *Status
	Page     int
	PageSize int
}

// ListResult wraps a page of restaurants with pagination metadata.
type ListResult struct {
	Restaurants []Restaurant
	Page        int
	PageSize    int
	TotalItems  int
	TotalPages  int
}

// CreateInput represents the payload required to register a restaurant.
type CreateInput struct {
	Slug     string
	Name     string
	Timezone string
	Status   Status // defaults to active
}

// UpdateInput encapsulates the mutable restaurant fields.
type UpdateInput struct {
	Name     *string
	Status   *Status
	Timezone *string
}

// Service defines the business operations for the restaurants domain.
type Service interface {
	Create(ctx context.Context, input CreateInput) (Restaurant, error)
	List(ctx context.Context, opts ListOptions) (ListResult, error)
	Get(ctx context.Context, id uuid.UUID) (Restaurant, error)
	GetBySlug(ctx context.Context, slug string) (Restaurant, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput) (Restaurant, error)
}

type service struct {
	repo repo.Repository
}

// New constructs a restaurants Service instance backed by the provided repository.
func New(r repo.Repository) Service {
	if r == nil {
		panic("restaurants repository is required")
	}
	return &service{repo: r}
}

func (s *service) Create(ctx context.Context, input CreateInput) (Restaurant, error) {
	fieldErrors := FieldErrors{}

	slug, err := persistence.NormalizeSlug(input.Slug)
	if err != nil {
		fieldErrors.add("slug", err.Error())
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		fieldErrors.add("name", "name is required")
	}

	status := input.Status
	if status == "" {
		status = StatusActive
	} else if _, err := StatusFromString(string(status)); err != nil {
		fieldErrors.add("status", err.Error())
	}

	timezone := strings.TrimSpace(input.Timezone)
	if timezone == "" {
		timezone = DefaultTimezone
	}

	if len(fieldErrors) > 0 {
		return Restaurant{}, &ValidationError{Fields: fieldErrors}
	}

	rec, err := s.repo.Create(ctx, persistence.RestaurantRecord{
		RestaurantID: uuid.New(),
		Slug:         slug,
		Name:         name,
		Status:       string(status),
		Timezone:     timezone,
	})
	if err != nil {
		return Restaurant{}, mapPersistenceError(err)
	}
	return mapRestaurant(rec)
}

func (s *service) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	var statusFilter *string
	if opts.Status != nil {
		v := string(*opts.Status)
		statusFilter = &v
	}

	records, total, err := s.repo.List(ctx, statusFilter, pageSize, (page-1)*pageSize)
	if err != nil {
		return ListResult{}, err
	}

	restaurants := make([]Restaurant, 0, len(records))
	for _, rec := range records {
		r, err := mapRestaurant(rec)
		if err != nil {
			return ListResult{}, err
		}
		restaurants = append(restaurants, r)
	}

	return ListResult{
		Restaurants: restaurants,
		Page:        page,
		PageSize:    pageSize,
		TotalItems:  total,
		TotalPages:  (total + pageSize - 1) / pageSize,
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (Restaurant, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return Restaurant{}, mapPersistenceError(err)
	}
	return mapRestaurant(rec)
}

func (s *service) GetBySlug(ctx context.Context, slug string) (Restaurant, error) {
	normalized, err := persistence.NormalizeSlug(slug)
	if err != nil {
		return Restaurant{}, &ValidationError{Fields: FieldErrors{"slug": {err.Error()}}}
	}
	rec, err := s.repo.GetBySlug(ctx, normalized)
	if err != nil {
		return Restaurant{}, mapPersistenceError(err)
	}
	return mapRestaurant(rec)
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (Restaurant, error) {
	fieldErrors := FieldErrors{}
	params := persistence.UpdateRestaurantParams{}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			fieldErrors.add("name", "name cannot be empty")
		}
		params.Name = &name
	}
	if input.Status != nil {
		if _, err := StatusFromString(string(*input.Status)); err != nil {
			fieldErrors.add("status", err.Error())
		}
		v := string(*input.Status)
		params.Status = &v
	}
	if input.Timezone != nil {
		timezone := strings.TrimSpace(*input.Timezone)
		if timezone == "" {
			fieldErrors.add("timezone", "timezone cannot be empty")
		}
		params.Timezone = &timezone
	}

	if len(fieldErrors) > 0 {
		return Restaurant{}, &ValidationError{Fields: fieldErrors}
	}

	rec, err := s.repo.Update(ctx, id, params)
	if err != nil {
		return Restaurant{}, mapPersistenceError(err)
	}
	return mapRestaurant(rec)
}

func mapRestaurant(rec persistence.RestaurantRecord) (Restaurant, error) {
	status, err := StatusFromString(rec.Status)
	if err != nil {
		return Restaurant{}, fmt.Errorf("restaurant %s: %w", rec.RestaurantID, err)
	}
	return Restaurant{
		ID:        rec.RestaurantID,
		Slug:      rec.Slug,
		Name:      rec.Name,
		Status:    status,
		Timezone:  rec.Timezone,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

func mapPersistenceError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrSlugTaken):
		return ErrConflictSlug
	default:
		return err
	}
}
