package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/guiomkt/angubackend-sub001/domains/whatsapp/be/graph"
)

// Class buckets workflow failures. Only validation and permission are hard
// stops; every other class leaves the channel in a resumable state.
type Class string

const (
	ClassValidation          Class = "validation"
	ClassPermission          Class = "permission"
	ClassNotFound            Class = "not_found"
	ClassUpstreamUnavailable Class = "upstream_unavailable"
	ClassUpstreamError       Class = "upstream_error"
	ClassTimeout             Class = "timeout"
	ClassIdempotentConflict  Class = "idempotent_conflict"
)

// StepError is a classified failure of one workflow step.
type StepError struct {
	Step  Step
	Class Class
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Step, e.Class, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func stepErr(step Step, class Class, err error) *StepError {
	return &StepError{Step: step, Class: class, Err: err}
}

func stepErrf(step Step, class Class, format string, args ...any) *StepError {
	return &StepError{Step: step, Class: class, Err: fmt.Errorf(format, args...)}
}

// ClassOf extracts the failure class of err, classifying raw provider errors
// on the fly. Unclassifiable errors count as upstream_error.
func ClassOf(err error) Class {
	var stepError *StepError
	if errors.As(err, &stepError) {
		return stepError.Class
	}
	return classify(err)
}

// classify maps a provider error onto the workflow taxonomy.
func classify(err error) Class {
	var apiErr *graph.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.AuthFailed():
			return ClassPermission
		case apiErr.NotFound():
			return ClassNotFound
		case apiErr.Transient():
			return ClassUpstreamUnavailable
		case apiErr.Status == 400:
			return ClassValidation
		default:
			return ClassUpstreamError
		}
	}
	if graph.IsTimeout(err) || errors.Is(err, context.Canceled) {
		return ClassTimeout
	}
	if graph.IsTransient(err) {
		return ClassUpstreamUnavailable
	}
	return ClassUpstreamError
}

// retryable reports whether a failure class is worth one in-step retry.
func retryable(class Class) bool {
	return class == ClassUpstreamUnavailable || class == ClassTimeout
}

// hardStop reports whether a class must interrupt the workflow and surface
// immediately instead of leaving a resumable record.
func hardStop(class Class) bool {
	return class == ClassValidation || class == ClassPermission
}
