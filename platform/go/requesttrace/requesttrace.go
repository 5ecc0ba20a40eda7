package requesttrace

import (
	"context"
)

type contextKey string

const (
	ctxAuditInfo contextKey = "ANGU_REQUEST_TRACE"
)

// ActorKind represents who initiated a request.
type ActorKind string

const (
	// ActorKindService marks calls from another backend service (the web app
	// BFF, the chatbot runtime) identified by the X-Caller-Service header.
	ActorKindService ActorKind = "service"
	// ActorKindAnonymous marks calls with no caller identification.
	ActorKindAnonymous ActorKind = "anonymous"
	// ActorKindSystem marks CLI and background operations.
	ActorKindSystem ActorKind = "system"
)

// AuditInfo captures request-scoped metadata for traceability. Caller is set
// only for service actors; RequestID is optional but encouraged.
type AuditInfo struct {
	ActorKind ActorKind
	Caller    *string
	RequestID string
}

// IntoContext stores the AuditInfo in the provided context.
func IntoContext(ctx context.Context, audit AuditInfo) context.Context {
	return context.WithValue(ctx, ctxAuditInfo, audit)
}

// FromContext extracts the AuditInfo from context, returning false when not present.
func FromContext(ctx context.Context) (AuditInfo, bool) {
	if ctx == nil {
		return AuditInfo{}, false
	}
	v := ctx.Value(ctxAuditInfo)
	if v == nil {
		return AuditInfo{}, false
	}

	audit, ok := v.(AuditInfo)
	return audit, ok
}

// FromContextOrAnonymous returns the AuditInfo stored on the context, or an anonymous record when absent.
func FromContextOrAnonymous(ctx context.Context) AuditInfo {
	if audit, ok := FromContext(ctx); ok {
		return audit
	}
	return Anonymous("")
}

// Service builds an AuditInfo for an identified calling service.
func Service(caller, requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindService, Caller: &caller, RequestID: requestID}
}

// Anonymous builds an AuditInfo for unidentified callers.
func Anonymous(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindAnonymous, RequestID: requestID}
}

// System builds an AuditInfo for CLI/background operations.
func System(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindSystem, RequestID: requestID}
}
