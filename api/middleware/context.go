package middleware

import (
	"context"

	"github.com/pawfinds/pawfinds-backend/pkg/enums"
	"github.com/pawfinds/pawfinds-backend/pkg/outbox"
)

type contextKey string

const (
	ctxSubject contextKey = "subject"
	ctxRole    contextKey = "actor_role"
)

func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxSubject).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

// WithActor injects the authenticated subject and role into the context.
func WithActor(ctx context.Context, subject string, role enums.ActorRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxSubject, subject)
	return context.WithValue(ctx, ctxRole, string(role))
}

// ActorFromContext returns the outbox actor for the request. Anonymous
// callers are reported as public.
func ActorFromContext(ctx context.Context) *outbox.ActorRef {
	subject := SubjectFromContext(ctx)
	if subject == "" {
		return &outbox.ActorRef{Subject: "anonymous", Role: enums.ActorRolePublic.String()}
	}
	return &outbox.ActorRef{Subject: subject, Role: RoleFromContext(ctx)}
}
