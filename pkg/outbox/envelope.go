package outbox

import (
	"context"
	"encoding/json"
	"time"
)

// ActorRef identifies who produced the event: the admin subject for
// decisions and deletions, anonymous for public submissions.
type ActorRef struct {
	Subject string `json:"subject"`
	Role    string `json:"role,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
// RequestID ties a listing event, and any dead letter made from it, back to
// the HTTP request that produced it.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	RequestID  string          `json:"requestId,omitempty"`
	Data       json.RawMessage `json:"data"`
}

type requestIDKey struct{}

// WithRequestID records the request id that Emit copies into envelopes.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}
