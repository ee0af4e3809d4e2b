package shared

import "context"

type contextKey string

const actorKey contextKey = "actor_id"

// SystemActor identifies mutations performed by background jobs rather
// than a signed-in user.
const SystemActor = "system"

// ContextWithActor attaches the acting user's id to the context.
func ContextWithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey, actorID)
}

// ActorFromContext returns the acting user's id, or SystemActor when none
// was attached.
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey).(string); ok && v != "" {
		return v
	}
	return SystemActor
}
