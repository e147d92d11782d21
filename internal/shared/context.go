package shared

import (
	"context"
	"strings"
)

type actorContextKey struct{}

// SystemActor is recorded when no operator identity travels with the request.
const SystemActor = "system"

// ContextWithActor stores the acting operator or process in context.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, strings.TrimSpace(actor))
}

// ActorFromContext extracts the actor, falling back to SystemActor.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return SystemActor
	}
	actor, _ := ctx.Value(actorContextKey{}).(string)
	if actor == "" {
		return SystemActor
	}
	return actor
}
