package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/amaruortiz/vendora-backend/pkg/enums"
	"github.com/amaruortiz/vendora-backend/pkg/types"
)

type contextKey string

const (
	ctxUserID   contextKey = "user_id"
	ctxRole     contextKey = "actor_role"
	ctxVendorID contextKey = "vendor_id"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
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

func VendorIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxVendorID).(string); ok {
		return v
	}
	return ""
}

// ActorFromContext rebuilds the authenticated principal from the values
// seeded by the Auth middleware. A zero Actor means unauthenticated.
func ActorFromContext(ctx context.Context) types.Actor {
	actor := types.Actor{Role: enums.Role(RoleFromContext(ctx))}
	if raw := UserIDFromContext(ctx); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			actor.UserID = id
		}
	}
	if raw := VendorIDFromContext(ctx); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			actor.VendorID = &id
		}
	}
	return actor
}

// WithActor injects actor identity into the context. Used by tests and
// by the Auth middleware.
func WithActor(ctx context.Context, actor types.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, actor.UserID.String())
	ctx = context.WithValue(ctx, ctxRole, string(actor.Role))
	if actor.VendorID != nil {
		ctx = context.WithValue(ctx, ctxVendorID, actor.VendorID.String())
	}
	return ctx
}
