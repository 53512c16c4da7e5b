// Package models contains domain types for the problem management engine.
package models

import "context"

// ActorContext carries who performed an operation.
// The HTTP layer fills it from the X-Actor header; authentication happens upstream.
type ActorContext struct {
	// Name identifies the user or system that triggered the operation.
	Name string
}

// actorKey is the context key for storing actor information.
type actorKey struct{}

// WithActor returns a new context with actor information attached.
func WithActor(ctx context.Context, a ActorContext) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// GetActor retrieves actor information from the context.
// Returns the actor context and true if present, otherwise a zero value and false.
func GetActor(ctx context.Context) (ActorContext, bool) {
	a, ok := ctx.Value(actorKey{}).(ActorContext)
	return a, ok
}

// ActorName returns the actor name from ctx, or nil when none is set.
func ActorName(ctx context.Context) *string {
	a, ok := GetActor(ctx)
	if !ok || a.Name == "" {
		return nil
	}
	name := a.Name
	return &name
}
