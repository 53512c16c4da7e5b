// Package middleware provides HTTP middleware shared by all routes.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/models"
)

const (
	// CorrelationIDHeader carries the id that ties a request to its log lines
	// and error responses. A valid incoming value is reused.
	CorrelationIDHeader = "X-Correlation-ID"
	// RequestIDHeader is accepted as an alternative incoming correlation id.
	RequestIDHeader = "X-Request-ID"
	// ActorHeader names the user on whose behalf the request is made.
	// Authentication happens upstream; the value is recorded, not verified.
	ActorHeader = "X-Actor"

	maxCorrelationIDLength = 128
	maxActorLength         = 255
)

type correlationKey struct{}

// CorrelationID returns the correlation id stored in ctx, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// WithCorrelationID returns a context carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// Correlation assigns every request a correlation id, echoes it in the
// response header and stores it in the request context.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := incomingCorrelationID(r)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithCorrelationID(r.Context(), id)))
	})
}

func incomingCorrelationID(r *http.Request) string {
	for _, h := range []string{CorrelationIDHeader, RequestIDHeader} {
		v := strings.TrimSpace(r.Header.Get(h))
		if v != "" && len(v) <= maxCorrelationIDLength && printable(v) {
			return v
		}
	}
	return ""
}

// Actor stores the caller named in the X-Actor header in the request context
// so that services can record who made a change.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSpace(r.Header.Get(ActorHeader))
		if name == "" || len(name) > maxActorLength || !printable(name) {
			next.ServeHTTP(w, r)
			return
		}
		ctx := models.WithActor(r.Context(), models.ActorContext{Name: name})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func printable(s string) bool {
	for _, c := range s {
		if c < 0x20 || c == 0x7f {
			return false
		}
	}
	return true
}
