// Package middleware provides request-context helpers shared by the HTTP
// layer and the services it calls.
package middleware

import "context"

type contextKey string

const clientIPKey contextKey = "client_ip"

// SetClientIP stores the resolved client address in the context.
func SetClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// GetClientIP returns the client address, or "" when unknown.
func GetClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey).(string); ok {
		return v
	}
	return ""
}
