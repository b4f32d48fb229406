package config

import "context"

// ContextKey is an alias used for storing values in context
type ContextKey string

// ManagerCtxKey is the context key used to store the *Manager instance
const ManagerCtxKey ContextKey = "config_manager"

// ContextWithManager stores the configuration manager in the context
func ContextWithManager(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, ManagerCtxKey, m)
}

// ManagerFromContext retrieves the configuration manager from the context, or nil.
func ManagerFromContext(ctx context.Context) *Manager {
	if ctx == nil {
		return nil
	}
	m, _ := ctx.Value(ManagerCtxKey).(*Manager)
	return m
}

// FromContext returns the active configuration, or the defaults when no
// manager is attached to ctx.
func FromContext(ctx context.Context) *Config {
	if m := ManagerFromContext(ctx); m != nil {
		if cfg := m.Get(); cfg != nil {
			return cfg
		}
	}
	return Default()
}
