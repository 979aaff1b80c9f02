package logging

import (
	"context"
)

type contextKey string

const (
	ownerIDKey     contextKey = "owner_id"
	dialogIDKey    contextKey = "dialog_id"
	eventTypeKey   contextKey = "event_type"
	serviceNameKey contextKey = "service_name"
)

func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey, ownerID)
}

func WithDialogID(ctx context.Context, dialogID string) context.Context {
	return context.WithValue(ctx, dialogIDKey, dialogID)
}

func WithEventType(ctx context.Context, eventType string) context.Context {
	return context.WithValue(ctx, eventTypeKey, eventType)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, serviceNameKey, serviceName)
}

func GetOwnerID(ctx context.Context) string     { return get(ctx, ownerIDKey) }
func GetDialogID(ctx context.Context) string    { return get(ctx, dialogIDKey) }
func GetEventType(ctx context.Context) string   { return get(ctx, eventTypeKey) }
func GetServiceName(ctx context.Context) string { return get(ctx, serviceNameKey) }

func get(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetLogFields returns the context-carried fields as zap keysAndValues.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	if v := GetOwnerID(ctx); v != "" {
		fields = append(fields, "owner_id", v)
	}
	if v := GetDialogID(ctx); v != "" {
		fields = append(fields, "dialog_id", v)
	}
	if v := GetEventType(ctx); v != "" {
		fields = append(fields, "event_type", v)
	}
	if v := GetServiceName(ctx); v != "" {
		fields = append(fields, "service_name", v)
	}

	return fields
}
