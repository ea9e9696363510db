package id

import "context"

type contextKey string

const (
	taskKey  contextKey = "aide_task_id"
	ownerKey contextKey = "aide_owner"
)

// IDs captures the identifiers propagated across execution boundaries.
type IDs struct {
	TaskID string
	Owner  string
}

// WithTaskID stores the task identifier on the context.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	if taskID == "" {
		return ctx
	}
	return context.WithValue(ctx, taskKey, taskID)
}

// TaskIDFromContext retrieves the task identifier from the context.
func TaskIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(taskKey).(string); ok {
		return v
	}
	return ""
}

// WithOwner stores the submitting owner on the context.
func WithOwner(ctx context.Context, owner string) context.Context {
	if owner == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerKey, owner)
}

// OwnerFromContext retrieves the submitting owner from the context.
func OwnerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ownerKey).(string); ok {
		return v
	}
	return ""
}

// IDsFromContext gathers all propagated identifiers at once.
func IDsFromContext(ctx context.Context) IDs {
	return IDs{
		TaskID: TaskIDFromContext(ctx),
		Owner:  OwnerFromContext(ctx),
	}
}
