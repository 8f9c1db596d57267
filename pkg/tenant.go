package pkg

import "context"

type tenantContextKey string

var tenantKey = tenantContextKey("blog_id")

// ContextWithBlogID attaches the tenant scope to the context. Every persisted
// row carries it.
func ContextWithBlogID(ctx context.Context, blogID int64) context.Context {
	return context.WithValue(ctx, tenantKey, blogID)
}

// BlogIDFromContext returns the tenant scope carried by ctx, or zero for the
// default tenant.
func BlogIDFromContext(ctx context.Context) int64 {
	if id, ok := ctx.Value(tenantKey).(int64); ok {
		return id
	}

	return 0
}
