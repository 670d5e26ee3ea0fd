package upstream

import "context"

type correlationKey struct{}

// WithCorrelation attaches a correlation ID to the context so upstream
// requests can carry it in the X-Correlation-ID header.
func WithCorrelation(ctx context.Context, cid string) context.Context {
	return context.WithValue(ctx, correlationKey{}, cid)
}

func correlationFrom(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey{}).(string); ok {
		return v
	}
	return ""
}
