package core

import "context"

type contextKey string

const ctxKeyRequestMeta contextKey = "request_meta"

// RequestMeta identifies the client behind an operation. Controllers attach
// it to load and export log entries so they can be traced to a caller.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// ContextWithRequestMeta returns a copy of ctx carrying meta.
func ContextWithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, ctxKeyRequestMeta, meta)
}

// RequestMetaFromContext extracts the request metadata from ctx.
func RequestMetaFromContext(ctx context.Context) (RequestMeta, bool) {
	meta, ok := ctx.Value(ctxKeyRequestMeta).(RequestMeta)
	return meta, ok
}
