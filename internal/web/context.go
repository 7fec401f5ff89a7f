package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/csvedit/internal/core"
)

// WithRequestMetadata adds the client IP and User-Agent to ctx so the
// controller can log who loaded or exported a document.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	return core.ContextWithRequestMeta(ctx, core.RequestMeta{
		IPAddress: r.RemoteAddr, // Already processed by TrustedRealIP
		UserAgent: r.UserAgent(),
	})
}
