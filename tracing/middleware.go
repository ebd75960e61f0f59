package tracing

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Middleware starts a server span named "METHOD path" per request,
// continuing any trace carried in the request headers.
func Middleware(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "datamigrate",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
