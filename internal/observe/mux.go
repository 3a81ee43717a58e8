package observe

import (
	"net/http"
	"slices"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Multiplexer is satisfied by *http.ServeMux.
type Multiplexer interface {
	Handle(pattern string, handler http.Handler)
	http.Handler
}

// Mux registers every route with an otelhttp handler named for the route,
// so that spans and request metrics carry the route rather than the raw
// path. Routes that should not be traced are registered on the wrapped
// multiplexer directly.
type Mux struct {
	wrapped Multiplexer
}

func NewMux(wrapped Multiplexer) *Mux {
	return &Mux{
		wrapped: wrapped,
	}
}

func (mux *Mux) Handle(pattern string, handler http.Handler) {
	route := Route(pattern)

	tagged := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		routeAttr := attribute.String("http.route", route)

		trace.SpanFromContext(r.Context()).SetAttributes(routeAttr)
		if labeler, ok := otelhttp.LabelerFromContext(r.Context()); ok {
			labeler.Add(routeAttr)
		}

		handler.ServeHTTP(w, r)
	})

	mux.wrapped.Handle(pattern, otelhttp.NewHandler(tagged, route))
}

func (mux *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.wrapped.ServeHTTP(w, r)
}

var methods = []string{
	http.MethodConnect,
	http.MethodDelete,
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
	http.MethodPatch,
	http.MethodPost,
	http.MethodPut,
	http.MethodTrace,
}

// Route strips the method from a ServeMux pattern such as "GET /callback".
func Route(pattern string) string {
	method, resource, hasMethod := strings.Cut(pattern, " ")
	if hasMethod && slices.Contains(methods, method) {
		return resource
	}
	return pattern
}
