package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		expected string
	}{
		{name: "GET route", pattern: "GET /authorize", expected: "/authorize"},
		{name: "POST route", pattern: "POST /query", expected: "/query"},
		{name: "route with wildcard", pattern: "GET /users/{id}", expected: "/users/{id}"},
		{name: "route without method", pattern: "/healthcheck", expected: "/healthcheck"},
		{name: "unknown method kept", pattern: "FETCH /query", expected: "FETCH /query"},
		{name: "lowercase method kept", pattern: "get /callback", expected: "get /callback"},
		{name: "method only", pattern: "GET", expected: "GET"},
		{name: "empty", pattern: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Route(tt.pattern))
		})
	}
}

func TestMux_ServesRegisteredRoutes(t *testing.T) {
	mux := NewMux(http.NewServeMux())

	called := 0
	mux.Handle("GET /callback", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusAccepted)
	}))

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/callback?state=x", nil))
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, 1, called)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/callback", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/elsewhere", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, 1, called)
}
