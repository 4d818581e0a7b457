package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"netcluster/internal/logs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoveryMiddleware(t *testing.T) {
	logger := logs.NewLogger(10, logs.DEBUG)
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom!")
	})

	req := httptest.NewRequest(http.MethodGet, "/admin/services", nil)
	rr := httptest.NewRecorder()
	RecoveryMiddleware(logger)(panicHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "internal server error")

	last := logger.GetLast(1)
	require.Len(t, last, 1)
	assert.Equal(t, logs.ERROR, last[0].Level)
	assert.Contains(t, last[0].Message, "panic")
}

func TestLoggingMiddleware_RecordsStatus(t *testing.T) {
	logger := logs.NewLogger(10, logs.DEBUG)
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	LoggingMiddleware(logger)(h).ServeHTTP(httptest.NewRecorder(), req)

	last := logger.GetLast(1)
	require.Len(t, last, 1)
	assert.Equal(t, "http request", last[0].Message)
	assert.EqualValues(t, http.StatusTeapot, last[0].Fields["status"])
	assert.Equal(t, "/health", last[0].Fields["path"])
}

func TestChain(t *testing.T) {
	finalHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	rr := httptest.NewRecorder()
	Chain(finalHandler, mark("outer"), mark("inner")).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner"}, order)
	assert.Equal(t, http.StatusOK, rr.Code)
}
