package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func healthRouter(ping func(context.Context) error) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(ErrorHandlingMiddleware())
	r.GET("/health", healthHandler(ping))
	return r
}

func TestHealth(t *testing.T) {
	r := healthRouter(func(context.Context) error { return nil })
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}

func TestHealthDatabaseDown(t *testing.T) {
	r := healthRouter(func(context.Context) error { return errors.New("connection refused") })
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	payload := decodeError(t, resp)
	assert.Equal(t, "service_unavailable", payload.Type)
	assert.NotContains(t, resp.Body.String(), "connection refused")
}
