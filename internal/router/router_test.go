package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/noah-isme/coachdesk-api/internal/dto"
	"github.com/noah-isme/coachdesk-api/internal/handler"
	"github.com/noah-isme/coachdesk-api/internal/models"
	"github.com/noah-isme/coachdesk-api/internal/service"
	"github.com/noah-isme/coachdesk-api/pkg/config"
	appErrors "github.com/noah-isme/coachdesk-api/pkg/errors"
)

type tokenTable map[string]*models.JWTClaims

func (t tokenTable) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := t[token]; ok {
		return claims, nil
	}
	return nil, appErrors.ErrUnauthorized
}

type stubRunner struct{ calls int }

func (s *stubRunner) RunOnce(context.Context) (*dto.SweepReport, error) {
	s.calls++
	return &dto.SweepReport{}, nil
}

func newTestRouter(env string, runner *stubRunner) *gin.Engine {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	return New(Dependencies{
		Config: &config.Config{Env: env, APIPrefix: "/api/v1"},
		Logger: zap.NewNop(),
		Verifier: tokenTable{
			"admin":   {UserID: "admin-1", Role: models.RoleAdmin},
			"trainer": {UserID: "trainer-1", Role: models.RoleTrainer},
		},
		Observer: metrics,
		Handlers: Handlers{
			Capacity:    handler.NewCapacityHandler(nil, nil),
			Transitions: handler.NewTransitionHandler(nil, 0),
			Plans:       handler.NewPlanHandler(nil),
			Students:    handler.NewStudentHandler(nil, nil),
			Units:       handler.NewUnitHandler(nil),
			Scheduler:   handler.NewSchedulerHandler(runner),
			Metrics:     handler.NewMetricsHandler(metrics, nil),
		},
	})
}

func serve(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRouterAccessControl(t *testing.T) {
	runner := &stubRunner{}
	r := newTestRouter(config.EnvDevelopment, runner)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{"health is public", http.MethodGet, "/health", "", http.StatusOK},
		{"ready is public", http.MethodGet, "/ready", "", http.StatusOK},
		{"metrics is public", http.MethodGet, "/metrics", "", http.StatusOK},
		{"api needs a token", http.MethodGet, "/api/v1/capacity", "", http.StatusUnauthorized},
		{"unknown token", http.MethodGet, "/api/v1/capacity", "nope", http.StatusUnauthorized},
		{"trainer cannot reach admin", http.MethodPost, "/api/v1/admin/scheduler/run", "trainer", http.StatusForbidden},
		{"trainer cannot issue units", http.MethodPost, "/api/v1/admin/trainers/trainer-1/units", "trainer", http.StatusForbidden},
		{"admin runs the sweep", http.MethodPost, "/api/v1/admin/scheduler/run", "admin", http.StatusOK},
		{"unknown route", http.MethodGet, "/api/v1/nothing-here", "admin", http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(r, tc.method, tc.path, tc.token)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
	assert.Equal(t, 1, runner.calls)
}

func TestRouterDocsHiddenInProduction(t *testing.T) {
	dev := newTestRouter(config.EnvDevelopment, &stubRunner{})
	assert.Equal(t, http.StatusOK, serve(dev, http.MethodGet, "/docs/doc.json", "").Code)

	prod := newTestRouter(config.EnvProduction, &stubRunner{})
	assert.Equal(t, http.StatusNotFound, serve(prod, http.MethodGet, "/docs/doc.json", "").Code)
}

func TestRouterRecordsMetrics(t *testing.T) {
	r := newTestRouter(config.EnvDevelopment, &stubRunner{})
	serve(r, http.MethodGet, "/health", "")

	rec := serve(r, http.MethodGet, "/metrics", "")
	assert.Contains(t, rec.Body.String(), `path="/health"`)
}
