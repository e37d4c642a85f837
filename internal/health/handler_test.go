package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func setupDeps(t *testing.T) (*gorm.DB, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return db, client, mr
}

func get(h *Handler, fn echo.HandlerFunc, path string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	_ = fn(e.NewContext(req, rec))
	return rec
}

func TestLiveness(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, "test")
	rec := get(h, h.Liveness, "/health")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadiness(t *testing.T) {
	db, client, mr := setupDeps(t)

	tests := []struct {
		name       string
		engine     Pinger
		stopRedis  bool
		wantCode   int
		wantStatus Status
	}{
		{"all healthy", stubPinger{}, false, http.StatusOK, StatusHealthy},
		{"engine down", stubPinger{err: errors.New("refused")}, false, http.StatusOK, StatusDegraded},
		{"engine missing", nil, false, http.StatusOK, StatusDegraded},
		{"redis down", stubPinger{}, true, http.StatusServiceUnavailable, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.stopRedis {
				mr.Close()
			}
			h := NewHandler(db, client, tt.engine, nil, "1.2.3")
			rec := get(h, h.Readiness, "/health/ready")
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}

			var resp HealthResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("expected %s, got %s (%+v)", tt.wantStatus, resp.Status, resp.Components)
			}
			if resp.Version != "1.2.3" || len(resp.Components) != 3 {
				t.Errorf("unexpected response %+v", resp)
			}
		})
	}
}

func TestReadiness_NoDatabase(t *testing.T) {
	_, client, _ := setupDeps(t)
	h := NewHandler(nil, client, stubPinger{}, nil, "test")

	rec := get(h, h.Readiness, "/health/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestSessions_Empty(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, "test")
	rec := get(h, h.Sessions, "/health/sessions")

	var resp SessionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Total != 0 || resp.Sessions == nil {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestMiddleware_CountsRequests(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, "test")
	e := echo.New()
	e.Use(h.Middleware())
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for i := 0; i < 3; i++ {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
	}

	if h.totalRequests != 3 || h.activeConnections != 0 {
		t.Errorf("unexpected counters requests=%d active=%d", h.totalRequests, h.activeConnections)
	}
}
