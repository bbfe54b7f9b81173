package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kiridroid/kiridroid-go/internal/domain"
	"github.com/kiridroid/kiridroid-go/internal/repository"
	"github.com/kiridroid/kiridroid-go/internal/service"
)

// MockBuildService Mock Service
type MockBuildService struct {
	mock.Mock
}

func (m *MockBuildService) Submit(ctx context.Context, req domain.BuildRequest) (*domain.Build, error) {
	args := m.Called(req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Build), args.Error(1)
}

func (m *MockBuildService) Get(ctx context.Context, id string) (*domain.Build, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Build), args.Error(1)
}

func (m *MockBuildService) List(ctx context.Context, filter repository.ListFilter) ([]*domain.Build, int64, error) {
	args := m.Called(filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*domain.Build), args.Get(1).(int64), args.Error(2)
}

func (m *MockBuildService) Invocations(ctx context.Context, id string) ([]*domain.ToolInvocation, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ToolInvocation), args.Error(1)
}

func (m *MockBuildService) Rerun(ctx context.Context, id string) (*domain.Build, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Build), args.Error(1)
}

func (m *MockBuildService) GetStatusCounts(ctx context.Context) (map[string]int64, int64, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).(map[string]int64), args.Get(1).(int64), args.Error(2)
}

func (m *MockBuildService) Recover(ctx context.Context) (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

type stubProber struct {
	version string
	err     error
}

func (p stubProber) Version(context.Context) (string, error) { return p.version, p.err }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// setupTestRouter 设置测试路由
func setupTestRouter(svc service.BuildService, prober VersionProber) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewBuildHandler(svc, prober, "1.0.0", testLogger())
	r.GET("/api/health", h.Health)
	r.GET("/api/version", h.Version)
	r.GET("/api/stats", h.GetStats)
	r.POST("/api/builds", h.CreateBuild)
	r.GET("/api/builds", h.ListBuilds)
	r.GET("/api/builds/:id", h.GetBuild)
	r.GET("/api/builds/:id/invocations", h.ListInvocations)
	r.GET("/api/builds/:id/artifact", h.DownloadArtifact)
	r.POST("/api/builds/:id/rerun", h.RerunBuild)
	return r
}

func do(r http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestBuildHandler_CreateBuild(t *testing.T) {
	svc := new(MockBuildService)
	r := setupTestRouter(svc, nil)

	req := domain.BuildRequest{
		ContentDir: "/games/mygame",
		IconFile:   "/games/mygame/icon.png",
		PackageID:  "com.example.mygame",
		AppName:    "MyGame",
	}
	svc.On("Submit", req).Return(&domain.Build{ID: "b1", PackageID: req.PackageID, Status: domain.BuildStatusQueued}, nil).Once()

	body, _ := json.Marshal(req)
	w := do(r, http.MethodPost, "/api/builds", body)
	assert.Equal(t, http.StatusAccepted, w.Code)

	var build domain.Build
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &build))
	assert.Equal(t, "b1", build.ID)
	assert.Equal(t, domain.BuildStatusQueued, build.Status)

	svc.AssertExpectations(t)
}

func TestBuildHandler_CreateBuildErrors(t *testing.T) {
	svc := new(MockBuildService)
	r := setupTestRouter(svc, nil)

	w := do(r, http.MethodPost, "/api/builds", []byte(`{not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.On("Submit", domain.BuildRequest{AppName: "A"}).
		Return(nil, fmt.Errorf("%w: missing content_dir", domain.ErrInvalidRequest)).Once()
	w = do(r, http.MethodPost, "/api/builds", []byte(`{"app_name":"A"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "content_dir")

	svc.On("Submit", domain.BuildRequest{AppName: "B"}).Return(nil, errors.New("build queue is full")).Once()
	w = do(r, http.MethodPost, "/api/builds", []byte(`{"app_name":"B"}`))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	svc.AssertExpectations(t)
}

func TestBuildHandler_ListBuilds(t *testing.T) {
	svc := new(MockBuildService)
	r := setupTestRouter(svc, nil)

	builds := []*domain.Build{{ID: "b2"}, {ID: "b1"}}
	svc.On("List", repository.ListFilter{Page: 2, PageSize: 100, Status: "failed", Search: "game"}).
		Return(builds, int64(102), nil).Once()

	w := do(r, http.MethodGet, "/api/builds?page=2&page_size=500&status=failed&search=game", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Builds     []domain.Build `json:"builds"`
		Total      int64          `json:"total"`
		PageSize   int            `json:"page_size"`
		TotalPages int64          `json:"total_pages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Builds, 2)
	assert.Equal(t, int64(102), resp.Total)
	assert.Equal(t, 100, resp.PageSize)
	assert.Equal(t, int64(2), resp.TotalPages)

	svc.AssertExpectations(t)
}

func TestBuildHandler_GetBuild(t *testing.T) {
	svc := new(MockBuildService)
	r := setupTestRouter(svc, nil)

	svc.On("Get", "b1").Return(&domain.Build{ID: "b1", CreatedAt: time.Now()}, nil)
	svc.On("Get", "missing").Return(nil, fmt.Errorf("failed to get build: %w", repository.ErrNotFound))
	svc.On("Get", "broken").Return(nil, errors.New("database is locked"))

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/api/builds/b1", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/builds/missing", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, do(r, http.MethodGet, "/api/builds/broken", nil).Code)
}

func TestBuildHandler_ListInvocations(t *testing.T) {
	svc := new(MockBuildService)
	r := setupTestRouter(svc, nil)

	svc.On("Invocations", "b1").Return([]*domain.ToolInvocation{
		{BuildID: "b1", Tool: "apktool", CommandLine: "java -jar apktool.jar d -f base.apk"},
	}, nil)

	w := do(r, http.MethodGet, "/api/builds/b1/invocations", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "apktool.jar d -f")
}

func TestBuildHandler_DownloadArtifact(t *testing.T) {
	svc := new(MockBuildService)
	r := setupTestRouter(svc, nil)

	artifact := filepath.Join(t.TempDir(), "MyGame_signed.apk")
	require.NoError(t, os.WriteFile(artifact, []byte("PK\x03\x04signed"), 0644))

	svc.On("Get", "ok").Return(&domain.Build{ID: "ok", Status: domain.BuildStatusSucceeded, ArtifactPath: artifact}, nil)
	svc.On("Get", "running").Return(&domain.Build{ID: "running", Status: domain.BuildStatusRunning}, nil)
	svc.On("Get", "gone").Return(&domain.Build{ID: "gone", Status: domain.BuildStatusSucceeded, ArtifactPath: artifact + ".old"}, nil)

	w := do(r, http.MethodGet, "/api/builds/ok/artifact", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "PK\x03\x04signed", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "MyGame_signed.apk")

	assert.Equal(t, http.StatusConflict, do(r, http.MethodGet, "/api/builds/running/artifact", nil).Code)
	assert.Equal(t, http.StatusGone, do(r, http.MethodGet, "/api/builds/gone/artifact", nil).Code)
}

func TestBuildHandler_RerunBuild(t *testing.T) {
	svc := new(MockBuildService)
	r := setupTestRouter(svc, nil)

	svc.On("Rerun", "failed").Return(&domain.Build{ID: "failed", Status: domain.BuildStatusQueued}, nil)
	svc.On("Rerun", "done").Return(nil, service.ErrNotRerunnable)
	svc.On("Rerun", "missing").Return(nil, fmt.Errorf("failed to get build: %w", repository.ErrNotFound))

	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/builds/failed/rerun", nil).Code)
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/api/builds/done/rerun", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodPost, "/api/builds/missing/rerun", nil).Code)
}

func TestBuildHandler_StatsAndVersion(t *testing.T) {
	svc := new(MockBuildService)
	svc.On("GetStatusCounts").Return(map[string]int64{"queued": 1, "failed": 2}, int64(3), nil)

	r := setupTestRouter(svc, stubProber{version: "2.11.1"})
	w := do(r, http.MethodGet, "/api/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total":3,"counts":{"queued":1,"failed":2}}`, w.Body.String())

	w = do(r, http.MethodGet, "/api/version", nil)
	assert.JSONEq(t, `{"version":"1.0.0","apktool":"2.11.1"}`, w.Body.String())

	r = setupTestRouter(svc, stubProber{err: errors.New("java not found")})
	w = do(r, http.MethodGet, "/api/version", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "java not found")

	w = do(r, http.MethodGet, "/api/health", nil)
	assert.JSONEq(t, `{"status":"ok","version":"1.0.0"}`, w.Body.String())
}
