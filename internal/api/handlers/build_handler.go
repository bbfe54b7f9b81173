package handlers

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/kiridroid/kiridroid-go/internal/domain"
	"github.com/kiridroid/kiridroid-go/internal/repository"
	"github.com/kiridroid/kiridroid-go/internal/service"
)

// VersionProber 查询 apktool 版本，*toolchain.Toolchain 实现了它
type VersionProber interface {
	Version(ctx context.Context) (string, error)
}

// BuildHandler 构建处理器
type BuildHandler struct {
	builds     service.BuildService
	tools      VersionProber
	appVersion string
	logger     *logrus.Logger
}

// NewBuildHandler 创建构建处理器实例
func NewBuildHandler(builds service.BuildService, tools VersionProber, appVersion string, logger *logrus.Logger) *BuildHandler {
	return &BuildHandler{
		builds:     builds,
		tools:      tools,
		appVersion: appVersion,
		logger:     logger,
	}
}

// Health GET /api/health
func (h *BuildHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": h.appVersion,
	})
}

// Version GET /api/version
// 工具不可用时 apktool 字段为空，并返回 error 说明
func (h *BuildHandler) Version(c *gin.Context) {
	resp := gin.H{"version": h.appVersion}
	if h.tools != nil {
		v, err := h.tools.Version(c.Request.Context())
		if err != nil {
			h.logger.WithError(err).Warn("Failed to probe apktool version")
			resp["apktool"] = ""
			resp["error"] = err.Error()
		} else {
			resp["apktool"] = v
		}
	}
	c.JSON(http.StatusOK, resp)
}

// CreateBuild POST /api/builds
func (h *BuildHandler) CreateBuild(c *gin.Context) {
	var req domain.BuildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	build, err := h.builds.Submit(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.WithError(err).Error("Failed to submit build")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to queue build"})
		return
	}

	c.JSON(http.StatusAccepted, build)
}

// ListBuilds GET /api/builds?page=1&page_size=20&status=failed&search=关键词
func (h *BuildHandler) ListBuilds(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page <= 0 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	builds, total, err := h.builds.List(c.Request.Context(), repository.ListFilter{
		Page:     page,
		PageSize: pageSize,
		Status:   c.Query("status"),
		Search:   c.Query("search"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list builds"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"builds":      builds,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

// GetBuild GET /api/builds/:id
func (h *BuildHandler) GetBuild(c *gin.Context) {
	build, ok := h.loadBuild(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, build)
}

// ListInvocations GET /api/builds/:id/invocations
func (h *BuildHandler) ListInvocations(c *gin.Context) {
	invs, err := h.builds.Invocations(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invocations": invs})
}

// DownloadArtifact GET /api/builds/:id/artifact
func (h *BuildHandler) DownloadArtifact(c *gin.Context) {
	build, ok := h.loadBuild(c)
	if !ok {
		return
	}
	if build.Status != domain.BuildStatusSucceeded || build.ArtifactPath == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "build has no artifact", "status": build.Status})
		return
	}
	if _, err := os.Stat(build.ArtifactPath); err != nil {
		h.logger.WithError(err).WithField("build_id", build.ID).Warn("Artifact missing on disk")
		c.JSON(http.StatusGone, gin.H{"error": "artifact no longer exists"})
		return
	}

	c.FileAttachment(build.ArtifactPath, filepath.Base(build.ArtifactPath))
}

// RerunBuild POST /api/builds/:id/rerun
func (h *BuildHandler) RerunBuild(c *gin.Context) {
	build, err := h.builds.Rerun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrNotRerunnable) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, build)
}

// GetStats GET /api/stats
func (h *BuildHandler) GetStats(c *gin.Context) {
	counts, total, err := h.builds.GetStatusCounts(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get build stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":  total,
		"counts": counts,
	})
}

func (h *BuildHandler) loadBuild(c *gin.Context) (*domain.Build, bool) {
	build, err := h.builds.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeLookupError(c, err)
		return nil, false
	}
	return build, true
}

func (h *BuildHandler) writeLookupError(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "build not found"})
		return
	}
	h.logger.WithError(err).WithField("build_id", c.Param("id")).Error("Build lookup failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
