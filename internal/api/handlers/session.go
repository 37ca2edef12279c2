package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/curbsense/curbsense/internal/detect"
)

// parseSince 解析可选的 since 查询参数, 非法格式时写出 400 并返回 false
func parseSince(c *gin.Context) (time.Time, bool) {
	raw := c.Query("since")
	if raw == "" {
		return time.Time{}, true
	}
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid since timestamp, expected RFC3339"})
		return time.Time{}, false
	}
	return since, true
}

// ListSessions 获取设备停车历史
// GET /api/devices/:id/sessions?since=RFC3339&page=&per_page=
func (h *Handler) ListSessions(c *gin.Context) {
	deviceID := c.Param("id")

	since, ok := parseSince(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	offset := (page - 1) * perPage

	sessions, err := h.sessionRepo.List(c.Request.Context(), deviceID, since, perPage, offset)
	if err != nil {
		h.logger.Error("Failed to list sessions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sessions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": sessions,
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
		},
	})
}

// GetLatestSession 获取设备最近一次停车 (进行中优先)
// GET /api/devices/:id/sessions/latest
func (h *Handler) GetLatestSession(c *gin.Context) {
	deviceID := c.Param("id")

	session, err := h.sessionRepo.Latest(c.Request.Context(), deviceID)
	if err != nil {
		if errors.Is(err, detect.ErrNoOpenSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No sessions for device"})
			return
		}
		h.logger.Error("Failed to get latest session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get latest session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session, "ongoing": session.Open()})
}

// GetOpenSession 获取设备当前进行中的停车
// GET /api/devices/:id/sessions/open
func (h *Handler) GetOpenSession(c *gin.Context) {
	deviceID := c.Param("id")

	session, err := h.sessionRepo.GetOpen(c.Request.Context(), deviceID)
	if err != nil {
		if errors.Is(err, detect.ErrNoOpenSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Device is not parked"})
			return
		}
		h.logger.Error("Failed to get open session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get open session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

// GetSession 获取停车详情
// GET /api/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session ID"})
		return
	}

	session, err := h.sessionRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": session})
}

// GetDeviceState 获取设备当前检测状态
// GET /api/devices/:id/state
func (h *Handler) GetDeviceState(c *gin.Context) {
	deviceID := c.Param("id")

	state, ok := h.engine.CurrentState(deviceID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device state not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"device_id": deviceID,
		"state":     state,
	}})
}

// ListStates 获取所有设备的检测状态
// GET /api/states
func (h *Handler) ListStates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.engine.AllStates()})
}

// GetDeviceStats 获取设备停车统计
// GET /api/devices/:id/stats?since=RFC3339
func (h *Handler) GetDeviceStats(c *gin.Context) {
	deviceID := c.Param("id")

	since, ok := parseSince(c)
	if !ok {
		return
	}

	stats, err := h.sessionRepo.GetStats(c.Request.Context(), deviceID, since)
	if err != nil {
		h.logger.Error("Failed to get stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}
