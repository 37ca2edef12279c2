package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/curbsense/curbsense/internal/detect"
	"github.com/curbsense/curbsense/internal/repository"
	"github.com/curbsense/curbsense/pkg/ws"
)

// Handler HTTP 处理器
type Handler struct {
	logger      *zap.Logger
	sessionRepo *repository.SessionRepository
	engine      *detect.Engine
	wsHub       *ws.Hub
	upgrader    websocket.Upgrader
}

// NewHandler 创建处理器
func NewHandler(
	logger *zap.Logger,
	sessionRepo *repository.SessionRepository,
	engine *detect.Engine,
	wsHub *ws.Hub,
) *Handler {
	return &Handler{
		logger:      logger,
		sessionRepo: sessionRepo,
		engine:      engine,
		wsHub:       wsHub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 开发环境允许所有来源
			},
		},
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 停车历史
		api.GET("/devices/:id/sessions", h.ListSessions)
		api.GET("/devices/:id/sessions/latest", h.GetLatestSession)
		api.GET("/devices/:id/sessions/open", h.GetOpenSession)
		api.GET("/sessions/:id", h.GetSession)

		// 检测状态
		api.GET("/devices/:id/state", h.GetDeviceState)
		api.GET("/states", h.ListStates)

		// 统计
		api.GET("/devices/:id/stats", h.GetDeviceStats)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}

// HandleWebSocket WebSocket 处理
func (h *Handler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	client := ws.NewClient(h.wsHub, conn)
	client.Register()

	// 启动读写协程
	go client.ReadPump()
	go client.WritePump()
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ws_clients": h.wsHub.ClientCount(),
	})
}
