package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/curbsense/curbsense/internal/api/handlers"
	"github.com/curbsense/curbsense/internal/config"
	"github.com/curbsense/curbsense/internal/detect"
	"github.com/curbsense/curbsense/internal/location"
	"github.com/curbsense/curbsense/internal/notify"
	"github.com/curbsense/curbsense/internal/recovery"
	"github.com/curbsense/curbsense/internal/repository"
	"github.com/curbsense/curbsense/internal/rules"
	"github.com/curbsense/curbsense/internal/signal"
	"github.com/curbsense/curbsense/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting Curbsense", zap.String("port", cfg.ServerPort))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	defer db.Close()

	// 执行数据库迁移
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	// 创建 Repository
	sessionRepo := repository.NewSessionRepository(db)
	stateRepo := repository.NewStateRepository(db)

	// 启动恢复: 清理上次运行遗留的孤儿停车记录
	recoverySvc := recovery.NewService(sessionRepo, cfg.OrphanStaleness, logger)
	if _, err := recoverySvc.Run(ctx); err != nil {
		logger.Error("Startup recovery failed", zap.Error(err))
	}

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	go wsHub.Run()

	// 停车规则客户端 (未配置时降级为无规则通知)
	rulesClient := rules.NewClient(cfg.RulesAPIHost, cfg.RulesAPITimeout, logger)
	if !rulesClient.IsConfigured() {
		logger.Warn("Rules API not configured, notifications will carry no rules")
	}

	// 事件下游: 规则查询 + WebSocket 推送
	notifier := notify.NewNotifier(rulesClient, wsHub, logger)

	// 两阶段定位
	locator := location.NewManager(logger,
		cfg.FastFixTimeout, cfg.RefinedFixTimeout,
		cfg.RefinedAccuracyM, cfg.MotionSampleTTL)

	// 检测引擎
	engine := detect.NewEngine(cfg, logger, sessionRepo, stateRepo, locator, notifier)
	defer engine.Stop()

	// 初始化推送数据
	wsHub.SetInitDataProvider(func() *ws.InitData {
		openCtx, openCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer openCancel()
		open, err := sessionRepo.ListOpenOlderThan(openCtx, time.Now())
		if err != nil {
			logger.Error("Failed to load open sessions for init data", zap.Error(err))
		}
		return &ws.InitData{
			States:       engine.AllStates(),
			OpenSessions: open,
		}
	})

	// 信号源: 手机端 MQTT 桥, 或本地模拟器
	var source signal.Source
	switch cfg.SignalSource {
	case "sim":
		source = signal.NewSimSource("sim-device", engine, logger)
	default:
		source = signal.NewMQTTSource(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopicBase, engine, logger)
	}
	if err := source.Start(); err != nil {
		logger.Fatal("Failed to start signal source", zap.Error(err))
	}
	defer source.Stop()

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(logger, sessionRepo, engine, wsHub)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	ossignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
