package main

import (
	"time"

	"github.com/blues/tms/internal/config"
	"github.com/blues/tms/internal/database"
	"github.com/blues/tms/internal/ethereum"
	"github.com/blues/tms/internal/logger"
	"github.com/blues/tms/internal/logic"
	"github.com/blues/tms/internal/router"
	"github.com/blues/tms/internal/task"
	"github.com/blues/tms/internal/watcher"
	"github.com/gin-gonic/gin"
)

func main() {
	// 加载配置
	cfg := config.Load()

	// 初始化日志
	logger.Setup(cfg.Log)
	defer logger.Sync()

	// 初始化数据库
	db, err := database.Init(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database: %v", err)
	}

	// 初始化以太坊客户端
	ethClient, err := ethereum.Init(cfg.Chain)
	if err != nil {
		logger.Fatal("Failed to initialize ethereum client: %v", err)
	}
	defer ethClient.Close()

	// 组装业务逻辑
	receiptLogic := logic.NewReceiptLogic(db, ethClient.SettlerKey())
	taskLogic := logic.NewTaskLogic(db, ethClient, receiptLogic, ethClient.SettlerAddress())

	// 启动链上事件监听，RPC不可用时降级运行，仅提供HTTP服务
	chainWatcher := watcher.NewChainWatcher(
		db,
		ethClient,
		taskLogic,
		time.Duration(cfg.Chain.PollInterval)*time.Second,
		cfg.Chain.BatchSize,
		ethClient.Confirmations(),
	)
	if err := chainWatcher.Start(); err != nil {
		logger.Warn("Chain watcher not started, running in degraded mode: %v", err)
	} else {
		defer chainWatcher.Stop()
	}

	// 启动定时任务
	jobManager := task.Start(db, taskLogic, cfg)
	defer jobManager.Stop()

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化路由
	r := router.Setup(taskLogic)

	// 启动服务器
	logger.Info("Server starting on port %s", cfg.Server.Port)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}
