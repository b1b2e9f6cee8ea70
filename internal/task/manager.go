package task

import (
	"github.com/blues/tms/internal/config"
	"github.com/blues/tms/internal/logger"
	"github.com/blues/tms/internal/logic"
	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// Manager 定时任务管理器
type Manager struct {
	scheduler gocron.Scheduler
	db        *gorm.DB
	taskLogic *logic.TaskLogic
	config    *config.Config
}

// NewManager 创建定时任务管理器
func NewManager(db *gorm.DB, taskLogic *logic.TaskLogic, cfg *config.Config) *Manager {
	s, err := gocron.NewScheduler()
	if err != nil {
		logger.Fatal("Failed to create scheduler: %v", err)
	}

	return &Manager{
		scheduler: s,
		db:        db,
		taskLogic: taskLogic,
		config:    cfg,
	}
}

// Start 启动定时任务管理器
func Start(db *gorm.DB, taskLogic *logic.TaskLogic, cfg *config.Config) *Manager {
	manager := NewManager(db, taskLogic, cfg)

	manager.RegisterJobs()
	manager.scheduler.Start()

	logger.Info("Task job manager started successfully")
	return manager
}

// RegisterJobs 注册所有任务
func (m *Manager) RegisterJobs() {
	m.registerJob(NewReleaseRetryJob(m.db, m.config, m.taskLogic))

	if m.config.Task.AutoRefund {
		m.registerJob(NewDeadlineSweepJob(m.db, m.config, m.taskLogic))
	}
}

// Job 定时任务接口
type Job interface {
	GetName() string
	GetSchedule() gocron.JobDefinition
	Execute()
}

// registerJob 注册单个任务，单例模式避免同一任务并发执行
func (m *Manager) registerJob(job Job) {
	_, err := m.scheduler.NewJob(
		job.GetSchedule(),
		gocron.NewTask(job.Execute),
		gocron.WithName(job.GetName()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		logger.Error("Failed to register job %s: %v", job.GetName(), err)
	}
}

// Stop 停止定时任务管理器
func (m *Manager) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		logger.Error("Failed to shutdown scheduler: %v", err)
	}
	logger.Info("Task job manager stopped")
}
