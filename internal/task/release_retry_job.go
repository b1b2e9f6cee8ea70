package task

import (
	"context"
	"sync"
	"time"

	"github.com/blues/tms/internal/config"
	"github.com/blues/tms/internal/logger"
	"github.com/blues/tms/internal/logic"
	"github.com/blues/tms/internal/model"
	"github.com/go-co-op/gocron/v2"
	"github.com/panjf2000/ants/v2"
	"gorm.io/gorm"
)

// ReleaseRetryJob 重试未完成的放款交易
// 验收成功但链上放款失败的任务会停留在 ACCEPTED 且无 release_tx_hash，
// 由本任务周期性补发
type ReleaseRetryJob struct {
	db        *gorm.DB
	config    *config.Config
	taskLogic *logic.TaskLogic
}

// NewReleaseRetryJob 创建放款重试任务
func NewReleaseRetryJob(db *gorm.DB, cfg *config.Config, taskLogic *logic.TaskLogic) *ReleaseRetryJob {
	return &ReleaseRetryJob{
		db:        db,
		config:    cfg,
		taskLogic: taskLogic,
	}
}

// GetName 获取任务名称
func (j *ReleaseRetryJob) GetName() string {
	return "release_retry"
}

// GetSchedule 获取任务调度配置
func (j *ReleaseRetryJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(time.Duration(j.config.Task.Interval) * time.Second)
}

// Execute 执行任务
func (j *ReleaseRetryJob) Execute() {
	var tasks []model.TaskModel
	err := j.db.Where("status = ? AND release_tx_hash IS NULL", model.TaskStatusAccepted).
		Limit(100).
		Find(&tasks).Error
	if err != nil {
		logger.Error("Release retry job query failed: %v", err)
		return
	}

	if len(tasks) == 0 {
		return
	}

	logger.Info("Release retry job found %d pending tasks", len(tasks))

	pool, err := ants.NewPool(j.config.Task.WorkerCount)
	if err != nil {
		logger.Error("Release retry job create pool failed: %v", err)
		return
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := range tasks {
		t := tasks[i]
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := j.taskLogic.RetryRelease(ctx, &t); err != nil {
				logger.Warn("Release retry failed, task_id: %s, error: %v", t.Id, err)
			} else {
				logger.Info("Release retry succeeded, task_id: %s", t.Id)
			}
		})
		if submitErr != nil {
			wg.Done()
			logger.Error("Release retry job submit failed: %v", submitErr)
		}
	}
	wg.Wait()
}
