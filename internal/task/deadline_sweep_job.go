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

// DeadlineSweepJob 超时任务清退
// 截止时间过后仍未进入终态的任务由结算方自动退款，
// 宽限期内不处理，给提交中的任务留出验收窗口
type DeadlineSweepJob struct {
	db        *gorm.DB
	config    *config.Config
	taskLogic *logic.TaskLogic
}

// NewDeadlineSweepJob 创建超时清退任务
func NewDeadlineSweepJob(db *gorm.DB, cfg *config.Config, taskLogic *logic.TaskLogic) *DeadlineSweepJob {
	return &DeadlineSweepJob{
		db:        db,
		config:    cfg,
		taskLogic: taskLogic,
	}
}

// GetName 获取任务名称
func (j *DeadlineSweepJob) GetName() string {
	return "deadline_sweep"
}

// GetSchedule 获取任务调度配置
func (j *DeadlineSweepJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(time.Duration(j.config.Task.Interval) * time.Second)
}

// Execute 执行任务
func (j *DeadlineSweepJob) Execute() {
	grace := time.Duration(j.config.Task.SweepGrace) * time.Second
	cutoff := time.Now().Add(-grace)

	var tasks []model.TaskModel
	err := j.db.Where("status IN ? AND deadline_at < ? AND release_tx_hash IS NULL",
		model.RefundableStatuses(), cutoff).
		Limit(100).
		Find(&tasks).Error
	if err != nil {
		logger.Error("Deadline sweep job query failed: %v", err)
		return
	}

	if len(tasks) == 0 {
		return
	}

	logger.Info("Deadline sweep job found %d expired tasks", len(tasks))

	pool, err := ants.NewPool(j.config.Task.WorkerCount)
	if err != nil {
		logger.Error("Deadline sweep job create pool failed: %v", err)
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
			if _, err := j.taskLogic.Refund(ctx, t.Id, "", true); err != nil {
				logger.Warn("Deadline sweep refund failed, task_id: %s, error: %v", t.Id, err)
			} else {
				logger.Info("Deadline sweep refunded expired task, task_id: %s", t.Id)
			}
		})
		if submitErr != nil {
			wg.Done()
			logger.Error("Deadline sweep job submit failed: %v", submitErr)
		}
	}
	wg.Wait()
}
