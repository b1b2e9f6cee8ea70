package logic

import (
	"encoding/json"
	"fmt"

	"github.com/blues/tms/internal/model"
	"gorm.io/gorm"
)

// EventLogic 业务事件流逻辑
type EventLogic struct {
	db *gorm.DB
}

// NewEventLogic 创建业务事件流逻辑
func NewEventLogic(db *gorm.DB) *EventLogic {
	return &EventLogic{db: db}
}

// Append 追加一条业务事件。序号由自增主键保证严格递增且不复用。
func (e *EventLogic) Append(eventType string, taskId, actorAgentId *string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	event := &model.EventModel{
		EventType:    eventType,
		TaskId:       taskId,
		ActorAgentId: actorAgentId,
		Data:         string(payload),
	}

	if err := e.db.Create(event).Error; err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// GetTaskEvents 按序号升序返回指定任务的事件
func (e *EventLogic) GetTaskEvents(taskId string) ([]model.EventModel, error) {
	var events []model.EventModel
	if err := e.db.Where("task_id = ?", taskId).
		Order("id ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to get task events: %w", err)
	}
	return events, nil
}

// GetEventsAfter 游标式读取全局事件流，返回序号大于afterId的事件
func (e *EventLogic) GetEventsAfter(afterId int64, limit int) ([]model.EventModel, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var events []model.EventModel
	if err := e.db.Where("id > ?", afterId).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to get events after %d: %w", afterId, err)
	}
	return events, nil
}

// CountTaskEventsByType 统计任务某一类型事件的数量
func (e *EventLogic) CountTaskEventsByType(taskId, eventType string) (int64, error) {
	var count int64
	if err := e.db.Model(&model.EventModel{}).
		Where("task_id = ? AND event_type = ?", taskId, eventType).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}
