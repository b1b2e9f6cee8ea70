package model

import (
	"time"
)

// 业务事件类型
const (
	EventTaskCreated   = "task.created"
	EventTaskClaimed   = "task.claimed"
	EventTaskSubmitted = "task.submitted"
	EventTaskAccepted  = "task.accepted"
	EventTaskRejected  = "task.rejected"
	EventTaskPaid      = "task.paid"
	EventTaskRefunded  = "task.refunded"
	EventEscrowFunded  = "escrow.funded"
)

// EventModel 业务事件流记录
//
// 只追加，自增主键即单调递增序号，消费方按"序号大于N"游标读取。
type EventModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	EventType    string  `json:"event_type" gorm:"not null;index"`
	TaskId       *string `json:"task_id" gorm:"index;size:64"`
	ActorAgentId *string `json:"actor_agent_id"`
	Data         string  `json:"data" gorm:"type:text"`
}

// TableName 自定义表名
func (EventModel) TableName() string {
	return "event_stream"
}
