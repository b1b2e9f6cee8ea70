package model

import (
	"time"
)

// SubmissionModel 任务交付记录，按任务只追加；验收时只读取最新一条
type SubmissionModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TaskId         string `json:"task_id" gorm:"index;not null;size:64"`
	WorkerAgentId  string `json:"worker_agent_id"`
	ResultRef      string `json:"result_ref" gorm:"type:text"`
	SubmissionHash string `json:"submission_hash" gorm:"not null;size:64"` // sha256(result)，不存原始内容
}

// TableName 自定义表名
func (SubmissionModel) TableName() string {
	return "submission"
}
