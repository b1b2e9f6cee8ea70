package model

import (
	"time"
)

// ReceiptType 结算凭证类型
type ReceiptType string

const (
	ReceiptTypeAccept ReceiptType = "REQUESTER_ACCEPT" // 验收通过
	ReceiptTypeRefund ReceiptType = "REFUND"           // 退款
)

// ReceiptModel 结算凭证
//
// 每个任务至多一条，对应唯一的终局结果。创建后不可变，
// 签名覆盖Payload的规范序列化，用于脱离链独立证明结算授权。
type ReceiptModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	TaskId    string      `json:"task_id" gorm:"uniqueIndex;not null;size:64"`
	Type      ReceiptType `json:"type" gorm:"not null"`
	Payload   string      `json:"payload" gorm:"type:text;not null"`
	Signature string      `json:"signature" gorm:"not null"`
}

// TableName 自定义表名
func (ReceiptModel) TableName() string {
	return "receipt"
}
