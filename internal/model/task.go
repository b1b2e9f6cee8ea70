package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusDraft     TaskStatus = "DRAFT"     // 已创建，托管资金未到账
	TaskStatusOpen      TaskStatus = "OPEN"      // 资金已托管，可认领
	TaskStatusClaimed   TaskStatus = "CLAIMED"   // 已被工作者认领
	TaskStatusSubmitted TaskStatus = "SUBMITTED" // 已提交交付物，待验收
	TaskStatusAccepted  TaskStatus = "ACCEPTED"  // 已验收，等待链上release确认
	TaskStatusRejected  TaskStatus = "REJECTED"  // 已拒绝
	TaskStatusPaid      TaskStatus = "PAID"      // 已支付（终态）
	TaskStatusRefunded  TaskStatus = "REFUNDED"  // 已退款（终态）
)

// IsTerminal 是否为终态
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusPaid || s == TaskStatusRefunded
}

// RefundableStatuses 可退款的状态集合（所有非终态且未进入支付流程的状态）
func RefundableStatuses() []TaskStatus {
	return []TaskStatus{TaskStatusOpen, TaskStatusClaimed, TaskStatusSubmitted, TaskStatusRejected}
}

// VerificationMode 验收模式
type VerificationMode string

const (
	VerificationModeRequester  VerificationMode = "REQUESTER"  // 由需求方人工验收
	VerificationModeAuto       VerificationMode = "AUTO"       // 自动验收
	VerificationModeValidators VerificationMode = "VALIDATORS" // 由验证者集合验收
)

// TaskModel 任务模型
//
// 状态只通过带前置状态条件的UPDATE变更，两类写入者（接口层和链监听器）
// 依靠该条件更新实现无锁并发控制。ReleaseTxHash与RefundTxHash至多一个非空。
type TaskModel struct {
	Id        string    `json:"id" gorm:"primaryKey;size:64"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 链上标识：keccak256(内部id)，稳定且不复用
	TaskIdBytes32 string `json:"task_id_bytes32" gorm:"uniqueIndex;size:66;not null"`

	// 基本信息
	Title      string `json:"title" gorm:"not null"`
	Spec       string `json:"spec" gorm:"type:text"`
	PayloadRef string `json:"payload_ref" gorm:"type:text"`

	// 结算信息
	PayoutUsdc       decimal.Decimal  `json:"payout_usdc" gorm:"type:numeric(24,6);not null"`
	DeadlineAt       time.Time        `json:"deadline_at" gorm:"not null"`
	VerificationMode VerificationMode `json:"verification_mode" gorm:"default:'REQUESTER'"`

	// 参与方
	RequesterWallet string  `json:"requester_wallet" gorm:"not null"`
	WorkerWallet    *string `json:"worker_wallet"`
	WorkerAgentId   *string `json:"worker_agent_id"`

	// 状态
	Status TaskStatus `json:"status" gorm:"default:'DRAFT';index"`

	// 链上凭证
	ResultHash    *string `json:"result_hash"`
	EscrowTxHash  *string `json:"escrow_tx_hash"`
	ReleaseTxHash *string `json:"release_tx_hash"`
	RefundTxHash  *string `json:"refund_tx_hash"`
}

// TableName 自定义表名
func (TaskModel) TableName() string {
	return "task"
}
