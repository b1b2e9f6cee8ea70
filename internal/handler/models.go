package handler

import (
	"github.com/blues/tms/internal/ethereum"
	"github.com/blues/tms/internal/model"
	"github.com/shopspring/decimal"
)

// 通用响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// CreateTaskRequest 创建任务请求
type CreateTaskRequest struct {
	Title            string          `json:"title" binding:"required"`
	Spec             string          `json:"spec"`
	Payload          string          `json:"payload"`
	PayoutUsdc       decimal.Decimal `json:"payout_usdc" binding:"required"`
	DeadlineAt       string          `json:"deadline_at" binding:"required"` // ISO-8601
	VerificationMode string          `json:"verification_mode"`
	RequesterWallet  string          `json:"requester_wallet" binding:"required"`
	EscrowTxHash     string          `json:"escrow_tx_hash"`
}

// CreateTaskResponse 创建任务响应
type CreateTaskResponse struct {
	TaskId             string                       `json:"task_id"`
	TaskIdBytes32      string                       `json:"task_id_bytes32"`
	EscrowInstructions *ethereum.EscrowInstructions `json:"escrow_instructions"`
	Task               *model.TaskModel             `json:"task"`
}

// ConfirmFundingRequest 注资确认请求
type ConfirmFundingRequest struct {
	TxHash string `json:"tx_hash" binding:"required"`
}

// ClaimTaskRequest 认领任务请求
type ClaimTaskRequest struct {
	WorkerWallet  string `json:"worker_wallet" binding:"required"`
	WorkerAgentId string `json:"worker_agent_id"`
}

// SubmitResultRequest 提交交付物请求
type SubmitResultRequest struct {
	Result        string `json:"result" binding:"required"`
	WorkerAgentId string `json:"worker_agent_id"`
}

// SubmitResultResponse 提交交付物响应
type SubmitResultResponse struct {
	SubmissionHash string           `json:"submission_hash"`
	Task           *model.TaskModel `json:"task"`
}

// ReviewRequest 验收/拒绝/退款请求
type ReviewRequest struct {
	RequesterWallet string `json:"requester_wallet" binding:"required"`
	Reason          string `json:"reason"`
}

// AcceptResponse 验收响应
type AcceptResponse struct {
	Task    *model.TaskModel    `json:"task"`
	Receipt *model.ReceiptModel `json:"receipt"`
}
