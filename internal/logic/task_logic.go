package logic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blues/tms/internal/ethereum"
	"github.com/blues/tms/internal/logger"
	"github.com/blues/tms/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EscrowCaller 托管合约写调用依赖
type EscrowCaller interface {
	EscrowInstructions(taskId common.Hash, payout decimal.Decimal, deadline time.Time) (*ethereum.EscrowInstructions, error)
	Release(ctx context.Context, taskId common.Hash, worker common.Address, resultHash common.Hash) (string, error)
	Refund(ctx context.Context, taskId common.Hash) (string, error)
}

// CreateTaskInput 创建任务入参
type CreateTaskInput struct {
	Title            string
	Spec             string
	PayloadRef       string
	PayoutUsdc       decimal.Decimal
	DeadlineAt       time.Time
	VerificationMode model.VerificationMode
	RequesterWallet  string
	EscrowTxHash     string // 前端已完成注资时携带
}

// TaskLogic 任务生命周期状态机
//
// 每次状态变更都是一条带前置状态条件的UPDATE，零行受影响即前置条件
// 已失效，调用方收到Conflict。接口层与链监听器作为两个并发写入者
// 仅通过该机制协调，不持有任何进程内锁。
type TaskLogic struct {
	db             *gorm.DB
	escrow         EscrowCaller
	events         *EventLogic
	receipts       *ReceiptLogic
	settlerAddress string
}

// NewTaskLogic 创建任务业务逻辑
func NewTaskLogic(db *gorm.DB, escrow EscrowCaller, receipts *ReceiptLogic, settlerAddress string) *TaskLogic {
	return &TaskLogic{
		db:             db,
		escrow:         escrow,
		events:         NewEventLogic(db),
		receipts:       receipts,
		settlerAddress: settlerAddress,
	}
}

// CreateTask 创建任务并返回注资指令。
// 已携带注资交易哈希的任务直接进入OPEN，否则为DRAFT等待注资确认。
func (t *TaskLogic) CreateTask(input *CreateTaskInput) (*model.TaskModel, *ethereum.EscrowInstructions, error) {
	if err := t.validateCreate(input); err != nil {
		return nil, nil, err
	}

	mode := input.VerificationMode
	if mode == "" {
		mode = model.VerificationModeRequester
	}

	id := uuid.NewString()
	bytes32 := ethereum.TaskIdBytes32(id)

	task := &model.TaskModel{
		Id:               id,
		TaskIdBytes32:    bytes32.Hex(),
		Title:            input.Title,
		Spec:             input.Spec,
		PayloadRef:       input.PayloadRef,
		PayoutUsdc:       input.PayoutUsdc,
		DeadlineAt:       input.DeadlineAt,
		VerificationMode: mode,
		RequesterWallet:  input.RequesterWallet,
		Status:           model.TaskStatusDraft,
	}
	if input.EscrowTxHash != "" {
		task.Status = model.TaskStatusOpen
		task.EscrowTxHash = &input.EscrowTxHash
	}

	if err := t.db.Create(task).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to create task: %w", err)
	}

	if err := t.events.Append(model.EventTaskCreated, &task.Id, nil, map[string]interface{}{
		"title":     task.Title,
		"payout":    task.PayoutUsdc.String(),
		"requester": task.RequesterWallet,
	}); err != nil {
		return nil, nil, err
	}

	instructions, err := t.escrow.EscrowInstructions(bytes32, input.PayoutUsdc, input.DeadlineAt)
	if err != nil {
		return nil, nil, err
	}

	return task, instructions, nil
}

// GetTask 获取任务
func (t *TaskLogic) GetTask(id string) (*model.TaskModel, error) {
	var task model.TaskModel
	if err := t.db.First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

// ListTasks 按状态和验收模式过滤任务，新建在前
func (t *TaskLogic) ListTasks(status, mode string, limit int) ([]model.TaskModel, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	query := t.db.Model(&model.TaskModel{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if mode != "" {
		query = query.Where("verification_mode = ?", mode)
	}

	var tasks []model.TaskModel
	if err := query.Order("created_at DESC").Limit(limit).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// ConfirmFunding 确认注资到账：DRAFT -> OPEN
func (t *TaskLogic) ConfirmFunding(id, txHash string) (*model.TaskModel, error) {
	ok, err := t.transition(id, model.TaskStatusDraft, map[string]interface{}{
		"status":         model.TaskStatusOpen,
		"escrow_tx_hash": txHash,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, t.conflictOrNotFound(id)
	}

	if err := t.events.Append(model.EventEscrowFunded, &id, nil, map[string]interface{}{
		"tx_hash": txHash,
	}); err != nil {
		return nil, err
	}

	return t.GetTask(id)
}

// Claim 认领任务：OPEN -> CLAIMED。两个工作者并发认领时，
// 条件更新保证恰好一个成功，另一个收到Conflict。
func (t *TaskLogic) Claim(id, workerWallet, workerAgentId string) (*model.TaskModel, error) {
	if workerWallet == "" {
		return nil, fmt.Errorf("%w: worker wallet required", ErrInvalidState)
	}

	ok, err := t.transition(id, model.TaskStatusOpen, map[string]interface{}{
		"status":          model.TaskStatusClaimed,
		"worker_wallet":   workerWallet,
		"worker_agent_id": workerAgentId,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, t.conflictOrNotFound(id)
	}

	if err := t.events.Append(model.EventTaskClaimed, &id, &workerAgentId, map[string]interface{}{
		"worker_wallet": workerWallet,
	}); err != nil {
		return nil, err
	}

	return t.GetTask(id)
}

// Submit 提交交付物：CLAIMED -> SUBMITTED。只存储内容哈希用于完整性校验。
func (t *TaskLogic) Submit(id, result, workerAgentId string) (string, *model.TaskModel, error) {
	task, err := t.GetTask(id)
	if err != nil {
		return "", nil, err
	}
	if task.Status != model.TaskStatusClaimed {
		return "", nil, fmt.Errorf("%w: task %s is %s", ErrConflict, id, task.Status)
	}
	if task.WorkerAgentId != nil && *task.WorkerAgentId != "" && *task.WorkerAgentId != workerAgentId {
		return "", nil, fmt.Errorf("%w: not the assigned worker", ErrForbidden)
	}

	sum := sha256.Sum256([]byte(result))
	submissionHash := hex.EncodeToString(sum[:])

	submission := &model.SubmissionModel{
		TaskId:         id,
		WorkerAgentId:  workerAgentId,
		ResultRef:      result,
		SubmissionHash: submissionHash,
	}
	if err := t.db.Create(submission).Error; err != nil {
		return "", nil, fmt.Errorf("failed to create submission: %w", err)
	}

	ok, err := t.transition(id, model.TaskStatusClaimed, map[string]interface{}{
		"status": model.TaskStatusSubmitted,
	})
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return "", nil, t.conflictOrNotFound(id)
	}

	if err := t.events.Append(model.EventTaskSubmitted, &id, &workerAgentId, map[string]interface{}{
		"submission_hash": submissionHash,
	}); err != nil {
		return "", nil, err
	}

	task, err = t.GetTask(id)
	return submissionHash, task, err
}

// Accept 验收通过：SUBMITTED -> ACCEPTED，生成凭证并发起链上release。
// release调用失败时任务停留在ACCEPTED等待重试，不会回退到SUBMITTED；
// PAID由监听器在确认TaskReleased事件后写入。
func (t *TaskLogic) Accept(ctx context.Context, id, requesterWallet string) (*model.TaskModel, *model.ReceiptModel, error) {
	task, err := t.GetTask(id)
	if err != nil {
		return nil, nil, err
	}
	if task.Status != model.TaskStatusSubmitted {
		return nil, nil, fmt.Errorf("%w: task %s is %s", ErrConflict, id, task.Status)
	}
	if !strings.EqualFold(task.RequesterWallet, requesterWallet) {
		return nil, nil, fmt.Errorf("%w: only the requester can accept", ErrForbidden)
	}
	if task.WorkerWallet == nil {
		return nil, nil, fmt.Errorf("%w: task has no assigned worker", ErrInvalidState)
	}

	var submission model.SubmissionModel
	if err := t.db.Where("task_id = ?", id).Order("id DESC").First(&submission).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("%w: task %s has no submission", ErrInvalidState, id)
		}
		return nil, nil, fmt.Errorf("failed to load submission: %w", err)
	}

	sum := sha256.Sum256([]byte(submission.SubmissionHash))
	resultHash := common.BytesToHash(sum[:])

	ok, err := t.transition(id, model.TaskStatusSubmitted, map[string]interface{}{
		"status":      model.TaskStatusAccepted,
		"result_hash": resultHash.Hex(),
	})
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, t.conflictOrNotFound(id)
	}

	if err := t.events.Append(model.EventTaskAccepted, &id, nil, map[string]interface{}{
		"result_hash": resultHash.Hex(),
	}); err != nil {
		return nil, nil, err
	}

	receipt, err := t.receipts.Create(task, model.ReceiptTypeAccept, resultHash.Hex(), "")
	if err != nil {
		return nil, nil, err
	}

	txHash, err := t.escrow.Release(ctx, common.HexToHash(task.TaskIdBytes32),
		common.HexToAddress(*task.WorkerWallet), resultHash)
	if err != nil {
		// 任务保持ACCEPTED，由重试任务或人工再次发起release
		task, _ = t.GetTask(id)
		return task, receipt, fmt.Errorf("%w: %v", ErrChainCallFailed, err)
	}

	if err := t.db.Model(&model.TaskModel{}).
		Where("id = ? AND status = ?", id, model.TaskStatusAccepted).
		Update("release_tx_hash", txHash).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to store release tx hash: %w", err)
	}

	task, err = t.GetTask(id)
	return task, receipt, err
}

// RetryRelease 对停留在ACCEPTED且release未上链的任务重新发起release
func (t *TaskLogic) RetryRelease(ctx context.Context, task *model.TaskModel) error {
	if task.Status != model.TaskStatusAccepted || task.ReleaseTxHash != nil {
		return fmt.Errorf("%w: task %s not pending release", ErrInvalidState, task.Id)
	}
	if task.WorkerWallet == nil || task.ResultHash == nil {
		return fmt.Errorf("%w: task %s missing worker or result hash", ErrInvalidState, task.Id)
	}

	txHash, err := t.escrow.Release(ctx, common.HexToHash(task.TaskIdBytes32),
		common.HexToAddress(*task.WorkerWallet), common.HexToHash(*task.ResultHash))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChainCallFailed, err)
	}

	if err := t.db.Model(&model.TaskModel{}).
		Where("id = ? AND status = ?", task.Id, model.TaskStatusAccepted).
		Update("release_tx_hash", txHash).Error; err != nil {
		return fmt.Errorf("failed to store release tx hash: %w", err)
	}

	return nil
}

// Reject 拒绝交付物：SUBMITTED -> REJECTED
func (t *TaskLogic) Reject(id, requesterWallet, reason string) (*model.TaskModel, error) {
	task, err := t.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task.Status != model.TaskStatusSubmitted {
		return nil, fmt.Errorf("%w: task %s is %s", ErrConflict, id, task.Status)
	}
	if !strings.EqualFold(task.RequesterWallet, requesterWallet) {
		return nil, fmt.Errorf("%w: only the requester can reject", ErrForbidden)
	}

	ok, err := t.transition(id, model.TaskStatusSubmitted, map[string]interface{}{
		"status": model.TaskStatusRejected,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, t.conflictOrNotFound(id)
	}

	if err := t.events.Append(model.EventTaskRejected, &id, nil, map[string]interface{}{
		"reason": reason,
	}); err != nil {
		return nil, err
	}

	return t.GetTask(id)
}

// Refund 退款：非终态且未进入支付流程的任务可退款。
// 需求方只能在截止时间之后发起；结算方不受截止时间限制。
func (t *TaskLogic) Refund(ctx context.Context, id, callerWallet string, settlerOverride bool) (*model.TaskModel, error) {
	task, err := t.GetTask(id)
	if err != nil {
		return nil, err
	}

	settler := settlerOverride ||
		(t.settlerAddress != "" && strings.EqualFold(callerWallet, t.settlerAddress))
	if !settler && !strings.EqualFold(callerWallet, task.RequesterWallet) {
		return nil, fmt.Errorf("%w: only the requester can request a refund", ErrForbidden)
	}

	switch task.Status {
	case model.TaskStatusPaid, model.TaskStatusRefunded:
		return nil, fmt.Errorf("%w: task %s is %s", ErrConflict, id, task.Status)
	case model.TaskStatusDraft:
		return nil, fmt.Errorf("%w: task %s has no escrowed funds", ErrInvalidState, id)
	case model.TaskStatusAccepted:
		return nil, fmt.Errorf("%w: task %s is pending release", ErrInvalidState, id)
	}

	if !settler && time.Now().Before(task.DeadlineAt) {
		return nil, fmt.Errorf("%w: deadline not reached", ErrInvalidState)
	}

	txHash, err := t.escrow.Refund(ctx, common.HexToHash(task.TaskIdBytes32))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChainCallFailed, err)
	}

	res := t.db.Model(&model.TaskModel{}).
		Where("id = ? AND status IN ? AND release_tx_hash IS NULL", id, model.RefundableStatuses()).
		Updates(map[string]interface{}{
			"status":         model.TaskStatusRefunded,
			"refund_tx_hash": txHash,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: task %s moved before refund applied", ErrConflict, id)
	}

	if err := t.events.Append(model.EventTaskRefunded, &id, nil, map[string]interface{}{
		"tx_hash": txHash,
	}); err != nil {
		return nil, err
	}

	if _, err := t.receipts.Create(task, model.ReceiptTypeRefund, "", txHash); err != nil {
		return nil, err
	}

	return t.GetTask(id)
}

// ApplyEscrowEvent 将一条链上事件经状态机落到任务记录。
// 以链上32字节标识定位任务；守卫不再成立时静默跳过，这不是错误，
// 说明用户操作已先行推进了任务状态。
func (t *TaskLogic) ApplyEscrowEvent(event ethereum.EscrowEvent) error {
	switch event.Kind {
	case ethereum.EventKindTaskCreated:
		return t.applyTaskCreated(event)
	case ethereum.EventKindTaskReleased:
		return t.applyTaskReleased(event)
	case ethereum.EventKindTaskRefunded:
		return t.applyTaskRefunded(event)
	default:
		return fmt.Errorf("unhandled escrow event kind: %s", event.Kind)
	}
}

// applyTaskCreated 注资确认：DRAFT -> OPEN
func (t *TaskLogic) applyTaskCreated(event ethereum.EscrowEvent) error {
	task, ok, err := t.findByBytes32(event.TaskId.Hex())
	if err != nil || !ok {
		return err
	}

	applied, err := t.transition(task.Id, model.TaskStatusDraft, map[string]interface{}{
		"status":         model.TaskStatusOpen,
		"escrow_tx_hash": event.TxHash.Hex(),
	})
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	return t.events.Append(model.EventEscrowFunded, &task.Id, nil, map[string]interface{}{
		"task_id_bytes32": event.TaskId.Hex(),
		"requester":       event.Requester.Hex(),
		"payout":          event.Payout.String(),
		"deadline":        event.Deadline,
		"tx_hash":         event.TxHash.Hex(),
	})
}

// applyTaskReleased 支付确认：任何非终态 -> PAID
func (t *TaskLogic) applyTaskReleased(event ethereum.EscrowEvent) error {
	task, ok, err := t.findByBytes32(event.TaskId.Hex())
	if err != nil || !ok {
		return err
	}

	res := t.db.Model(&model.TaskModel{}).
		Where("id = ? AND status NOT IN ? AND refund_tx_hash IS NULL",
			task.Id, []model.TaskStatus{model.TaskStatusPaid, model.TaskStatusRefunded}).
		Updates(map[string]interface{}{
			"status":          model.TaskStatusPaid,
			"release_tx_hash": event.TxHash.Hex(),
			"result_hash":     event.ResultHash.Hex(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to apply TaskReleased: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	return t.events.Append(model.EventTaskPaid, &task.Id, task.WorkerAgentId, map[string]interface{}{
		"worker":      event.Worker.Hex(),
		"payout":      event.Payout.String(),
		"result_hash": event.ResultHash.Hex(),
		"tx_hash":     event.TxHash.Hex(),
	})
}

// applyTaskRefunded 退款确认：任何非终态 -> REFUNDED
func (t *TaskLogic) applyTaskRefunded(event ethereum.EscrowEvent) error {
	task, ok, err := t.findByBytes32(event.TaskId.Hex())
	if err != nil || !ok {
		return err
	}

	res := t.db.Model(&model.TaskModel{}).
		Where("id = ? AND status NOT IN ? AND release_tx_hash IS NULL",
			task.Id, []model.TaskStatus{model.TaskStatusPaid, model.TaskStatusRefunded}).
		Updates(map[string]interface{}{
			"status":         model.TaskStatusRefunded,
			"refund_tx_hash": event.TxHash.Hex(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to apply TaskRefunded: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	if err := t.events.Append(model.EventTaskRefunded, &task.Id, nil, map[string]interface{}{
		"requester": event.Requester.Hex(),
		"payout":    event.Payout.String(),
		"tx_hash":   event.TxHash.Hex(),
	}); err != nil {
		return err
	}

	_, err = t.receipts.Create(task, model.ReceiptTypeRefund, "", event.TxHash.Hex())
	return err
}

// transition 执行一次条件状态变更，返回是否有行受影响
func (t *TaskLogic) transition(id string, from model.TaskStatus, updates map[string]interface{}) (bool, error) {
	res := t.db.Model(&model.TaskModel{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update task: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// conflictOrNotFound 区分任务不存在和前置状态失效
func (t *TaskLogic) conflictOrNotFound(id string) error {
	var count int64
	if err := t.db.Model(&model.TaskModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check task: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fmt.Errorf("%w: %s", ErrConflict, id)
}

// findByBytes32 按链上标识查找任务；链上可能出现本服务不认识的任务
func (t *TaskLogic) findByBytes32(bytes32 string) (*model.TaskModel, bool, error) {
	var task model.TaskModel
	if err := t.db.First(&task, "task_id_bytes32 = ?", bytes32).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn("No task found for on-chain id %s, skipping", bytes32)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to find task by bytes32: %w", err)
	}
	return &task, true, nil
}

// validateCreate 校验创建入参
func (t *TaskLogic) validateCreate(input *CreateTaskInput) error {
	if input.Title == "" {
		return fmt.Errorf("%w: title required", ErrInvalidState)
	}
	if input.RequesterWallet == "" {
		return fmt.Errorf("%w: requester wallet required", ErrInvalidState)
	}
	if !input.PayoutUsdc.IsPositive() {
		return fmt.Errorf("%w: payout must be positive", ErrInvalidState)
	}
	if !input.DeadlineAt.After(time.Now()) {
		return fmt.Errorf("%w: deadline must be in the future", ErrInvalidState)
	}
	switch input.VerificationMode {
	case "", model.VerificationModeRequester, model.VerificationModeAuto, model.VerificationModeValidators:
	default:
		return fmt.Errorf("%w: unknown verification mode %s", ErrInvalidState, input.VerificationMode)
	}
	return nil
}

// Events 事件流逻辑访问器，供handler复用同一实例
func (t *TaskLogic) Events() *EventLogic {
	return t.events
}

// Receipts 凭证逻辑访问器
func (t *TaskLogic) Receipts() *ReceiptLogic {
	return t.receipts
}
