package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/blues/tms/internal/logic"
	"github.com/blues/tms/internal/model"
	"github.com/gin-gonic/gin"
)

// TaskHandler 任务接口
type TaskHandler struct {
	taskLogic *logic.TaskLogic
}

// NewTaskHandler 创建任务接口
func NewTaskHandler(taskLogic *logic.TaskLogic) *TaskHandler {
	return &TaskHandler{taskLogic: taskLogic}
}

// CreateTask 创建任务
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	deadline, err := time.Parse(time.RFC3339, req.DeadlineAt)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid deadline_at, expected ISO-8601")
		return
	}

	task, instructions, err := h.taskLogic.CreateTask(&logic.CreateTaskInput{
		Title:            req.Title,
		Spec:             req.Spec,
		PayloadRef:       req.Payload,
		PayoutUsdc:       req.PayoutUsdc,
		DeadlineAt:       deadline,
		VerificationMode: model.VerificationMode(req.VerificationMode),
		RequesterWallet:  req.RequesterWallet,
		EscrowTxHash:     req.EscrowTxHash,
	})
	if err != nil {
		FailFromError(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateTaskResponse{
		TaskId:             task.Id,
		TaskIdBytes32:      task.TaskIdBytes32,
		EscrowInstructions: instructions,
		Task:               task,
	})
}

// GetTasks 获取任务列表
func (h *TaskHandler) GetTasks(c *gin.Context) {
	status := c.Query("status")
	mode := c.Query("mode")

	tasks, err := h.taskLogic.ListTasks(status, mode, 50)
	if err != nil {
		FailFromError(c, err)
		return
	}

	c.JSON(http.StatusOK, tasks)
}

// GetTask 获取任务详情
func (h *TaskHandler) GetTask(c *gin.Context) {
	task, err := h.taskLogic.GetTask(c.Param("id"))
	if err != nil {
		FailFromError(c, err)
		return
	}

	c.JSON(http.StatusOK, task)
}

// GetTaskPayload 获取任务载荷引用
func (h *TaskHandler) GetTaskPayload(c *gin.Context) {
	task, err := h.taskLogic.GetTask(c.Param("id"))
	if err != nil {
		FailFromError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payload": task.PayloadRef})
}

// GetTaskEvents 获取任务事件历史
func (h *TaskHandler) GetTaskEvents(c *gin.Context) {
	if _, err := h.taskLogic.GetTask(c.Param("id")); err != nil {
		FailFromError(c, err)
		return
	}

	events, err := h.taskLogic.Events().GetTaskEvents(c.Param("id"))
	if err != nil {
		FailFromError(c, err)
		return
	}

	c.JSON(http.StatusOK, events)
}

// GetTaskReceipt 获取任务结算凭证
func (h *TaskHandler) GetTaskReceipt(c *gin.Context) {
	receipt, err := h.taskLogic.Receipts().Get(c.Param("id"))
	if err != nil {
		FailFromError(c, err)
		return
	}

	c.JSON(http.StatusOK, receipt)
}

// ConfirmFunding 确认注资
func (h *TaskHandler) ConfirmFunding(c *gin.Context) {
	var req ConfirmFundingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	task, err := h.taskLogic.ConfirmFunding(c.Param("id"), req.TxHash)
	if err != nil {
		FailFromError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "funding confirmed", task)
}

// ClaimTask 认领任务
func (h *TaskHandler) ClaimTask(c *gin.Context) {
	var req ClaimTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	task, err := h.taskLogic.Claim(c.Param("id"), req.WorkerWallet, req.WorkerAgentId)
	if err != nil {
		// 认领竞争失败对用户呈现为"任务已不可认领"
		if errors.Is(err, logic.ErrConflict) {
			ErrorResponse(c, http.StatusConflict, "task no longer available")
			return
		}
		FailFromError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "task claimed", task)
}

// SubmitResult 提交交付物
func (h *TaskHandler) SubmitResult(c *gin.Context) {
	var req SubmitResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	hash, task, err := h.taskLogic.Submit(c.Param("id"), req.Result, req.WorkerAgentId)
	if err != nil {
		FailFromError(c, err)
		return
	}

	c.JSON(http.StatusOK, SubmitResultResponse{
		SubmissionHash: hash,
		Task:           task,
	})
}

// AcceptResult 验收通过并发起链上支付
func (h *TaskHandler) AcceptResult(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	task, receipt, err := h.taskLogic.Accept(c.Request.Context(), c.Param("id"), req.RequesterWallet)
	if err != nil {
		FailFromError(c, err)
		return
	}

	c.JSON(http.StatusOK, AcceptResponse{
		Task:    task,
		Receipt: receipt,
	})
}

// RejectResult 拒绝交付物
func (h *TaskHandler) RejectResult(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	task, err := h.taskLogic.Reject(c.Param("id"), req.RequesterWallet, req.Reason)
	if err != nil {
		FailFromError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "result rejected", task)
}

// RefundTask 退款
func (h *TaskHandler) RefundTask(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	task, err := h.taskLogic.Refund(c.Request.Context(), c.Param("id"), req.RequesterWallet, false)
	if err != nil {
		FailFromError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "refund initiated", task)
}
