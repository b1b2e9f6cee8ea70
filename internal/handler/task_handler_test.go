package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/blues/tms/internal/database"
	"github.com/blues/tms/internal/ethereum"
	"github.com/blues/tms/internal/logic"
	"github.com/blues/tms/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// escrowStub 接口层测试不关心链上调用细节
type escrowStub struct{}

func (escrowStub) EscrowInstructions(taskId common.Hash, payout decimal.Decimal, deadline time.Time) (*ethereum.EscrowInstructions, error) {
	return &ethereum.EscrowInstructions{
		TokenAddress:    "0x2222222222222222222222222222222222222222",
		EscrowAddress:   "0x3333333333333333333333333333333333333333",
		PayoutFormatted: payout.String(),
		Deadline:        deadline.Unix(),
		CallData:        "0xdeadbeef",
	}, nil
}

func (escrowStub) Release(ctx context.Context, taskId common.Hash, worker common.Address, resultHash common.Hash) (string, error) {
	return "0xreleasetx", nil
}

func (escrowStub) Refund(ctx context.Context, taskId common.Hash) (string, error) {
	return "0xrefundtx", nil
}

func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	taskLogic := logic.NewTaskLogic(db, escrowStub{}, logic.NewReceiptLogic(db, key),
		crypto.PubkeyToAddress(key.PublicKey).Hex())

	r := gin.New()
	taskHandler := NewTaskHandler(taskLogic)
	tasks := r.Group("/api/v1/tasks")
	{
		tasks.POST("", taskHandler.CreateTask)
		tasks.GET("", taskHandler.GetTasks)
		tasks.GET("/:id", taskHandler.GetTask)
		tasks.GET("/:id/events", taskHandler.GetTaskEvents)
		tasks.GET("/:id/receipt", taskHandler.GetTaskReceipt)
		tasks.POST("/:id/confirm-funding", taskHandler.ConfirmFunding)
		tasks.POST("/:id/claim", taskHandler.ClaimTask)
		tasks.POST("/:id/submit", taskHandler.SubmitResult)
		tasks.POST("/:id/accept", taskHandler.AcceptResult)
		tasks.POST("/:id/reject", taskHandler.RejectResult)
		tasks.POST("/:id/refund", taskHandler.RefundTask)
	}
	r.GET("/api/v1/events", NewEventHandler(taskLogic.Events()).GetFeed)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createTaskBody(escrowTxHash string) map[string]interface{} {
	body := map[string]interface{}{
		"title":            "Label 500 images",
		"spec":             "Bounding boxes for every visible vehicle",
		"payout_usdc":      "25.5",
		"deadline_at":      time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		"requester_wallet": "0x1111111111111111111111111111111111111111",
	}
	if escrowTxHash != "" {
		body["escrow_tx_hash"] = escrowTxHash
	}
	return body
}

func TestCreateTaskEndpoint(t *testing.T) {
	r := setupTestRouter(t)

	w := doJSON(t, r, "POST", "/api/v1/tasks", createTaskBody(""))
	assert.Equal(t, w.Code, http.StatusCreated)

	var resp CreateTaskResponse
	assert.Equal(t, json.Unmarshal(w.Body.Bytes(), &resp), nil)
	assert.NotEqual(t, resp.TaskId, "")
	assert.Equal(t, resp.TaskIdBytes32, ethereum.TaskIdBytes32(resp.TaskId).Hex())
	assert.Equal(t, resp.Task.Status, model.TaskStatusDraft)
	assert.Equal(t, resp.EscrowInstructions.CallData, "0xdeadbeef")
}

func TestCreateTaskInvalidDeadline(t *testing.T) {
	r := setupTestRouter(t)

	body := createTaskBody("")
	body["deadline_at"] = "tomorrow"
	w := doJSON(t, r, "POST", "/api/v1/tasks", body)
	assert.Equal(t, w.Code, http.StatusBadRequest)
}

func TestClaimRaceReturnsConflict(t *testing.T) {
	r := setupTestRouter(t)

	w := doJSON(t, r, "POST", "/api/v1/tasks", createTaskBody("0xfundtx"))
	assert.Equal(t, w.Code, http.StatusCreated)
	var created CreateTaskResponse
	assert.Equal(t, json.Unmarshal(w.Body.Bytes(), &created), nil)

	claim := map[string]interface{}{"worker_wallet": "0xaaa1", "worker_agent_id": "agent-1"}
	w = doJSON(t, r, "POST", "/api/v1/tasks/"+created.TaskId+"/claim", claim)
	assert.Equal(t, w.Code, http.StatusOK)

	claim["worker_wallet"] = "0xaaa2"
	claim["worker_agent_id"] = "agent-2"
	w = doJSON(t, r, "POST", "/api/v1/tasks/"+created.TaskId+"/claim", claim)
	assert.Equal(t, w.Code, http.StatusConflict)

	var resp Response
	assert.Equal(t, json.Unmarshal(w.Body.Bytes(), &resp), nil)
	assert.Equal(t, resp.Message, "task no longer available")
}

func TestGetTaskNotFound(t *testing.T) {
	r := setupTestRouter(t)

	w := doJSON(t, r, "GET", "/api/v1/tasks/nonexistent", nil)
	assert.Equal(t, w.Code, http.StatusNotFound)
}

func TestRefundBeforeDeadlineRejected(t *testing.T) {
	r := setupTestRouter(t)

	w := doJSON(t, r, "POST", "/api/v1/tasks", createTaskBody("0xfundtx"))
	var created CreateTaskResponse
	assert.Equal(t, json.Unmarshal(w.Body.Bytes(), &created), nil)

	w = doJSON(t, r, "POST", "/api/v1/tasks/"+created.TaskId+"/refund", map[string]interface{}{
		"requester_wallet": "0x1111111111111111111111111111111111111111",
	})
	assert.Equal(t, w.Code, http.StatusBadRequest)
}

func TestLifecycleOverHTTP(t *testing.T) {
	r := setupTestRouter(t)

	w := doJSON(t, r, "POST", "/api/v1/tasks", createTaskBody("0xfundtx"))
	assert.Equal(t, w.Code, http.StatusCreated)
	var created CreateTaskResponse
	assert.Equal(t, json.Unmarshal(w.Body.Bytes(), &created), nil)
	assert.Equal(t, created.Task.Status, model.TaskStatusOpen)

	w = doJSON(t, r, "POST", "/api/v1/tasks/"+created.TaskId+"/claim", map[string]interface{}{
		"worker_wallet": "0xaaa1", "worker_agent_id": "agent-1",
	})
	assert.Equal(t, w.Code, http.StatusOK)

	w = doJSON(t, r, "POST", "/api/v1/tasks/"+created.TaskId+"/submit", map[string]interface{}{
		"result": "ipfs://QmResult", "worker_agent_id": "agent-1",
	})
	assert.Equal(t, w.Code, http.StatusOK)
	var submitted SubmitResultResponse
	assert.Equal(t, json.Unmarshal(w.Body.Bytes(), &submitted), nil)
	assert.Equal(t, len(submitted.SubmissionHash), 64)

	w = doJSON(t, r, "POST", "/api/v1/tasks/"+created.TaskId+"/accept", map[string]interface{}{
		"requester_wallet": "0x1111111111111111111111111111111111111111",
	})
	assert.Equal(t, w.Code, http.StatusOK)
	var accepted AcceptResponse
	assert.Equal(t, json.Unmarshal(w.Body.Bytes(), &accepted), nil)
	assert.Equal(t, accepted.Task.Status, model.TaskStatusAccepted)
	assert.Equal(t, accepted.Receipt.Type, model.ReceiptTypeAccept)

	w = doJSON(t, r, "GET", "/api/v1/tasks/"+created.TaskId+"/receipt", nil)
	assert.Equal(t, w.Code, http.StatusOK)

	w = doJSON(t, r, "GET", "/api/v1/tasks/"+created.TaskId+"/events", nil)
	assert.Equal(t, w.Code, http.StatusOK)
	var events []model.EventModel
	assert.Equal(t, json.Unmarshal(w.Body.Bytes(), &events), nil)
	assert.Equal(t, len(events), 4) // created, claimed, submitted, accepted
}

func TestEventFeedCursor(t *testing.T) {
	r := setupTestRouter(t)

	w := doJSON(t, r, "POST", "/api/v1/tasks", createTaskBody(""))
	assert.Equal(t, w.Code, http.StatusCreated)

	w = doJSON(t, r, "GET", "/api/v1/events?after=0&limit=10", nil)
	assert.Equal(t, w.Code, http.StatusOK)

	var feed struct {
		Events []model.EventModel `json:"events"`
		Cursor int64              `json:"cursor"`
	}
	assert.Equal(t, json.Unmarshal(w.Body.Bytes(), &feed), nil)
	assert.Equal(t, len(feed.Events), 1)
	assert.Equal(t, feed.Cursor, feed.Events[0].Id)

	// 游标之后无新事件
	w = doJSON(t, r, "GET", fmt.Sprintf("/api/v1/events?after=%d", feed.Cursor), nil)
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, json.Unmarshal(w.Body.Bytes(), &feed), nil)
	assert.Equal(t, len(feed.Events), 0)
}
