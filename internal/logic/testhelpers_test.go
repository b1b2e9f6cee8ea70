package logic

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/blues/tms/internal/database"
	"github.com/blues/tms/internal/ethereum"
	"github.com/blues/tms/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// escrowMock 托管合约调用依赖的测试替身
type escrowMock struct {
	escrowInstructions func(taskId common.Hash, payout decimal.Decimal, deadline time.Time) (*ethereum.EscrowInstructions, error)
	release            func(ctx context.Context, taskId common.Hash, worker common.Address, resultHash common.Hash) (string, error)
	refund             func(ctx context.Context, taskId common.Hash) (string, error)
}

func newEscrowMock() *escrowMock {
	return &escrowMock{
		escrowInstructions: func(taskId common.Hash, payout decimal.Decimal, deadline time.Time) (*ethereum.EscrowInstructions, error) {
			return &ethereum.EscrowInstructions{
				PayoutFormatted: payout.String(),
				Deadline:        deadline.Unix(),
			}, nil
		},
		release: func(ctx context.Context, taskId common.Hash, worker common.Address, resultHash common.Hash) (string, error) {
			return "0xreleasetx", nil
		},
		refund: func(ctx context.Context, taskId common.Hash) (string, error) {
			return "0xrefundtx", nil
		},
	}
}

func (m *escrowMock) EscrowInstructions(taskId common.Hash, payout decimal.Decimal, deadline time.Time) (*ethereum.EscrowInstructions, error) {
	return m.escrowInstructions(taskId, payout, deadline)
}

func (m *escrowMock) Release(ctx context.Context, taskId common.Hash, worker common.Address, resultHash common.Hash) (string, error) {
	return m.release(ctx, taskId, worker, resultHash)
}

func (m *escrowMock) Refund(ctx context.Context, taskId common.Hash) (string, error) {
	return m.refund(ctx, taskId)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func newTestLogic(t *testing.T, db *gorm.DB, escrow EscrowCaller) (*TaskLogic, string) {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	settler := crypto.PubkeyToAddress(key.PublicKey).Hex()

	receipts := NewReceiptLogic(db, key)
	return NewTaskLogic(db, escrow, receipts, settler), settler
}

func createTaskInput(deadline time.Time) *CreateTaskInput {
	return &CreateTaskInput{
		Title:           "Label 500 images",
		Spec:            "Bounding boxes for every visible vehicle",
		PayoutUsdc:      decimal.NewFromFloat(25.5),
		DeadlineAt:      deadline,
		RequesterWallet: "0x1111111111111111111111111111111111111111",
	}
}

// openTask 创建并注资一个任务，返回OPEN状态的任务
func openTask(t *testing.T, l *TaskLogic, deadline time.Time) *model.TaskModel {
	t.Helper()

	task, _, err := l.CreateTask(createTaskInput(deadline))
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	task, err = l.ConfirmFunding(task.Id, "0xfundtx")
	if err != nil {
		t.Fatalf("confirm funding: %v", err)
	}
	return task
}
