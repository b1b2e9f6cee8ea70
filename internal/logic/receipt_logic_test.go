package logic

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/blues/tms/internal/ethereum"
	"github.com/blues/tms/internal/model"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-playground/assert/v2"
	"github.com/shopspring/decimal"
)

func testTask() *model.TaskModel {
	worker := "0xaaa1000000000000000000000000000000000001"
	return &model.TaskModel{
		Id:              "task-1",
		TaskIdBytes32:   ethereum.TaskIdBytes32("task-1").Hex(),
		Title:           "Label 500 images",
		PayoutUsdc:      decimal.NewFromFloat(25.5),
		DeadlineAt:      time.Now().Add(24 * time.Hour),
		RequesterWallet: "0x1111111111111111111111111111111111111111",
		WorkerWallet:    &worker,
		Status:          model.TaskStatusAccepted,
	}
}

func TestReceiptSignAndVerify(t *testing.T) {
	db := newTestDB(t)

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := crypto.PubkeyToAddress(key.PublicKey).Hex()
	receipts := NewReceiptLogic(db, key)

	receipt, err := receipts.Create(testTask(), model.ReceiptTypeAccept, "0xresult", "0xreleasetx")
	assert.Equal(t, err, nil)
	assert.Equal(t, receipt.Type, model.ReceiptTypeAccept)

	var payload ReceiptPayload
	assert.Equal(t, json.Unmarshal([]byte(receipt.Payload), &payload), nil)
	assert.Equal(t, payload.TaskId, "task-1")
	assert.Equal(t, payload.Payout, "25.5")
	assert.Equal(t, payload.ResultHash, "0xresult")

	ok, err := receipts.Verify(receipt, signer)
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, true)

	// 其他地址验签失败
	otherKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ok, err = receipts.Verify(receipt, crypto.PubkeyToAddress(otherKey.PublicKey).Hex())
	assert.Equal(t, err, nil)
	assert.Equal(t, ok, false)

	// 篡改内容后验签失败
	tampered := *receipt
	tampered.Payload = tampered.Payload[:len(tampered.Payload)-2] + "}"
	ok, _ = receipts.Verify(&tampered, signer)
	assert.Equal(t, ok, false)
}

func TestReceiptCreatedOnce(t *testing.T) {
	db := newTestDB(t)

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	receipts := NewReceiptLogic(db, key)

	first, err := receipts.Create(testTask(), model.ReceiptTypeAccept, "0xresult", "0xtx1")
	assert.Equal(t, err, nil)

	// 同一任务再次创建返回既有凭证，内容不变
	second, err := receipts.Create(testTask(), model.ReceiptTypeRefund, "", "0xtx2")
	assert.Equal(t, err, nil)
	assert.Equal(t, second.Id, first.Id)
	assert.Equal(t, second.Type, model.ReceiptTypeAccept)
	assert.Equal(t, second.Payload, first.Payload)
	assert.Equal(t, second.Signature, first.Signature)
}

func TestReceiptRequiresSigningKey(t *testing.T) {
	db := newTestDB(t)
	receipts := NewReceiptLogic(db, nil)

	_, err := receipts.Create(testTask(), model.ReceiptTypeAccept, "0xresult", "0xtx")
	assert.NotEqual(t, err, nil)
}
