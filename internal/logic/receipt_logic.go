package logic

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blues/tms/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"gorm.io/gorm"
)

// ReceiptPayload 结算凭证内容。字段顺序固定，json.Marshal产出即规范序列化。
type ReceiptPayload struct {
	TaskId        string            `json:"task_id"`
	TaskIdBytes32 string            `json:"task_id_bytes32"`
	Type          model.ReceiptType `json:"type"`
	Requester     string            `json:"requester"`
	Worker        string            `json:"worker"`
	Payout        string            `json:"payout"`
	ResultHash    string            `json:"result_hash"`
	TxHash        string            `json:"tx_hash"`
	Timestamp     string            `json:"timestamp"`
}

// ReceiptLogic 结算凭证逻辑
type ReceiptLogic struct {
	db      *gorm.DB
	signKey *ecdsa.PrivateKey
}

// NewReceiptLogic 创建结算凭证逻辑
func NewReceiptLogic(db *gorm.DB, signKey *ecdsa.PrivateKey) *ReceiptLogic {
	return &ReceiptLogic{db: db, signKey: signKey}
}

// Create 为任务的终局结果生成签名凭证。每个任务至多一条，
// 已存在时返回既有凭证，不重新生成。
func (r *ReceiptLogic) Create(task *model.TaskModel, receiptType model.ReceiptType, resultHash, txHash string) (*model.ReceiptModel, error) {
	var existing model.ReceiptModel
	err := r.db.Where("task_id = ?", task.Id).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check existing receipt: %w", err)
	}

	worker := ""
	if task.WorkerWallet != nil {
		worker = *task.WorkerWallet
	}

	payload := ReceiptPayload{
		TaskId:        task.Id,
		TaskIdBytes32: task.TaskIdBytes32,
		Type:          receiptType,
		Requester:     task.RequesterWallet,
		Worker:        worker,
		Payout:        task.PayoutUsdc.String(),
		ResultHash:    resultHash,
		TxHash:        txHash,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal receipt payload: %w", err)
	}

	signature, err := r.sign(payloadJSON)
	if err != nil {
		return nil, err
	}

	receipt := &model.ReceiptModel{
		TaskId:    task.Id,
		Type:      receiptType,
		Payload:   string(payloadJSON),
		Signature: signature,
	}

	if err := r.db.Create(receipt).Error; err != nil {
		return nil, fmt.Errorf("failed to create receipt: %w", err)
	}

	return receipt, nil
}

// Get 获取任务的结算凭证
func (r *ReceiptLogic) Get(taskId string) (*model.ReceiptModel, error) {
	var receipt model.ReceiptModel
	if err := r.db.Where("task_id = ?", taskId).First(&receipt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: receipt for task %s", ErrNotFound, taskId)
		}
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return &receipt, nil
}

// Verify 校验凭证签名是否由给定地址的持钥方签出
func (r *ReceiptLogic) Verify(receipt *model.ReceiptModel, signerAddress string) (bool, error) {
	sig := common.FromHex(receipt.Signature)
	if len(sig) != 65 {
		return false, fmt.Errorf("invalid signature length: %d", len(sig))
	}

	digest := crypto.Keccak256([]byte(receipt.Payload))
	pubKey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false, fmt.Errorf("failed to recover signer: %w", err)
	}

	recovered := crypto.PubkeyToAddress(*pubKey).Hex()
	return strings.EqualFold(recovered, signerAddress), nil
}

// sign 对凭证内容的keccak256摘要做ECDSA签名
func (r *ReceiptLogic) sign(payload []byte) (string, error) {
	if r.signKey == nil {
		return "", fmt.Errorf("receipt signing key not configured")
	}

	digest := crypto.Keccak256(payload)
	sig, err := crypto.Sign(digest, r.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign receipt: %w", err)
	}

	return "0x" + common.Bytes2Hex(sig), nil
}
