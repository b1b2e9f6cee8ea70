package logic

import (
	"encoding/json"
	"fmt"

	"github.com/blues/tms/internal/ethereum"
	"github.com/blues/tms/internal/model"
	"gorm.io/gorm"
)

// ChainEventLogic 链上事件台账逻辑
type ChainEventLogic struct {
	db *gorm.DB
}

// NewChainEventLogic 创建链上事件台账逻辑
func NewChainEventLogic(db *gorm.DB) *ChainEventLogic {
	return &ChainEventLogic{db: db}
}

// Exists 检查事件是否已处理过，(txHash, logIndex)唯一标识一条链上日志
func (c *ChainEventLogic) Exists(txHash string, logIndex int64) (bool, error) {
	var count int64
	err := c.db.Model(&model.ChainEventModel{}).
		Where("tx_hash = ? AND log_index = ?", txHash, logIndex).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check chain event: %w", err)
	}
	return count > 0, nil
}

// Record 记录一条已处理的链上事件
func (c *ChainEventLogic) Record(event ethereum.EscrowEvent) error {
	data, err := json.Marshal(map[string]interface{}{
		"kind":      event.Kind,
		"requester": event.Requester.Hex(),
		"worker":    event.Worker.Hex(),
		"payout":    event.Payout.String(),
		"deadline":  event.Deadline,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal chain event data: %w", err)
	}

	record := &model.ChainEventModel{
		EventName:     string(event.Kind),
		TaskIdBytes32: event.TaskId.Hex(),
		TxHash:        event.TxHash.Hex(),
		LogIndex:      int64(event.LogIndex),
		BlockNum:      int64(event.BlockNumber),
		Data:          string(data),
	}

	if err := c.db.Create(record).Error; err != nil {
		return fmt.Errorf("failed to record chain event: %w", err)
	}

	return nil
}

// GetLastProcessedBlock 获取已处理事件的最大区块号，作为持久化游标
func (c *ChainEventLogic) GetLastProcessedBlock() (int64, error) {
	var maxBlock int64
	err := c.db.Model(&model.ChainEventModel{}).
		Select("COALESCE(MAX(block_num), 0)").
		Scan(&maxBlock).Error
	if err != nil {
		return 0, fmt.Errorf("failed to get last processed block: %w", err)
	}
	return maxBlock, nil
}
