package model

import (
	"time"
)

// ChainEventModel 已处理链上事件台账
//
// (tx_hash, log_index)唯一索引用于重复投递去重，MAX(block_num)即
// 监听器重启后可恢复的持久化游标。
type ChainEventModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	EventName     string `json:"event_name" gorm:"not null"`
	TaskIdBytes32 string `json:"task_id_bytes32" gorm:"index;size:66"`
	TxHash        string `json:"tx_hash" gorm:"not null;uniqueIndex:idx_chain_event_tx_log;size:66"`
	LogIndex      int64  `json:"log_index" gorm:"uniqueIndex:idx_chain_event_tx_log"`
	BlockNum      int64  `json:"block_num" gorm:"not null;index"`
	Data          string `json:"data" gorm:"type:text"`
}

// TableName 自定义表名
func (ChainEventModel) TableName() string {
	return "chain_event"
}
