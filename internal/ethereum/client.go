package ethereum

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/blues/tms/internal/config"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// 托管合约ABI定义
const escrowABIJSON = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "taskId", "type": "bytes32"},
			{"indexed": true, "name": "requester", "type": "address"},
			{"indexed": false, "name": "payout", "type": "uint256"},
			{"indexed": false, "name": "deadline", "type": "uint64"}
		],
		"name": "TaskCreated",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "taskId", "type": "bytes32"},
			{"indexed": true, "name": "worker", "type": "address"},
			{"indexed": false, "name": "payout", "type": "uint256"},
			{"indexed": false, "name": "resultHash", "type": "bytes32"}
		],
		"name": "TaskReleased",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "taskId", "type": "bytes32"},
			{"indexed": true, "name": "requester", "type": "address"},
			{"indexed": false, "name": "payout", "type": "uint256"}
		],
		"name": "TaskRefunded",
		"type": "event"
	},
	{
		"inputs": [
			{"name": "taskId", "type": "bytes32"},
			{"name": "payout", "type": "uint256"},
			{"name": "deadline", "type": "uint64"}
		],
		"name": "createTask",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "taskId", "type": "bytes32"},
			{"name": "worker", "type": "address"},
			{"name": "resultHash", "type": "bytes32"}
		],
		"name": "release",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "taskId", "type": "bytes32"}
		],
		"name": "refund",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

var escrowABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(escrowABIJSON))
	if err != nil {
		panic(fmt.Sprintf("failed to parse escrow ABI: %v", err))
	}
	escrowABI = parsed
}

// EventKind 链上事件类型
type EventKind string

const (
	EventKindTaskCreated  EventKind = "TaskCreated"
	EventKindTaskReleased EventKind = "TaskReleased"
	EventKindTaskRefunded EventKind = "TaskRefunded"
)

// EscrowEvent 托管合约事件，按Kind区分有效字段
type EscrowEvent struct {
	Kind        EventKind
	TaskId      common.Hash
	Requester   common.Address // TaskCreated / TaskRefunded
	Worker      common.Address // TaskReleased
	Payout      *big.Int
	Deadline    uint64      // TaskCreated
	ResultHash  common.Hash // TaskReleased
	BlockNumber uint64
	LogIndex    uint
	TxHash      common.Hash
}

// EscrowInstructions 需求方注资托管所需的链上调用描述
type EscrowInstructions struct {
	TokenAddress    string `json:"token_address"`
	EscrowAddress   string `json:"escrow_contract_address"`
	PayoutFormatted string `json:"payout_formatted"`
	PayoutUnits     string `json:"payout_units"`
	Deadline        int64  `json:"deadline"`
	CallData        string `json:"call_data"`
}

// Client 托管合约客户端
type Client struct {
	client        *ethclient.Client
	privateKey    *ecdsa.PrivateKey
	chainId       *big.Int
	escrowAddr    common.Address
	tokenAddr     common.Address
	tokenDecimals int32
	confirmations int64
	bound         *bind.BoundContract
}

func Init(cfg config.ChainConfig) (*Client, error) {
	// 连接链客户端
	client, err := ethclient.Dial(cfg.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ethereum client: %w", err)
	}

	// 解析结算账户私钥
	var privateKey *ecdsa.PrivateKey
	if cfg.SettlerKey != "" {
		privateKey, err = crypto.HexToECDSA(strings.TrimPrefix(cfg.SettlerKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("failed to parse settler key: %w", err)
		}
	}

	escrowAddr := common.HexToAddress(cfg.EscrowAddress)

	return &Client{
		client:        client,
		privateKey:    privateKey,
		chainId:       big.NewInt(cfg.ChainId),
		escrowAddr:    escrowAddr,
		tokenAddr:     common.HexToAddress(cfg.TokenAddress),
		tokenDecimals: cfg.TokenDecimals,
		confirmations: cfg.Confirmations,
		bound:         bind.NewBoundContract(escrowAddr, escrowABI, client, client, client),
	}, nil
}

// TaskIdBytes32 由内部任务id派生链上标识：keccak256(utf8(id))
func TaskIdBytes32(taskId string) common.Hash {
	return crypto.Keccak256Hash([]byte(taskId))
}

// LatestBlock 获取最新区块号
func (c *Client) LatestBlock(ctx context.Context) (int64, error) {
	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, err
	}
	return header.Number.Int64(), nil
}

// EventsInRange 获取区块范围[fromBlock, toBlock]内托管合约的全部事件，
// 按(blockNumber, logIndex)升序返回
func (c *Client) EventsInRange(ctx context.Context, fromBlock, toBlock int64) ([]EscrowEvent, error) {
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(fromBlock),
		ToBlock:   big.NewInt(toBlock),
		Addresses: []common.Address{c.escrowAddr},
	}

	logs, err := c.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs from %d to %d: %w", fromBlock, toBlock, err)
	}

	events := make([]EscrowEvent, 0, len(logs))
	for _, l := range logs {
		event, err := ParseEscrowLog(l)
		if err != nil {
			// 合约可能发出本服务不关心的事件，跳过
			continue
		}
		events = append(events, event)
	}

	SortEvents(events)
	return events, nil
}

// ParseEscrowLog 将原始日志解析为事件变体
func ParseEscrowLog(l types.Log) (EscrowEvent, error) {
	if len(l.Topics) < 3 {
		return EscrowEvent{}, fmt.Errorf("insufficient topics: %d", len(l.Topics))
	}

	event := EscrowEvent{
		TaskId:      l.Topics[1],
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
		TxHash:      l.TxHash,
	}

	switch l.Topics[0] {
	case escrowABI.Events["TaskCreated"].ID:
		event.Kind = EventKindTaskCreated
		event.Requester = common.BytesToAddress(l.Topics[2].Bytes())
		values, err := escrowABI.Unpack("TaskCreated", l.Data)
		if err != nil {
			return EscrowEvent{}, fmt.Errorf("failed to unpack TaskCreated: %w", err)
		}
		event.Payout = values[0].(*big.Int)
		event.Deadline = values[1].(uint64)
	case escrowABI.Events["TaskReleased"].ID:
		event.Kind = EventKindTaskReleased
		event.Worker = common.BytesToAddress(l.Topics[2].Bytes())
		values, err := escrowABI.Unpack("TaskReleased", l.Data)
		if err != nil {
			return EscrowEvent{}, fmt.Errorf("failed to unpack TaskReleased: %w", err)
		}
		event.Payout = values[0].(*big.Int)
		event.ResultHash = values[1].([32]byte)
	case escrowABI.Events["TaskRefunded"].ID:
		event.Kind = EventKindTaskRefunded
		event.Requester = common.BytesToAddress(l.Topics[2].Bytes())
		values, err := escrowABI.Unpack("TaskRefunded", l.Data)
		if err != nil {
			return EscrowEvent{}, fmt.Errorf("failed to unpack TaskRefunded: %w", err)
		}
		event.Payout = values[0].(*big.Int)
	default:
		return EscrowEvent{}, fmt.Errorf("unknown event signature: %s", l.Topics[0].Hex())
	}

	return event, nil
}

// SortEvents 按(blockNumber, logIndex)升序排序，
// 该全序是跨事件类型"按序应用"的唯一依据
func SortEvents(events []EscrowEvent) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})
}

// EscrowInstructions 生成需求方注资所需的调用数据
func (c *Client) EscrowInstructions(taskId common.Hash, payout decimal.Decimal, deadline time.Time) (*EscrowInstructions, error) {
	units := payout.Shift(c.tokenDecimals).BigInt()

	callData, err := escrowABI.Pack("createTask", [32]byte(taskId), units, uint64(deadline.Unix()))
	if err != nil {
		return nil, fmt.Errorf("failed to encode createTask call: %w", err)
	}

	return &EscrowInstructions{
		TokenAddress:    c.tokenAddr.Hex(),
		EscrowAddress:   c.escrowAddr.Hex(),
		PayoutFormatted: payout.String(),
		PayoutUnits:     units.String(),
		Deadline:        deadline.Unix(),
		CallData:        "0x" + common.Bytes2Hex(callData),
	}, nil
}

// Release 调用合约release，等待交易上链并校验回执状态
func (c *Client) Release(ctx context.Context, taskId common.Hash, worker common.Address, resultHash common.Hash) (string, error) {
	tx, err := c.transact(ctx, "release", [32]byte(taskId), worker, [32]byte(resultHash))
	if err != nil {
		return "", err
	}
	return tx, nil
}

// Refund 调用合约refund，等待交易上链并校验回执状态
func (c *Client) Refund(ctx context.Context, taskId common.Hash) (string, error) {
	tx, err := c.transact(ctx, "refund", [32]byte(taskId))
	if err != nil {
		return "", err
	}
	return tx, nil
}

// transact 以结算账户身份提交合约交易并等待确认
func (c *Client) transact(ctx context.Context, method string, args ...interface{}) (string, error) {
	if c.privateKey == nil {
		return "", fmt.Errorf("settler key not configured")
	}

	auth, err := bind.NewKeyedTransactorWithChainID(c.privateKey, c.chainId)
	if err != nil {
		return "", fmt.Errorf("failed to create transactor: %w", err)
	}
	auth.Context = ctx

	tx, err := c.bound.Transact(auth, method, args...)
	if err != nil {
		return "", fmt.Errorf("contract %s call failed: %w", method, err)
	}

	receipt, err := bind.WaitMined(ctx, c.client, tx)
	if err != nil {
		return "", fmt.Errorf("failed waiting for %s tx %s: %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("%s tx %s reverted", method, tx.Hash().Hex())
	}

	return tx.Hash().Hex(), nil
}

// SettlerAddress 结算账户地址
func (c *Client) SettlerAddress() string {
	if c.privateKey == nil {
		return ""
	}
	return crypto.PubkeyToAddress(c.privateKey.PublicKey).Hex()
}

// SettlerKey 结算账户私钥，用于结算凭证签名
func (c *Client) SettlerKey() *ecdsa.PrivateKey {
	return c.privateKey
}

// Confirmations 确认数
func (c *Client) Confirmations() int64 {
	return c.confirmations
}

// Close 关闭客户端连接
func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
