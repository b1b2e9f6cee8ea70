package ethereum

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-playground/assert/v2"
	"github.com/shopspring/decimal"
)

func TestTaskIdBytes32(t *testing.T) {
	id := "3f1c9d2e-0000-4000-8000-000000000001"

	// 同一id的派生结果稳定
	assert.Equal(t, TaskIdBytes32(id), TaskIdBytes32(id))
	assert.Equal(t, TaskIdBytes32(id), crypto.Keccak256Hash([]byte(id)))
	assert.NotEqual(t, TaskIdBytes32(id), TaskIdBytes32("another-id"))
}

func TestEscrowInstructionsEncoding(t *testing.T) {
	c := &Client{
		escrowAddr:    common.HexToAddress("0x3333333333333333333333333333333333333333"),
		tokenAddr:     common.HexToAddress("0x2222222222222222222222222222222222222222"),
		tokenDecimals: 6,
	}

	taskId := TaskIdBytes32("task-1")
	deadline := time.Unix(1767225600, 0)

	instructions, err := c.EscrowInstructions(taskId, decimal.NewFromFloat(25.5), deadline)
	assert.Equal(t, err, nil)
	assert.Equal(t, instructions.PayoutFormatted, "25.5")
	assert.Equal(t, instructions.PayoutUnits, "25500000")
	assert.Equal(t, instructions.Deadline, int64(1767225600))
	assert.Equal(t, instructions.TokenAddress, "0x2222222222222222222222222222222222222222")

	// 调用数据以createTask选择器开头，参数区为3个字
	selector := "0x" + common.Bytes2Hex(escrowABI.Methods["createTask"].ID)
	assert.Equal(t, instructions.CallData[:10], selector)
	assert.Equal(t, len(instructions.CallData), 10+3*64)
}

func packEventData(t *testing.T, eventName string, values ...interface{}) []byte {
	t.Helper()

	data, err := escrowABI.Events[eventName].Inputs.NonIndexed().Pack(values...)
	if err != nil {
		t.Fatalf("pack %s data: %v", eventName, err)
	}
	return data
}

func TestParseEscrowLog(t *testing.T) {
	taskId := TaskIdBytes32("task-1")
	requester := common.HexToAddress("0x1111111111111111111111111111111111111111")
	worker := common.HexToAddress("0xaaa1000000000000000000000000000000000001")
	resultHash := crypto.Keccak256Hash([]byte("result"))

	created := types.Log{
		Topics: []common.Hash{
			escrowABI.Events["TaskCreated"].ID,
			taskId,
			common.BytesToHash(requester.Bytes()),
		},
		Data:        packEventData(t, "TaskCreated", big.NewInt(25500000), uint64(1767225600)),
		BlockNumber: 10,
		Index:       2,
		TxHash:      common.HexToHash("0xc1"),
	}

	event, err := ParseEscrowLog(created)
	assert.Equal(t, err, nil)
	assert.Equal(t, event.Kind, EventKindTaskCreated)
	assert.Equal(t, event.TaskId, taskId)
	assert.Equal(t, event.Requester, requester)
	assert.Equal(t, event.Payout.String(), "25500000")
	assert.Equal(t, event.Deadline, uint64(1767225600))
	assert.Equal(t, event.BlockNumber, uint64(10))
	assert.Equal(t, event.LogIndex, uint(2))

	released := types.Log{
		Topics: []common.Hash{
			escrowABI.Events["TaskReleased"].ID,
			taskId,
			common.BytesToHash(worker.Bytes()),
		},
		Data:        packEventData(t, "TaskReleased", big.NewInt(25500000), [32]byte(resultHash)),
		BlockNumber: 20,
		TxHash:      common.HexToHash("0xc2"),
	}

	event, err = ParseEscrowLog(released)
	assert.Equal(t, err, nil)
	assert.Equal(t, event.Kind, EventKindTaskReleased)
	assert.Equal(t, event.Worker, worker)
	assert.Equal(t, event.ResultHash, resultHash)

	refunded := types.Log{
		Topics: []common.Hash{
			escrowABI.Events["TaskRefunded"].ID,
			taskId,
			common.BytesToHash(requester.Bytes()),
		},
		Data:        packEventData(t, "TaskRefunded", big.NewInt(25500000)),
		BlockNumber: 30,
		TxHash:      common.HexToHash("0xc3"),
	}

	event, err = ParseEscrowLog(refunded)
	assert.Equal(t, err, nil)
	assert.Equal(t, event.Kind, EventKindTaskRefunded)
	assert.Equal(t, event.Requester, requester)
}

func TestParseEscrowLogRejectsForeignEvents(t *testing.T) {
	_, err := ParseEscrowLog(types.Log{
		Topics: []common.Hash{
			crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")),
			common.HexToHash("0x1"),
			common.HexToHash("0x2"),
		},
	})
	assert.NotEqual(t, err, nil)

	_, err = ParseEscrowLog(types.Log{Topics: []common.Hash{escrowABI.Events["TaskCreated"].ID}})
	assert.NotEqual(t, err, nil)
}

func TestSortEventsByBlockThenLogIndex(t *testing.T) {
	events := []EscrowEvent{
		{BlockNumber: 20, LogIndex: 0},
		{BlockNumber: 10, LogIndex: 5},
		{BlockNumber: 10, LogIndex: 1},
		{BlockNumber: 30, LogIndex: 0},
	}

	SortEvents(events)

	assert.Equal(t, events[0].BlockNumber, uint64(10))
	assert.Equal(t, events[0].LogIndex, uint(1))
	assert.Equal(t, events[1].BlockNumber, uint64(10))
	assert.Equal(t, events[1].LogIndex, uint(5))
	assert.Equal(t, events[2].BlockNumber, uint64(20))
	assert.Equal(t, events[3].BlockNumber, uint64(30))
}
