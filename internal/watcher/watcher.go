package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blues/tms/internal/ethereum"
	"github.com/blues/tms/internal/logger"
	"github.com/blues/tms/internal/logic"
	"gorm.io/gorm"
)

// ChainReader 链读取依赖
type ChainReader interface {
	LatestBlock(ctx context.Context) (int64, error)
	EventsInRange(ctx context.Context, fromBlock, toBlock int64) ([]ethereum.EscrowEvent, error)
}

// ChainWatcher 链上事件监听器
//
// 单循环轮询，将托管合约的历史事件按(blockNumber, logIndex)顺序
// 经状态机落库，使数据库与链上事实收敛。每个tick完整处理完一个
// 区块范围后才推进游标；范围内任一事件失败则游标停在失败点之前，
// 下个tick重新处理，重复应用由守卫条件和事件台账去重兜底。
type ChainWatcher struct {
	chain       ChainReader
	taskLogic   *logic.TaskLogic
	chainEvents *logic.ChainEventLogic

	interval    time.Duration
	batchSize   int64
	safetyBack  int64 // 启动时相对链头的安全回溯区块数
	lastBlock   int64
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewChainWatcher 创建链监听器
func NewChainWatcher(db *gorm.DB, chain ChainReader, taskLogic *logic.TaskLogic, pollInterval time.Duration, batchSize, safetyBack int64) *ChainWatcher {
	ctx, cancel := context.WithCancel(context.Background())

	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 500
	}

	return &ChainWatcher{
		chain:       chain,
		taskLogic:   taskLogic,
		chainEvents: logic.NewChainEventLogic(db),
		interval:    pollInterval,
		batchSize:   batchSize,
		safetyBack:  safetyBack,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start 启动监听。初始连接失败时返回错误，由调用方决定降级运行；
// 监听器本身不会拖垮宿主进程。
func (w *ChainWatcher) Start() error {
	head, err := w.chain.LatestBlock(w.ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", logic.ErrChainUnavailable, err)
	}

	start, err := w.resumePoint(head)
	if err != nil {
		return err
	}
	w.setLastBlock(start)

	logger.Info("Chain watcher starting from block %d (head %d)", start, head)

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop 停止监听：不再开始新tick，等待进行中的tick完成。
// 进行中的tick不会被中断，半处理的区块范围配合未推进的游标
// 正是可安全恢复的状态。
func (w *ChainWatcher) Stop() {
	w.cancel()
	w.wg.Wait()
	logger.Info("Chain watcher stopped")
}

// LastBlock 当前游标
func (w *ChainWatcher) LastBlock() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastBlock
}

// resumePoint 计算启动游标：取持久化游标与(链头-安全回溯)的较大者
func (w *ChainWatcher) resumePoint(head int64) (int64, error) {
	persisted, err := w.chainEvents.GetLastProcessedBlock()
	if err != nil {
		return 0, err
	}

	start := head - w.safetyBack
	if start < 0 {
		start = 0
	}
	if persisted > start {
		start = persisted
	}
	return start, nil
}

// loop 轮询循环，tick之间不重叠
func (w *ChainWatcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.Tick(w.ctx); err != nil {
				// 下个tick从同一游标重试，不跳过区块范围
				logger.Error("Watcher tick failed: %v", err)
			}
		}
	}
}

// Tick 执行一轮对账：读链头，分批拉取并应用新事件，推进游标
func (w *ChainWatcher) Tick(ctx context.Context) error {
	head, err := w.chain.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain head: %w", err)
	}

	last := w.LastBlock()
	if head <= last {
		return nil
	}

	for from := last + 1; from <= head; from += w.batchSize {
		to := from + w.batchSize - 1
		if to > head {
			to = head
		}

		if err := w.processRange(ctx, from, to); err != nil {
			return err
		}

		w.setLastBlock(to)
	}

	return nil
}

// processRange 处理一个区块范围内的全部事件
func (w *ChainWatcher) processRange(ctx context.Context, fromBlock, toBlock int64) error {
	events, err := w.chain.EventsInRange(ctx, fromBlock, toBlock)
	if err != nil {
		return fmt.Errorf("failed to fetch events %d-%d: %w", fromBlock, toBlock, err)
	}
	if len(events) == 0 {
		return nil
	}

	// 排序保证跨事件类型的应用顺序有全序可循
	ethereum.SortEvents(events)

	logger.Debug("Applying %d escrow events from blocks %d-%d", len(events), fromBlock, toBlock)

	for _, event := range events {
		if err := w.applyEvent(event); err != nil {
			return fmt.Errorf("failed to apply %s at %d/%d: %w",
				event.Kind, event.BlockNumber, event.LogIndex, err)
		}
	}

	return nil
}

// applyEvent 应用单个事件：先查台账去重，再走状态机，最后记账
func (w *ChainWatcher) applyEvent(event ethereum.EscrowEvent) error {
	seen, err := w.chainEvents.Exists(event.TxHash.Hex(), int64(event.LogIndex))
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	if err := w.taskLogic.ApplyEscrowEvent(event); err != nil {
		return err
	}

	return w.chainEvents.Record(event)
}

func (w *ChainWatcher) setLastBlock(block int64) {
	w.mu.Lock()
	w.lastBlock = block
	w.mu.Unlock()
}
