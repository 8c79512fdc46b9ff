package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"quantra/internal/backtest"
	"quantra/internal/logger"
	"quantra/internal/market"
)

// CandleProvider 为任务提供回测所需的 K 线。
type CandleProvider interface {
	Candles(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error)
}

// RunStore 在任务结束后持久化结果，可以为空。
type RunStore interface {
	SaveRun(ctx context.Context, run Run) error
}

// ServiceConfig 配置任务服务。
type ServiceConfig struct {
	Provider      CandleProvider
	Loader        backtest.Loader
	Store         RunStore
	Default       backtest.Config
	MaxConcurrent int
}

// Service 管理回测任务的整个生命周期。
// 并发度用信号量通道限制，取消通过每个任务的 context 协作完成，
// 引擎只在 K 线边界响应取消。
type Service struct {
	provider CandleProvider
	loader   backtest.Loader
	store    RunStore
	def      backtest.Config

	sem chan struct{}

	mu      sync.RWMutex
	runs    map[string]*Run
	cancels map[string]context.CancelFunc
	subs    map[string][]chan Event

	baseCtx context.Context
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("candle provider 不能为空")
	}
	if cfg.Loader == nil {
		return nil, fmt.Errorf("策略加载器不能为空")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	def := cfg.Default
	if def.InitialCapital <= 0 {
		def = backtest.DefaultConfig()
	}
	return &Service{
		provider: cfg.Provider,
		loader:   cfg.Loader,
		store:    cfg.Store,
		def:      def,
		sem:      make(chan struct{}, maxConcurrent),
		runs:     make(map[string]*Run),
		cancels:  make(map[string]context.CancelFunc),
		subs:     make(map[string][]chan Event),
		baseCtx:  context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，宿主退出时所有任务随之取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

// Submit 校验参数并启动任务，立即返回 pending 状态的任务副本。
func (s *Service) Submit(params Params) (Run, error) {
	if len(params.Strategy) == 0 {
		return Run{}, fmt.Errorf("策略描述不能为空")
	}
	if len(params.Symbols) == 0 {
		return Run{}, fmt.Errorf("至少需要一个交易对")
	}
	base, err := market.ParseTimeframe(params.Timeframe)
	if err != nil {
		return Run{}, err
	}
	for _, raw := range params.Timeframes {
		higher, err := market.ParseTimeframe(raw)
		if err != nil {
			return Run{}, err
		}
		if higher.Millis() <= base.Millis() {
			return Run{}, fmt.Errorf("高周期 %s 必须大于基础周期 %s", raw, params.Timeframe)
		}
	}
	if params.Start >= params.End {
		return Run{}, fmt.Errorf("start 与 end 需要构成区间")
	}
	if params.Config.InitialCapital == 0 && params.Config.CommissionRate == 0 && params.Config.Slippage == 0 {
		params.Config = s.def
	}
	if err := params.Config.Validate(); err != nil {
		return Run{}, err
	}
	// 策略描述在提交时就做一次解析，坏策略立刻失败
	if _, err := s.loader.Load(params.Strategy); err != nil {
		return Run{}, err
	}

	now := time.Now()
	run := &Run{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ctx, cancel := context.WithCancel(s.baseCtx)

	s.mu.Lock()
	s.runs[run.ID] = run
	s.cancels[run.ID] = cancel
	s.mu.Unlock()

	logger.Infof("[task] 任务 %s 提交: %v %s [%d,%d]", run.ID, params.Symbols, params.Timeframe, params.Start, params.End)
	go s.execute(ctx, run.ID)
	return run.copy(), nil
}

// Cancel 请求取消任务。已终态返回 false。
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	run, ok := s.runs[id]
	if !ok || run.Done() {
		s.mu.Unlock()
		return false
	}
	cancel := s.cancels[id]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

// Snapshot 返回任务副本。
func (s *Service) Snapshot(id string) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return Run{}, false
	}
	return run.copy(), true
}

// List 返回全部任务副本，按创建时间倒序。
func (s *Service) List() []Run {
	s.mu.RLock()
	out := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.copy())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Watch 订阅任务的进度事件。终态事件发出后通道关闭。
// 任务不存在时 ok 为 false；已终态的任务立刻收到终态事件。
func (s *Service) Watch(id string) (<-chan Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	ch := make(chan Event, 64)
	if run.Done() {
		ch <- terminalEvent(run)
		close(ch)
		return ch, true
	}
	s.subs[id] = append(s.subs[id], ch)
	return ch, true
}

// execute 在信号量约束下执行任务。
func (s *Service) execute(ctx context.Context, id string) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.finish(id, StatusCanceled, nil, ctx.Err().Error())
		return
	}
	defer func() { <-s.sem }()

	if err := ctx.Err(); err != nil {
		s.finish(id, StatusCanceled, nil, err.Error())
		return
	}

	run, ok := s.Snapshot(id)
	if !ok {
		return
	}
	params := run.Params

	strategy, err := s.loader.Load(params.Strategy)
	if err != nil {
		s.finish(id, StatusFailed, nil, err.Error())
		return
	}

	candles := make(map[string][]market.Candle, len(params.Symbols))
	for _, symbol := range params.Symbols {
		list, err := s.provider.Candles(ctx, symbol, params.Timeframe, params.Start, params.End)
		if err != nil {
			s.finish(id, StatusFailed, nil, fmt.Sprintf("加载 %s 数据失败: %v", symbol, err))
			return
		}
		candles[symbol] = list
	}
	higher := make([]market.Timeframe, 0, len(params.Timeframes))
	for _, raw := range params.Timeframes {
		tf, err := market.ParseTimeframe(raw)
		if err != nil {
			s.finish(id, StatusFailed, nil, err.Error())
			return
		}
		higher = append(higher, tf)
	}
	feed := backtest.NewFeed(candles, higher...)

	s.update(id, func(r *Run) {
		r.Status = StatusRunning
	})
	logger.Infof("[task] 任务 %s 开始，共 %d 步", id, feed.Len())

	engine := backtest.NewEngine(params.Config)
	result, err := engine.Run(ctx, strategy, feed, func(processed, total int, equity float64, timestamp int64) {
		progress := Progress{Processed: processed, Total: total, Equity: equity, Timestamp: timestamp}
		s.update(id, func(r *Run) {
			r.Progress = progress
		})
		s.publish(id, Event{Kind: EventProgress, RunID: id, Progress: progress})
	})
	if err != nil {
		if ctx.Err() != nil {
			s.finish(id, StatusCanceled, &result, err.Error())
			return
		}
		s.finish(id, StatusFailed, nil, err.Error())
		return
	}
	s.finish(id, StatusDone, &result, "")
}

// finish 落终态、广播终态事件并关闭全部订阅。
func (s *Service) finish(id, status string, result *backtest.Result, errMsg string) {
	s.update(id, func(r *Run) {
		r.Status = status
		r.Result = result
		r.Error = errMsg
	})

	s.mu.Lock()
	run := s.runs[id]
	subs := s.subs[id]
	delete(s.subs, id)
	delete(s.cancels, id)
	var snapshot Run
	if run != nil {
		snapshot = run.copy()
	}
	s.mu.Unlock()

	event := terminalEvent(&snapshot)
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// 缓冲被进度事件占满时丢弃最旧的一条，终态事件必须送达。
			// 订阅方已从 subs 摘除，不会再有并发写入。
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
		close(ch)
	}
	logger.Infof("[task] 任务 %s 结束，状态=%s", id, status)

	if s.store != nil && run != nil {
		if err := s.store.SaveRun(context.Background(), snapshot); err != nil {
			logger.Errorf("[task] 任务 %s 持久化失败: %v", id, err)
		}
	}
}

func (s *Service) update(id string, fn func(*Run)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok && fn != nil {
		fn(run)
		run.UpdatedAt = time.Now()
	}
}

// publish 向订阅者广播进度，接收方阻塞时丢弃本次采样。
func (s *Service) publish(id string, event Event) {
	s.mu.RLock()
	subs := s.subs[id]
	s.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func terminalEvent(run *Run) Event {
	kind := EventDone
	switch run.Status {
	case StatusFailed:
		kind = EventFailed
	case StatusCanceled:
		kind = EventCanceled
	}
	return Event{
		Kind:     kind,
		RunID:    run.ID,
		Progress: run.Progress,
		Result:   run.Result,
		Error:    run.Error,
	}
}
