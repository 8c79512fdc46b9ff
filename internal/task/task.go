// Package task 管理异步回测任务：提交、并发控制、进度订阅与取消。
package task

import (
	"encoding/json"
	"time"

	"quantra/internal/backtest"
)

const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusDone     = "done"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
)

// Params 是一次回测任务的输入。
// Timeframes 为可选的高周期列表，基础 K 线会在回测中
// 聚合成这些周期，策略通过 Context.TimeframeBars 读取。
type Params struct {
	Strategy   json.RawMessage `json:"strategy"`
	Symbols    []string        `json:"symbols"`
	Timeframe  string          `json:"timeframe"`
	Timeframes []string        `json:"timeframes,omitempty"`
	Start      int64           `json:"start"`
	End        int64           `json:"end"`
	Config     backtest.Config `json:"config"`
}

// Progress 是任务执行中的一次进度采样。
type Progress struct {
	Processed int     `json:"processed"`
	Total     int     `json:"total"`
	Equity    float64 `json:"equity"`
	Timestamp int64   `json:"timestamp"`
}

// Run 是任务的完整状态。对外只暴露副本。
type Run struct {
	ID        string           `json:"id"`
	Status    string           `json:"status"`
	Params    Params           `json:"params"`
	Progress  Progress         `json:"progress"`
	Result    *backtest.Result `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (r *Run) copy() Run {
	out := *r
	if r.Result != nil {
		res := *r.Result
		out.Result = &res
	}
	return out
}

// Done 报告任务是否已进入终态。
func (r *Run) Done() bool {
	switch r.Status {
	case StatusDone, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// EventKind 区分订阅流里的事件类型。
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventDone     EventKind = "done"
	EventFailed   EventKind = "failed"
	EventCanceled EventKind = "canceled"
)

// Event 是进度订阅流里的一条消息，终态事件之后通道关闭。
type Event struct {
	Kind     EventKind        `json:"kind"`
	RunID    string           `json:"run_id"`
	Progress Progress         `json:"progress"`
	Result   *backtest.Result `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
}
