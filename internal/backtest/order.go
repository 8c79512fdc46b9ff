package backtest

import "math"

// OrderSide 订单方向。
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Opposite 返回相反方向。
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType 订单类型。
type OrderType string

const (
	OrderMarket    OrderType = "MARKET"
	OrderLimit     OrderType = "LIMIT"
	OrderStop      OrderType = "STOP"       // 触价即市价
	OrderStopLimit OrderType = "STOP_LIMIT" // 触价即限价
	OrderStopTrail OrderType = "STOP_TRAIL" // 移动止损
)

// OrderStatus 订单生命周期状态。
//
// CREATED -> SUBMITTED -> ACCEPTED -> FILLED/CANCELED/EXPIRED
//
//	\-> REJECTED
type OrderStatus string

const (
	StatusCreated   OrderStatus = "CREATED"
	StatusSubmitted OrderStatus = "SUBMITTED"
	StatusAccepted  OrderStatus = "ACCEPTED"
	StatusFilled    OrderStatus = "FILLED"
	StatusCanceled  OrderStatus = "CANCELED"
	StatusRejected  OrderStatus = "REJECTED"
	StatusExpired   OrderStatus = "EXPIRED"
)

// Order 表示一笔模拟订单。
//
// ParentID 非空时订单在父订单成交前对撮合不可见；
// OCOID 非空时对端成交的瞬间本单被取消。
type Order struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      OrderSide `json:"side"`
	Type      OrderType `json:"type"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price,omitempty"`   // 限价（0 表示未设置）
	Trigger   float64   `json:"trigger,omitempty"` // STOP 族触发价
	CreatedAt int64     `json:"created_at"`

	Status         OrderStatus `json:"status"`
	FilledAvgPrice float64     `json:"filled_avg_price"`
	FilledQuantity float64     `json:"filled_quantity"`
	Fee            float64     `json:"fee"`
	Reason         string      `json:"reason,omitempty"` // 拒单/取消原因

	Triggered bool `json:"triggered,omitempty"` // STOP 族：已触发待成交

	// 挂钩订单与移动止损
	ParentID     string  `json:"parent_id,omitempty"`
	OCOID        string  `json:"oco_id,omitempty"`
	TrailAmount  float64 `json:"trail_amount,omitempty"`
	TrailPercent float64 `json:"trail_percent,omitempty"`
	HighestPrice float64 `json:"highest_price,omitempty"`
	LowestPrice  float64 `json:"lowest_price,omitempty"`
}

// NewOrder 构造一笔处于 CREATED 状态的订单。
func NewOrder(id, symbol string, side OrderSide, typ OrderType, qty float64, createdAt int64) *Order {
	return &Order{
		ID:          id,
		Symbol:      symbol,
		Side:        side,
		Type:        typ,
		Quantity:    qty,
		CreatedAt:   createdAt,
		Status:      StatusCreated,
		LowestPrice: math.Inf(1),
	}
}

// Active 判断订单是否仍在撮合队列可接受状态。
func (o *Order) Active() bool {
	return o.Status == StatusAccepted
}

// Done 判断订单是否已终结。
func (o *Order) Done() bool {
	switch o.Status {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Trade 是一次撮合成交的不可变记录。
// PnL 仅在本次成交使持仓减少或反向时非 0。
type Trade struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Side      OrderSide `json:"side"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Fee       float64   `json:"fee"`
	Timestamp int64     `json:"timestamp"`
	PnL       float64   `json:"pnl"`
}
