// Package exchange specifies the Exchange Connector capability set the core
// consumes (spec §6). The core never depends on a concrete exchange SDK;
// it depends only on this interface, satisfied by binanceconn/bitgetconn
// (or a test double).
package exchange

import (
	"context"
	"time"

	"ai-trading-core/internal/model"

	"github.com/shopspring/decimal"
)

// OrderSide mirrors model.PositionSide at the order-placement boundary.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType is restricted to market and limit per spec §1 Non-goals.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Order is the connector's view of a placed order.
type Order struct {
	ID        string
	Symbol    string
	Side      OrderSide
	Type      OrderType
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	FilledQty decimal.Decimal
	Status    string
}

// FillRatio is FilledQty/Quantity, used by the Position Manager's
// minimum-fill-ratio check (spec §4.7). Zero when Quantity is zero.
func (o Order) FillRatio() decimal.Decimal {
	if o.Quantity.IsZero() {
		return decimal.Zero
	}
	return o.FilledQty.Div(o.Quantity)
}

// Ticker is the connector's {lastPrice, ...} snapshot.
type Ticker struct {
	Symbol    string
	LastPrice decimal.Decimal
	Timestamp time.Time
}

// ExchangePosition is the exchange-native position view used by
// recoverPositions/refreshPosition reconciliation (spec §4.7).
type ExchangePosition struct {
	Symbol       string
	Side         model.PositionSide
	Quantity     decimal.Decimal
	EntryPrice   decimal.Decimal
	MarkPrice    decimal.Decimal
}

// SymbolInfo carries the exchange's step-size/minimum-quantity rules used
// when rounding position size (spec §4.7 step 3).
type SymbolInfo struct {
	Symbol         string
	StepSize       decimal.Decimal
	MinQuantity    decimal.Decimal
	MinNotional    decimal.Decimal
}

// CandlestickCallback/TickerCallback/OrderUpdateCallback are invoked from
// the connector's own read-pump goroutine; implementations MUST NOT block.
type CandlestickCallback func(model.Candlestick)
type TickerCallback func(Ticker)
type OrderUpdateCallback func(Order)

// Connector is the capability set spec §6 requires of every exchange
// integration. Implementations MUST be safe for concurrent use since
// connectors are shared across traders on the same exchange (spec §5).
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	GetCandles(ctx context.Context, symbol string, interval model.CandlestickInterval, limit int) ([]model.Candlestick, error)
	GetTicker(ctx context.Context, symbol string) (Ticker, error)
	GetBalance(ctx context.Context) (map[string]decimal.Decimal, error)
	GetPositions(ctx context.Context) ([]ExchangePosition, error)
	GetSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)

	PlaceOrder(ctx context.Context, symbol string, side OrderSide, typ OrderType, quantity, price decimal.Decimal) (Order, error)
	CancelOrder(ctx context.Context, id, symbol string) (Order, error)
	GetOrder(ctx context.Context, id, symbol string) (Order, error)

	SubscribeCandlesticks(symbol string, interval model.CandlestickInterval, cb CandlestickCallback) (string, error)
	SubscribeTicker(symbol string, cb TickerCallback) (string, error)
	SubscribeOrderUpdates(cb OrderUpdateCallback) (string, error)
	Unsubscribe(subscriptionID string) error
}
