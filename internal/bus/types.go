package bus

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Topics used when engine events are published through a Producer.
const (
	TopicTrades    = "pulse.trades"
	TopicAutoPause = "pulse.autopause"
	TopicTradeLog  = "pulse.tradelog"
	TopicFeedAlert = "pulse.feed.alerts"
)

// BaseEvent contains fields common to all published events.
type BaseEvent struct {
	EventID       string    `json:"event_id"`
	Timestamp     time.Time `json:"ts"`
	SchemaVersion string    `json:"schema_version"`
	Producer      string    `json:"producer"`
	TraceID       string    `json:"trace_id,omitempty"`
}

// NewBaseEvent creates a new BaseEvent with generated IDs.
func NewBaseEvent(producer, schemaVersion string) BaseEvent {
	return BaseEvent{
		EventID:       uuid.New().String(),
		Timestamp:     time.Now(),
		SchemaVersion: schemaVersion,
		Producer:      producer,
		TraceID:       uuid.New().String()[:16],
	}
}

// Direction is the side of a fixed-payout contract.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// DurationUnit is the venue duration unit of a contract.
type DurationUnit string

const (
	UnitTicks   DurationUnit = "t"
	UnitSeconds DurationUnit = "s"
	UnitMinutes DurationUnit = "m"
	UnitHours   DurationUnit = "h"
)

// Span converts a duration in this unit into wall time. Tick durations have
// no fixed wall length and return 0.
func (u DurationUnit) Span(n int) time.Duration {
	switch u {
	case UnitSeconds:
		return time.Duration(n) * time.Second
	case UnitMinutes:
		return time.Duration(n) * time.Minute
	case UnitHours:
		return time.Duration(n) * time.Hour
	default:
		return 0
	}
}

// --- Inbound events (venue -> engine) ---

// Tick is a single price observation. Ticks for one symbol arrive in time
// order; symbols may interleave.
type Tick struct {
	Symbol string    `json:"symbol"`
	Quote  float64   `json:"quote"`
	Time   time.Time `json:"time"`
}

// TradeOutcome is raised when a dispatched contract settles.
type TradeOutcome struct {
	BaseEvent
	StrategyName  string  `json:"strategy_name"`
	ClientTradeID string  `json:"client_trade_id"`
	ContractID    string  `json:"contract_id,omitempty"`
	Symbol        string  `json:"symbol,omitempty"`
	Profit        float64 `json:"profit"`
}

// Venue error codes the engine reacts to.
const (
	CodeSymbolNotOffered = "SymbolNotOffered"
	CodeInvalidPrice     = "InvalidPrice"
	CodeInvalidStake     = "InvalidStake"
	CodeConnectionLost   = "ConnectionLost"
)

// OrderRejected is raised when the venue refuses a dispatched order.
type OrderRejected struct {
	BaseEvent
	Symbol        string `json:"symbol"`
	ClientTradeID string `json:"client_trade_id,omitempty"`
	ErrorCode     string `json:"error_code"`
	Message       string `json:"message"`
}

// --- Outbound commands (engine -> venue) ---

// OrderRequest is a fixed-payout contract purchase request.
type OrderRequest struct {
	BaseEvent
	ClientTradeID string          `json:"client_trade_id"`
	Symbol        string          `json:"symbol"`
	Stake         decimal.Decimal `json:"stake"`
	Direction     Direction       `json:"direction"`
	StrategyName  string          `json:"strategy_name"`
	Duration      int             `json:"duration"`
	DurationUnit  DurationUnit    `json:"duration_unit"`
	Currency      string          `json:"currency"`
}

// --- Published engine events ---

// TradeEvent is published when a trade is opened and again when it settles.
type TradeEvent struct {
	BaseEvent
	Phase         string    `json:"phase"` // opened|settled|cancelled
	ClientTradeID string    `json:"client_trade_id"`
	Symbol        string    `json:"symbol"`
	StrategyName  string    `json:"strategy_name"`
	Direction     Direction `json:"direction"`
	Stake         float64   `json:"stake"`
	Profit        float64   `json:"profit"`
	Confidence    float64   `json:"confidence"`
	Regime        string    `json:"regime"`
}

// AutoPauseEvent is published when a safety limit pauses the engine.
type AutoPauseEvent struct {
	BaseEvent
	Code    string  `json:"code"`
	Reason  string  `json:"reason"`
	Balance float64 `json:"balance"`
	DailyPL float64 `json:"daily_pl"`
}
