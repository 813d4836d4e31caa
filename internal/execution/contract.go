package execution

import (
	"fmt"
	"sync"
	"time"

	"github.com/nexus-trading/pulse/internal/bus"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ContractState is the lifecycle state of a fixed-payout contract.
type ContractState string

const (
	ContractPending  ContractState = "PENDING"
	ContractOpen     ContractState = "OPEN"
	ContractWon      ContractState = "WON"
	ContractLost     ContractState = "LOST"
	ContractRejected ContractState = "REJECTED"
)

// ContractEvent triggers a state transition.
type ContractEvent string

const (
	EventAccept ContractEvent = "ACCEPT"
	EventReject ContractEvent = "REJECT"
	EventWin    ContractEvent = "WIN"
	EventLose   ContractEvent = "LOSE"
)

// OpenData carries venue data on ACCEPT.
type OpenData struct {
	ContractID string
	EntryQuote float64
	At         time.Time
}

// SettleData carries the settlement on WIN or LOSE.
type SettleData struct {
	ExitQuote float64
	Profit    decimal.Decimal
	At        time.Time
}

// Contract tracks one purchased contract. All money values use
// shopspring/decimal. Safe for concurrent access.
type Contract struct {
	mu sync.Mutex

	ClientTradeID string
	ContractID    string
	Symbol        string
	StrategyName  string
	Direction     bus.Direction
	Stake         decimal.Decimal
	Duration      int
	DurationUnit  bus.DurationUnit
	Currency      string

	State      ContractState
	EntryQuote float64
	ExitQuote  float64
	Profit     decimal.Decimal
	Reason     string

	CreatedAt time.Time
	OpenedAt  time.Time
	SettledAt time.Time
}

type transition struct {
	from  ContractState
	event ContractEvent
}

// transitions is the authoritative transition table.
var transitions = map[transition]ContractState{
	{ContractPending, EventAccept}: ContractOpen,
	{ContractPending, EventReject}: ContractRejected,
	{ContractOpen, EventWin}:       ContractWon,
	{ContractOpen, EventLose}:      ContractLost,
}

// NewContract creates a PENDING contract for req.
func NewContract(req bus.OrderRequest, now time.Time) *Contract {
	return &Contract{
		ClientTradeID: req.ClientTradeID,
		Symbol:        req.Symbol,
		StrategyName:  req.StrategyName,
		Direction:     req.Direction,
		Stake:         req.Stake,
		Duration:      req.Duration,
		DurationUnit:  req.DurationUnit,
		Currency:      req.Currency,
		State:         ContractPending,
		Profit:        decimal.Zero,
		CreatedAt:     now,
	}
}

// Transition advances the contract.
//
// data depends on the event:
//   - EventAccept:          *OpenData
//   - EventWin, EventLose:  *SettleData
//   - EventReject:          string reason (optional)
func (c *Contract) Transition(event ContractEvent, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.State
	next, ok := transitions[transition{from: c.State, event: event}]
	if !ok {
		return fmt.Errorf("invalid transition: state=%s event=%s", c.State, event)
	}

	switch event {
	case EventAccept:
		od, ok := data.(*OpenData)
		if !ok || od == nil {
			return fmt.Errorf("event %s requires *OpenData, got %T", event, data)
		}
		c.ContractID = od.ContractID
		c.EntryQuote = od.EntryQuote
		c.OpenedAt = od.At

	case EventWin, EventLose:
		sd, ok := data.(*SettleData)
		if !ok || sd == nil {
			return fmt.Errorf("event %s requires *SettleData, got %T", event, data)
		}
		if event == EventWin && !sd.Profit.IsPositive() {
			return fmt.Errorf("winning settlement needs positive profit, got %s", sd.Profit)
		}
		c.ExitQuote = sd.ExitQuote
		c.Profit = sd.Profit
		c.SettledAt = sd.At

	case EventReject:
		if reason, ok := data.(string); ok {
			c.Reason = reason
		}
	}

	c.State = next

	log.Debug().
		Str("client_trade_id", c.ClientTradeID).
		Str("contract_id", c.ContractID).
		Str("symbol", c.Symbol).
		Str("prev_state", string(prev)).
		Str("event", string(event)).
		Str("new_state", string(c.State)).
		Str("profit", c.Profit.String()).
		Msg("contract state transition")

	return nil
}

// IsTerminal reports whether the contract is WON, LOST or REJECTED.
func (c *Contract) IsTerminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isTerminalLocked()
}

func (c *Contract) isTerminalLocked() bool {
	switch c.State {
	case ContractWon, ContractLost, ContractRejected:
		return true
	default:
		return false
	}
}

// GetState returns the current state.
func (c *Contract) GetState() ContractState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.State
}

// Wins reports whether exit beats entry in the contract's direction. Equal
// quotes lose.
func Wins(dir bus.Direction, entry, exit float64) bool {
	if dir == bus.DirectionSell {
		return exit < entry
	}
	return exit > entry
}
