package execution

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-trading/pulse/internal/bus"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// DefaultPayoutRatio is the profit paid per unit stake on a win.
const DefaultPayoutRatio = 0.95

// PaperConfig configures a PaperBroker.
type PaperConfig struct {
	PayoutRatio    float64
	StartBalance   float64
	OfferedSymbols []string // empty offers every symbol
}

// PaperBroker simulates fixed-payout contracts against the live tick feed.
// Contracts open at the last seen quote and settle after their duration:
// tick durations after N further ticks of the symbol, time durations once
// tick time passes the expiry. Outcomes and rejections are delivered from
// OnTick, never from Dispatch.
//
// Thread-safe: all shared state is guarded by mu.
type PaperBroker struct {
	mu        sync.Mutex
	contracts map[string]*Contract // clientTradeID -> contract
	open      map[string][]*paperPosition
	lastQuote map[string]bus.Tick
	offered   map[string]struct{}
	pending   []bus.OrderRejected
	balance   decimal.Decimal
	payout    decimal.Decimal
	nextID    atomic.Int64
	sink      OutcomeSink
}

type paperPosition struct {
	contract  *Contract
	ticksLeft int
	expiresAt time.Time
}

var _ Dispatcher = (*PaperBroker)(nil)

// NewPaperBroker creates a paper broker.
func NewPaperBroker(cfg PaperConfig) *PaperBroker {
	if cfg.PayoutRatio <= 0 {
		cfg.PayoutRatio = DefaultPayoutRatio
	}
	pb := &PaperBroker{
		contracts: make(map[string]*Contract),
		open:      make(map[string][]*paperPosition),
		lastQuote: make(map[string]bus.Tick),
		balance:   decimal.NewFromFloat(cfg.StartBalance),
		payout:    decimal.NewFromFloat(cfg.PayoutRatio),
	}
	if len(cfg.OfferedSymbols) > 0 {
		pb.offered = make(map[string]struct{}, len(cfg.OfferedSymbols))
		for _, s := range cfg.OfferedSymbols {
			pb.offered[s] = struct{}{}
		}
	}
	pb.nextID.Store(1)
	log.Info().
		Float64("payout_ratio", cfg.PayoutRatio).
		Float64("start_balance", cfg.StartBalance).
		Int("offered_symbols", len(cfg.OfferedSymbols)).
		Msg("paper broker initialized")
	return pb
}

// SetSink sets where outcomes are delivered.
func (pb *PaperBroker) SetSink(s OutcomeSink) {
	pb.mu.Lock()
	pb.sink = s
	pb.mu.Unlock()
}

// Dispatch accepts req. Venue-style rejections (unknown symbol, no quote,
// bad stake) are queued and delivered on the next tick; only a duplicate
// client trade id is returned as an error.
func (pb *PaperBroker) Dispatch(_ context.Context, req bus.OrderRequest) error {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if _, seen := pb.contracts[req.ClientTradeID]; seen {
		log.Warn().Str("client_trade_id", req.ClientTradeID).Msg("paper broker: duplicate client trade id")
		return fmt.Errorf("duplicate client_trade_id: %s", req.ClientTradeID)
	}

	last, haveQuote := pb.lastQuote[req.Symbol]
	c := NewContract(req, last.Time)
	pb.contracts[req.ClientTradeID] = c

	if code, msg := pb.validate(req, haveQuote); code != "" {
		_ = c.Transition(EventReject, msg)
		pb.pending = append(pb.pending, bus.OrderRejected{
			BaseEvent:     bus.NewBaseEvent("paper-broker", "1.0"),
			Symbol:        req.Symbol,
			ClientTradeID: req.ClientTradeID,
			ErrorCode:     code,
			Message:       msg,
		})
		log.Info().Str("client_trade_id", req.ClientTradeID).Str("code", code).Msg("paper broker: order rejected")
		return nil
	}

	id := fmt.Sprintf("PAPER-%d", pb.nextID.Add(1)-1)
	if err := c.Transition(EventAccept, &OpenData{ContractID: id, EntryQuote: last.Quote, At: last.Time}); err != nil {
		return fmt.Errorf("paper broker accept transition: %w", err)
	}
	pos := &paperPosition{contract: c}
	if req.DurationUnit == bus.UnitTicks {
		pos.ticksLeft = max(req.Duration, 1)
	} else {
		pos.expiresAt = last.Time.Add(req.DurationUnit.Span(req.Duration))
	}
	pb.open[req.Symbol] = append(pb.open[req.Symbol], pos)
	pb.balance = pb.balance.Sub(req.Stake)

	log.Info().
		Str("client_trade_id", req.ClientTradeID).
		Str("contract_id", id).
		Str("symbol", req.Symbol).
		Str("direction", string(req.Direction)).
		Str("stake", req.Stake.StringFixed(2)).
		Float64("entry", last.Quote).
		Msg("paper broker: contract opened")
	return nil
}

func (pb *PaperBroker) validate(req bus.OrderRequest, haveQuote bool) (code, msg string) {
	if pb.offered != nil {
		if _, ok := pb.offered[req.Symbol]; !ok {
			return bus.CodeSymbolNotOffered, fmt.Sprintf("trading is not offered for %s", req.Symbol)
		}
	}
	if !haveQuote {
		return bus.CodeInvalidPrice, "no quote for " + req.Symbol
	}
	if !req.Stake.IsPositive() {
		return bus.CodeInvalidStake, "stake must be positive"
	}
	if req.Direction != bus.DirectionBuy && req.Direction != bus.DirectionSell {
		return bus.CodeInvalidPrice, "unknown direction " + string(req.Direction)
	}
	return "", ""
}

// OnTick records the quote, settles due contracts for the tick's symbol and
// delivers queued events to the sink.
func (pb *PaperBroker) OnTick(t bus.Tick) {
	pb.mu.Lock()
	pb.lastQuote[t.Symbol] = t
	rejected := pb.pending
	pb.pending = nil

	var outcomes []bus.TradeOutcome
	remaining := pb.open[t.Symbol][:0]
	for _, pos := range pb.open[t.Symbol] {
		var due bool
		if pos.ticksLeft > 0 {
			pos.ticksLeft--
			due = pos.ticksLeft == 0
		} else {
			due = !t.Time.Before(pos.expiresAt)
		}
		if !due {
			remaining = append(remaining, pos)
			continue
		}
		if o, ok := pb.settle(pos.contract, t); ok {
			outcomes = append(outcomes, o)
		}
	}
	if len(remaining) == 0 {
		delete(pb.open, t.Symbol)
	} else {
		pb.open[t.Symbol] = remaining
	}
	sink := pb.sink
	pb.mu.Unlock()

	if sink == nil {
		return
	}
	for _, r := range rejected {
		sink.HandleOrderRejected(r)
	}
	for _, o := range outcomes {
		sink.HandleTradeOutcome(o)
	}
}

// settle must be called while holding pb.mu.
func (pb *PaperBroker) settle(c *Contract, t bus.Tick) (bus.TradeOutcome, bool) {
	event, profit := EventLose, c.Stake.Neg()
	if Wins(c.Direction, c.EntryQuote, t.Quote) {
		event, profit = EventWin, c.Stake.Mul(pb.payout).Round(2)
	}
	if err := c.Transition(event, &SettleData{ExitQuote: t.Quote, Profit: profit, At: t.Time}); err != nil {
		log.Error().Err(err).Str("client_trade_id", c.ClientTradeID).Msg("paper broker: settle transition failed")
		return bus.TradeOutcome{}, false
	}
	pb.balance = pb.balance.Add(c.Stake).Add(profit)

	log.Info().
		Str("client_trade_id", c.ClientTradeID).
		Str("symbol", c.Symbol).
		Float64("entry", c.EntryQuote).
		Float64("exit", t.Quote).
		Str("profit", profit.StringFixed(2)).
		Msg("paper broker: contract settled")

	return bus.TradeOutcome{
		BaseEvent:     bus.NewBaseEvent("paper-broker", "1.0"),
		StrategyName:  c.StrategyName,
		ClientTradeID: c.ClientTradeID,
		ContractID:    c.ContractID,
		Symbol:        c.Symbol,
		Profit:        profit.InexactFloat64(),
	}, true
}

// GetContract returns the contract for a client trade id, or nil.
func (pb *PaperBroker) GetContract(clientTradeID string) *Contract {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.contracts[clientTradeID]
}

// OpenCount returns the number of unsettled contracts.
func (pb *PaperBroker) OpenCount() int {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	n := 0
	for _, ps := range pb.open {
		n += len(ps)
	}
	return n
}

// Balance returns the simulated account balance. Stakes are debited on open.
func (pb *PaperBroker) Balance() decimal.Decimal {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.balance
}

// Name returns the venue name.
func (pb *PaperBroker) Name() string {
	return "paper"
}
