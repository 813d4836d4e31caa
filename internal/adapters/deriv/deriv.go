// Package deriv is a narrow websocket adapter for the Deriv API: it streams
// ticks in, buys rise/fall contracts and reports how they settle.
package deriv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nexus-trading/pulse/internal/bus"
	"github.com/nexus-trading/pulse/internal/execution"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Deriv websocket adapter: ticks, buy, proposal_open_contract
// ---------------------------------------------------------------------------

// Config configures the adapter.
type Config struct {
	URL            string        `yaml:"url" default:"wss://ws.derivws.com/websockets/v3"`
	AppID          string        `yaml:"app_id" default:"1089"`
	Token          string        `yaml:"token"`
	Symbols        []string      `yaml:"symbols"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"1s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
}

// ErrNotConnected is returned by Dispatch while the socket is down.
var ErrNotConnected = errors.New("deriv: not connected")

const (
	maxReconnectDelay = 30 * time.Second
	readTimeout       = 60 * time.Second
	producerName      = "deriv-adapter"
	schemaVersion     = "1"
)

// Adapter implements execution.Dispatcher over one websocket.
type Adapter struct {
	cfg Config

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu        sync.Mutex
	sink      execution.OutcomeSink
	pending   map[int64]*execution.Contract // req_id -> contract awaiting buy ack
	contracts map[int64]*execution.Contract // venue contract_id -> open contract

	ticks     chan bus.Tick
	send      func(v any) error
	nextReqID atomic.Int64

	connected  atomic.Bool
	received   atomic.Int64
	reconnects atomic.Int64
}

var _ execution.Dispatcher = (*Adapter)(nil)

// New creates an adapter. Call Start to connect.
func New(cfg Config) *Adapter {
	a := &Adapter{
		cfg:       cfg,
		pending:   make(map[int64]*execution.Contract),
		contracts: make(map[int64]*execution.Contract),
		ticks:     make(chan bus.Tick, 1024),
	}
	a.send = a.writeJSON
	return a
}

// SetSink sets where outcomes and rejections are delivered.
func (a *Adapter) SetSink(s execution.OutcomeSink) {
	a.mu.Lock()
	a.sink = s
	a.mu.Unlock()
}

// Name identifies the venue.
func (a *Adapter) Name() string { return "deriv" }

// Start runs the connect/read loop until ctx is cancelled. The returned
// channel is closed when the loop exits.
func (a *Adapter) Start(ctx context.Context) <-chan bus.Tick {
	go a.runLoop(ctx)
	return a.ticks
}

func (a *Adapter) runLoop(ctx context.Context) {
	defer close(a.ticks)
	delay := a.cfg.ReconnectDelay
	if delay <= 0 {
		delay = time.Second
	}

	for {
		if ctx.Err() != nil {
			a.disconnect()
			return
		}
		if err := a.connect(ctx); err != nil {
			a.reconnects.Add(1)
			log.Warn().Err(err).Dur("retry_in", delay).Msg("deriv: connection failed")
			select {
			case <-time.After(delay):
				delay = min(delay*2, maxReconnectDelay)
			case <-ctx.Done():
				return
			}
			continue
		}
		delay = a.cfg.ReconnectDelay
		if delay <= 0 {
			delay = time.Second
		}

		if err := a.subscribe(); err != nil {
			log.Warn().Err(err).Msg("deriv: subscribe failed")
			a.disconnect()
			a.failPending()
			continue
		}
		a.readLoop(ctx)
		a.disconnect()
		if ctx.Err() == nil {
			a.failPending()
		}
	}
}

// Endpoint returns the websocket URL with the app id attached.
func (a *Adapter) Endpoint() (string, error) {
	u, err := url.Parse(a.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("deriv: parse url: %w", err)
	}
	if a.cfg.AppID != "" {
		q := u.Query()
		q.Set("app_id", a.cfg.AppID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (a *Adapter) connect(ctx context.Context) error {
	endpoint, err := a.Endpoint()
	if err != nil {
		return err
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("deriv: dial: %w", err)
	}

	a.writeMu.Lock()
	a.conn = conn
	a.writeMu.Unlock()
	a.connected.Store(true)
	log.Info().Str("url", a.cfg.URL).Msg("deriv: connected")
	return nil
}

func (a *Adapter) disconnect() {
	a.writeMu.Lock()
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	a.writeMu.Unlock()
	a.connected.Store(false)
}

// subscribe authorizes when a token is set, subscribes to every symbol and
// resumes updates for contracts bought on an earlier connection.
func (a *Adapter) subscribe() error {
	if a.cfg.Token != "" {
		if err := a.send(map[string]any{"authorize": a.cfg.Token, "req_id": a.nextReqID.Add(1)}); err != nil {
			return err
		}
	}
	for _, s := range a.cfg.Symbols {
		if err := a.send(map[string]any{"ticks": s, "subscribe": 1, "req_id": a.nextReqID.Add(1)}); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
		log.Info().Str("symbol", s).Msg("deriv: subscribed to ticks")
	}

	a.mu.Lock()
	open := make(map[int64]*execution.Contract, len(a.contracts))
	for id, c := range a.contracts {
		open[id] = c
	}
	a.mu.Unlock()
	for id, c := range open {
		if err := a.watchContract(id, c); err != nil {
			return fmt.Errorf("resubscribe contract %d: %w", id, err)
		}
	}
	if len(open) > 0 {
		log.Info().Int("contracts", len(open)).Msg("deriv: resumed open contracts")
	}
	return nil
}

func (a *Adapter) watchContract(id int64, c *execution.Contract) error {
	return a.send(map[string]any{
		"proposal_open_contract": 1,
		"contract_id":            id,
		"subscribe":              1,
		"passthrough":            passthrough{ClientTradeID: c.ClientTradeID, Strategy: c.StrategyName},
		"req_id":                 a.nextReqID.Add(1),
	})
}

// failPending rejects buys whose acknowledgement was lost with the
// connection so the engine frees their slots.
func (a *Adapter) failPending() {
	a.mu.Lock()
	lost := make([]*execution.Contract, 0, len(a.pending))
	for id, c := range a.pending {
		lost = append(lost, c)
		delete(a.pending, id)
	}
	a.mu.Unlock()

	const reason = "connection lost before the buy was acknowledged"
	for _, c := range lost {
		if err := c.Transition(execution.EventReject, reason); err != nil {
			log.Warn().Err(err).Str("client_trade_id", c.ClientTradeID).Msg("deriv: reject transition")
		}
		a.deliverReject(bus.OrderRejected{
			BaseEvent:     bus.NewBaseEvent(producerName, schemaVersion),
			Symbol:        c.Symbol,
			ClientTradeID: c.ClientTradeID,
			ErrorCode:     bus.CodeConnectionLost,
			Message:       reason,
		})
	}
}

func (a *Adapter) writeJSON(v any) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.conn == nil {
		return ErrNotConnected
	}
	a.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return a.conn.WriteJSON(v)
}

func (a *Adapter) readLoop(ctx context.Context) {
	a.writeMu.Lock()
	conn := a.conn
	a.writeMu.Unlock()
	if conn == nil {
		return
	}

	done := make(chan struct{})
	defer close(done)
	go a.pingLoop(ctx, done)

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("deriv: read error, reconnecting")
			}
			return
		}
		a.received.Add(1)
		a.handleMessage(ctx, data)
	}
}

func (a *Adapter) pingLoop(ctx context.Context, done <-chan struct{}) {
	interval := a.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			a.disconnect()
			return
		case <-done:
			return
		case <-t.C:
			if err := a.send(map[string]any{"ping": 1}); err != nil {
				log.Debug().Err(err).Msg("deriv: ping failed")
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// Dispatch sends a buy request. The outcome arrives later through the sink.
func (a *Adapter) Dispatch(_ context.Context, req bus.OrderRequest) error {
	if !a.connected.Load() {
		return ErrNotConnected
	}
	id := a.nextReqID.Add(1)
	a.mu.Lock()
	a.pending[id] = execution.NewContract(req, time.Now().UTC())
	a.mu.Unlock()

	if err := a.send(buyRequest(req, id)); err != nil {
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
		return fmt.Errorf("deriv: send buy: %w", err)
	}
	log.Debug().Str("client_trade_id", req.ClientTradeID).Int64("req_id", id).Msg("deriv: buy sent")
	return nil
}

// ContractType maps a direction to the rise/fall contract type.
func ContractType(d bus.Direction) string {
	if d == bus.DirectionSell {
		return "PUT"
	}
	return "CALL"
}

func buyRequest(req bus.OrderRequest, reqID int64) map[string]any {
	amount := json.Number(req.Stake.StringFixed(2))
	return map[string]any{
		"buy":   1,
		"price": amount,
		"parameters": map[string]any{
			"amount":        amount,
			"basis":         "stake",
			"contract_type": ContractType(req.Direction),
			"currency":      req.Currency,
			"duration":      req.Duration,
			"duration_unit": string(req.DurationUnit),
			"symbol":        req.Symbol,
		},
		"passthrough": passthrough{ClientTradeID: req.ClientTradeID, Strategy: req.StrategyName},
		"req_id":      reqID,
	}
}

// ---------------------------------------------------------------------------
// Inbound messages
// ---------------------------------------------------------------------------

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type passthrough struct {
	ClientTradeID string `json:"client_trade_id"`
	Strategy      string `json:"strategy"`
}

type envelope struct {
	MsgType     string       `json:"msg_type"`
	ReqID       int64        `json:"req_id"`
	Error       *apiError    `json:"error"`
	Passthrough *passthrough `json:"passthrough"`
	Tick        *struct {
		Symbol string  `json:"symbol"`
		Quote  float64 `json:"quote"`
		Epoch  int64   `json:"epoch"`
	} `json:"tick"`
	Buy *struct {
		ContractID int64   `json:"contract_id"`
		BuyPrice   float64 `json:"buy_price"`
	} `json:"buy"`
	Contract *struct {
		ContractID int64   `json:"contract_id"`
		IsSold     int     `json:"is_sold"`
		Profit     float64 `json:"profit"`
		Status     string  `json:"status"`
		Underlying string  `json:"underlying"`
		EntryTick  float64 `json:"entry_tick"`
		ExitTick   float64 `json:"exit_tick"`
		SellTime   int64   `json:"sell_time"`
	} `json:"proposal_open_contract"`
}

// MapErrorCode translates a venue error into the codes the engine reacts to.
func MapErrorCode(code, message string) string {
	m := strings.ToLower(message)
	switch {
	case code == "InvalidSymbol", strings.Contains(m, "not offered"):
		return bus.CodeSymbolNotOffered
	case strings.Contains(code, "Price"), strings.Contains(m, "price"):
		return bus.CodeInvalidPrice
	case strings.Contains(code, "Stake"), strings.Contains(m, "stake"):
		return bus.CodeInvalidStake
	default:
		return code
	}
}

func (a *Adapter) handleMessage(ctx context.Context, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Debug().Err(err).Msg("deriv: undecodable message")
		return
	}

	switch env.MsgType {
	case "tick":
		a.onTick(ctx, env)
	case "buy":
		a.onBuy(env)
	case "proposal_open_contract":
		a.onContract(env)
	default:
		if env.Error != nil {
			log.Warn().Str("msg_type", env.MsgType).Str("code", env.Error.Code).Str("message", env.Error.Message).Msg("deriv: api error")
		}
	}
}

func (a *Adapter) onTick(ctx context.Context, env envelope) {
	if env.Error != nil {
		log.Warn().Str("code", env.Error.Code).Str("message", env.Error.Message).Msg("deriv: tick subscription error")
		if sym := symbolFromError(env.Error); sym != "" && MapErrorCode(env.Error.Code, env.Error.Message) == bus.CodeSymbolNotOffered {
			a.deliverReject(bus.OrderRejected{
				BaseEvent: bus.NewBaseEvent(producerName, schemaVersion),
				Symbol:    sym,
				ErrorCode: bus.CodeSymbolNotOffered,
				Message:   env.Error.Message,
			})
		}
		return
	}
	if env.Tick == nil {
		return
	}
	t := bus.Tick{Symbol: env.Tick.Symbol, Quote: env.Tick.Quote, Time: time.Unix(env.Tick.Epoch, 0).UTC()}
	select {
	case a.ticks <- t:
	case <-ctx.Done():
	}
}

func (a *Adapter) onBuy(env envelope) {
	a.mu.Lock()
	c, ok := a.pending[env.ReqID]
	delete(a.pending, env.ReqID)
	a.mu.Unlock()
	if !ok && env.Passthrough != nil {
		c = execution.NewContract(bus.OrderRequest{
			ClientTradeID: env.Passthrough.ClientTradeID,
			StrategyName:  env.Passthrough.Strategy,
		}, time.Now().UTC())
		ok = true
	}
	if !ok {
		log.Warn().Int64("req_id", env.ReqID).Msg("deriv: buy response for unknown request")
		return
	}

	if env.Error != nil {
		if err := c.Transition(execution.EventReject, env.Error.Message); err != nil {
			log.Warn().Err(err).Str("client_trade_id", c.ClientTradeID).Msg("deriv: reject transition")
		}
		a.deliverReject(bus.OrderRejected{
			BaseEvent:     bus.NewBaseEvent(producerName, schemaVersion),
			Symbol:        c.Symbol,
			ClientTradeID: c.ClientTradeID,
			ErrorCode:     MapErrorCode(env.Error.Code, env.Error.Message),
			Message:       env.Error.Message,
		})
		return
	}
	if env.Buy == nil {
		return
	}

	err := c.Transition(execution.EventAccept, &execution.OpenData{
		ContractID: strconv.FormatInt(env.Buy.ContractID, 10),
		At:         time.Now().UTC(),
	})
	if err != nil {
		log.Warn().Err(err).Str("client_trade_id", c.ClientTradeID).Msg("deriv: accept transition")
		return
	}
	a.mu.Lock()
	a.contracts[env.Buy.ContractID] = c
	a.mu.Unlock()
	log.Info().
		Str("client_trade_id", c.ClientTradeID).
		Int64("contract_id", env.Buy.ContractID).
		Float64("buy_price", env.Buy.BuyPrice).
		Msg("deriv: contract bought")

	if err := a.watchContract(env.Buy.ContractID, c); err != nil {
		log.Error().Err(err).Int64("contract_id", env.Buy.ContractID).Msg("deriv: contract subscription failed")
	}
}

func (a *Adapter) onContract(env envelope) {
	if env.Error != nil {
		log.Warn().Str("code", env.Error.Code).Str("message", env.Error.Message).Msg("deriv: contract update error")
		return
	}
	poc := env.Contract
	if poc == nil || poc.IsSold != 1 {
		return
	}

	a.mu.Lock()
	c, ok := a.contracts[poc.ContractID]
	delete(a.contracts, poc.ContractID)
	sink := a.sink
	a.mu.Unlock()
	if !ok {
		// Repeated sold updates arrive after the first one.
		return
	}

	settledAt := time.Now().UTC()
	if poc.SellTime > 0 {
		settledAt = time.Unix(poc.SellTime, 0).UTC()
	}
	profit := decimal.NewFromFloat(poc.Profit)
	event := execution.EventLose
	if profit.IsPositive() {
		event = execution.EventWin
	}
	settle := &execution.SettleData{ExitQuote: poc.ExitTick, Profit: profit, At: settledAt}
	if err := c.Transition(event, settle); err != nil {
		log.Warn().Err(err).Str("client_trade_id", c.ClientTradeID).Msg("deriv: settle transition")
	}

	out := bus.TradeOutcome{
		BaseEvent:     bus.NewBaseEvent(producerName, schemaVersion),
		StrategyName:  c.StrategyName,
		ClientTradeID: c.ClientTradeID,
		ContractID:    strconv.FormatInt(poc.ContractID, 10),
		Symbol:        c.Symbol,
		Profit:        poc.Profit,
	}
	if out.Symbol == "" {
		out.Symbol = poc.Underlying
	}
	log.Info().
		Str("client_trade_id", out.ClientTradeID).
		Str("status", poc.Status).
		Float64("profit", poc.Profit).
		Msg("deriv: contract settled")
	if sink != nil {
		sink.HandleTradeOutcome(out)
	}
}

func (a *Adapter) deliverReject(r bus.OrderRejected) {
	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()
	log.Warn().Str("symbol", r.Symbol).Str("code", r.ErrorCode).Str("message", r.Message).Msg("deriv: order rejected")
	if sink != nil {
		sink.HandleOrderRejected(r)
	}
}

// symbolFromError reads the symbol a tick subscription error refers to.
func symbolFromError(e *apiError) string {
	const marker = "symbol "
	i := strings.Index(e.Message, marker)
	if i < 0 {
		return ""
	}
	rest := strings.Fields(e.Message[i+len(marker):])
	if len(rest) == 0 {
		return ""
	}
	return strings.Trim(rest[0], ".:,'\"")
}

// Stats reports connection counters.
func (a *Adapter) Stats() map[string]any {
	a.mu.Lock()
	open := len(a.contracts)
	a.mu.Unlock()
	return map[string]any{
		"connected":      a.connected.Load(),
		"messages":       a.received.Load(),
		"reconnects":     a.reconnects.Load(),
		"open_contracts": open,
	}
}
