package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nexus-trading/pulse/internal/bus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	outcomes []bus.TradeOutcome
	rejected []bus.OrderRejected
}

func (r *recordingSink) HandleTradeOutcome(o bus.TradeOutcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
}

func (r *recordingSink) HandleOrderRejected(o bus.OrderRejected) {
	r.mu.Lock()
	r.rejected = append(r.rejected, o)
	r.mu.Unlock()
}

func tick(symbol string, q float64, sec int) bus.Tick {
	return bus.Tick{Symbol: symbol, Quote: q, Time: t0.Add(time.Duration(sec) * time.Second)}
}

func newBroker(t *testing.T, cfg PaperConfig) (*PaperBroker, *recordingSink) {
	t.Helper()
	pb := NewPaperBroker(cfg)
	sink := &recordingSink{}
	pb.SetSink(sink)
	return pb, sink
}

func TestPaperBroker_TickDurationWin(t *testing.T) {
	pb, sink := newBroker(t, PaperConfig{StartBalance: 1000})
	ctx := context.Background()

	pb.OnTick(tick("R_100", 100, 0))
	require.NoError(t, pb.Dispatch(ctx, testRequest("p-1")))
	assert.Empty(t, sink.outcomes, "never settles inside Dispatch")
	assert.Equal(t, ContractOpen, pb.GetContract("p-1").GetState())
	assert.Equal(t, "990.00", pb.Balance().StringFixed(2))

	for i := 1; i <= 4; i++ {
		pb.OnTick(tick("R_100", 100+float64(i)*0.1, i))
	}
	assert.Empty(t, sink.outcomes)
	assert.Equal(t, 1, pb.OpenCount())

	pb.OnTick(tick("R_100", 100.5, 5))
	require.Len(t, sink.outcomes, 1)
	o := sink.outcomes[0]
	assert.Equal(t, "p-1", o.ClientTradeID)
	assert.Equal(t, "Momentum", o.StrategyName)
	assert.Equal(t, 9.5, o.Profit)
	assert.Equal(t, ContractWon, pb.GetContract("p-1").GetState())
	assert.Equal(t, "1009.50", pb.Balance().StringFixed(2))
	assert.Zero(t, pb.OpenCount())
}

func TestPaperBroker_SellLosesOnRise(t *testing.T) {
	pb, sink := newBroker(t, PaperConfig{})
	pb.OnTick(tick("R_100", 100, 0))
	req := testRequest("p-2")
	req.Direction = bus.DirectionSell
	req.Duration = 1
	require.NoError(t, pb.Dispatch(context.Background(), req))

	pb.OnTick(tick("R_100", 100.2, 1))
	require.Len(t, sink.outcomes, 1)
	assert.Equal(t, -10.0, sink.outcomes[0].Profit)
	assert.Equal(t, ContractLost, pb.GetContract("p-2").GetState())
}

func TestPaperBroker_TimeDuration(t *testing.T) {
	pb, sink := newBroker(t, PaperConfig{})
	pb.OnTick(tick("R_50", 50, 0))
	req := testRequest("p-3")
	req.Symbol = "R_50"
	req.Duration = 1
	req.DurationUnit = bus.UnitMinutes
	require.NoError(t, pb.Dispatch(context.Background(), req))

	pb.OnTick(tick("R_50", 51, 59))
	pb.OnTick(tick("R_100", 1, 120))
	assert.Empty(t, sink.outcomes, "other symbols do not settle it")

	pb.OnTick(tick("R_50", 51, 60))
	require.Len(t, sink.outcomes, 1)
	assert.Equal(t, 9.5, sink.outcomes[0].Profit)
}

func TestPaperBroker_RejectionsArriveOnNextTick(t *testing.T) {
	pb, sink := newBroker(t, PaperConfig{OfferedSymbols: []string{"R_100"}})
	ctx := context.Background()
	pb.OnTick(tick("R_100", 100, 0))

	bad := testRequest("p-4")
	bad.Symbol = "frxEURUSD"
	require.NoError(t, pb.Dispatch(ctx, bad))

	zero := testRequest("p-5")
	zero.Stake = decimal.Zero
	require.NoError(t, pb.Dispatch(ctx, zero))

	assert.Empty(t, sink.rejected)
	pb.OnTick(tick("R_100", 100, 1))
	require.Len(t, sink.rejected, 2)
	assert.Equal(t, bus.CodeSymbolNotOffered, sink.rejected[0].ErrorCode)
	assert.Equal(t, "frxEURUSD", sink.rejected[0].Symbol)
	assert.Equal(t, bus.CodeInvalidStake, sink.rejected[1].ErrorCode)
	assert.Equal(t, ContractRejected, pb.GetContract("p-4").GetState())
}

func TestPaperBroker_NoQuoteRejects(t *testing.T) {
	pb, sink := newBroker(t, PaperConfig{})
	require.NoError(t, pb.Dispatch(context.Background(), testRequest("p-6")))
	pb.OnTick(tick("R_100", 100, 0))
	require.Len(t, sink.rejected, 1)
	assert.Equal(t, bus.CodeInvalidPrice, sink.rejected[0].ErrorCode)
}

func TestPaperBroker_DuplicateID(t *testing.T) {
	pb, _ := newBroker(t, PaperConfig{})
	pb.OnTick(tick("R_100", 100, 0))
	require.NoError(t, pb.Dispatch(context.Background(), testRequest("dup")))
	assert.Error(t, pb.Dispatch(context.Background(), testRequest("dup")))
	assert.Equal(t, "paper", pb.Name())
}
