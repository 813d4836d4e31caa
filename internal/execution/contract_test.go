package execution

import (
	"testing"
	"time"

	"github.com/nexus-trading/pulse/internal/bus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func testRequest(id string) bus.OrderRequest {
	return bus.OrderRequest{
		BaseEvent:     bus.NewBaseEvent("test", "1.0"),
		ClientTradeID: id,
		Symbol:        "R_100",
		Stake:         decimal.NewFromFloat(10),
		Direction:     bus.DirectionBuy,
		StrategyName:  "Momentum",
		Duration:      5,
		DurationUnit:  bus.UnitTicks,
		Currency:      "USD",
	}
}

func TestContract_WinPath(t *testing.T) {
	c := NewContract(testRequest("c-1"), t0)
	assert.Equal(t, ContractPending, c.GetState())

	require.NoError(t, c.Transition(EventAccept, &OpenData{ContractID: "X1", EntryQuote: 100, At: t0}))
	assert.Equal(t, ContractOpen, c.GetState())
	assert.Equal(t, "X1", c.ContractID)
	assert.False(t, c.IsTerminal())

	require.NoError(t, c.Transition(EventWin, &SettleData{ExitQuote: 101, Profit: decimal.NewFromFloat(9.5), At: t0.Add(5 * time.Second)}))
	assert.Equal(t, ContractWon, c.GetState())
	assert.True(t, c.IsTerminal())
	assert.True(t, c.Profit.Equal(decimal.NewFromFloat(9.5)))
}

func TestContract_Reject(t *testing.T) {
	c := NewContract(testRequest("c-2"), t0)
	require.NoError(t, c.Transition(EventReject, "market closed"))
	assert.Equal(t, ContractRejected, c.GetState())
	assert.Equal(t, "market closed", c.Reason)
	assert.True(t, c.IsTerminal())
}

func TestContract_InvalidTransitions(t *testing.T) {
	c := NewContract(testRequest("c-3"), t0)
	assert.Error(t, c.Transition(EventWin, &SettleData{Profit: decimal.NewFromInt(1)}), "cannot settle before open")
	assert.Error(t, c.Transition(EventAccept, nil), "accept needs data")
	assert.Equal(t, ContractPending, c.GetState(), "failed transitions leave state unchanged")

	require.NoError(t, c.Transition(EventAccept, &OpenData{ContractID: "X3", EntryQuote: 1}))
	assert.Error(t, c.Transition(EventWin, &SettleData{Profit: decimal.NewFromInt(-1)}), "a win must pay")
	require.NoError(t, c.Transition(EventLose, &SettleData{Profit: decimal.NewFromInt(-10)}))
	assert.Error(t, c.Transition(EventLose, &SettleData{}), "terminal")
}

func TestWins(t *testing.T) {
	assert.True(t, Wins(bus.DirectionBuy, 100, 100.1))
	assert.False(t, Wins(bus.DirectionBuy, 100, 100))
	assert.True(t, Wins(bus.DirectionSell, 100, 99.9))
	assert.False(t, Wins(bus.DirectionSell, 100, 100))
}
