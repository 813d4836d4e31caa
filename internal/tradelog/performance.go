package tradelog

import (
	"math"
	"sort"
)

// AllStrategies is the Strategy name of the summary over every entry.
const AllStrategies = "ALL"

// Performance summarizes settled trades. A trade with zero profit counts as
// a loss, as it does in the engine statistics.
type Performance struct {
	Strategy     string  `json:"strategy"`
	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"` // percent
	NetProfit    float64 `json:"net_profit"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	Expectancy   float64 `json:"expectancy"`    // profit per trade
	ProfitFactor float64 `json:"profit_factor"` // 0 without losing trades
	MaxDrawdown  float64 `json:"max_drawdown"`  // peak-to-trough of cumulative profit
	Sharpe       float64 `json:"sharpe"`        // per trade, not annualized
}

// Summarize computes the overall summary followed by one per strategy,
// sorted by name. Entries are taken in the order given.
func Summarize(entries []Entry) []Performance {
	byStrategy := make(map[string][]float64)
	all := make([]float64, 0, len(entries))
	for _, e := range entries {
		all = append(all, e.Profit)
		byStrategy[e.Strategy] = append(byStrategy[e.Strategy], e.Profit)
	}

	names := make([]string, 0, len(byStrategy))
	for name := range byStrategy {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Performance, 0, len(names)+1)
	out = append(out, summarize(AllStrategies, all))
	for _, name := range names {
		out = append(out, summarize(name, byStrategy[name]))
	}
	return out
}

func summarize(name string, profits []float64) Performance {
	p := Performance{Strategy: name, Trades: len(profits)}
	if len(profits) == 0 {
		return p
	}

	var grossWin, grossLoss float64
	for _, v := range profits {
		p.NetProfit += v
		if v > 0 {
			p.Wins++
			grossWin += v
		} else {
			p.Losses++
			grossLoss += v
		}
	}
	n := float64(p.Trades)
	p.WinRate = float64(p.Wins) / n * 100
	if p.Wins > 0 {
		p.AvgWin = grossWin / float64(p.Wins)
	}
	if p.Losses > 0 {
		p.AvgLoss = grossLoss / float64(p.Losses)
	}
	p.Expectancy = float64(p.Wins)/n*p.AvgWin + float64(p.Losses)/n*p.AvgLoss

	if grossLoss < 0 {
		p.ProfitFactor = grossWin / -grossLoss
	}

	p.MaxDrawdown = maxDrawdown(profits)
	p.Sharpe = sharpe(profits)
	return p
}

// maxDrawdown is the largest fall of cumulative profit from a prior peak.
// The curve starts at zero.
func maxDrawdown(profits []float64) float64 {
	var equity, peak, dd float64
	for _, v := range profits {
		equity += v
		peak = max(peak, equity)
		dd = max(dd, peak-equity)
	}
	return dd
}

// sharpe is mean/sample-stddev of per-trade profits; 0 below two trades or
// with no dispersion.
func sharpe(profits []float64) float64 {
	if len(profits) < 2 {
		return 0
	}
	var sum float64
	for _, v := range profits {
		sum += v
	}
	mean := sum / float64(len(profits))
	var sq float64
	for _, v := range profits {
		d := v - mean
		sq += d * d
	}
	sd := math.Sqrt(sq / float64(len(profits)-1))
	if sd == 0 {
		return 0
	}
	return mean / sd
}
