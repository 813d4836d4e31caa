package strategy

// Stats are cumulative outcome statistics for one strategy or symbol.
type Stats struct {
	Wins   int     `json:"wins"`
	Losses int     `json:"losses"`
	NetPL  float64 `json:"net_pl"`
}

// Record adds one settled trade. A zero profit counts as a loss.
func (s *Stats) Record(profit float64) {
	if profit > 0 {
		s.Wins++
	} else {
		s.Losses++
	}
	s.NetPL += profit
}

// Trades is the number of settled trades.
func (s Stats) Trades() int { return s.Wins + s.Losses }

// WinRate is wins / trades × 100, 0 without trades.
func (s Stats) WinRate() float64 {
	n := s.Trades()
	if n == 0 {
		return 0
	}
	return float64(s.Wins) / float64(n) * 100
}
