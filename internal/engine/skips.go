package engine

import (
	"time"
)

// SkipCode identifies why a tick did not produce a trade.
type SkipCode string

const (
	SkipNotRunning         SkipCode = "NOT_RUNNING"
	SkipAutoPaused         SkipCode = "AUTO_PAUSED"
	SkipSymbolDisabled     SkipCode = "SYMBOL_DISABLED"
	SkipInvalidPrice       SkipCode = "INVALID_PRICE"
	SkipMaxOpenTrades      SkipCode = "MAX_OPEN_TRADES"
	SkipCooldown           SkipCode = "COOLDOWN"
	SkipHourlyCap          SkipCode = "HOURLY_CAP"
	SkipWarmup             SkipCode = "WARMUP"
	SkipNoEligible         SkipCode = "NO_ELIGIBLE_STRATEGIES"
	SkipNoSignal           SkipCode = "NO_SIGNAL"
	SkipLowConfidence      SkipCode = "LOW_CONFIDENCE"
	SkipNegativeExpectancy SkipCode = "NEGATIVE_EXPECTANCY"
	SkipRegimeUnknown      SkipCode = "REGIME_UNKNOWN"
	SkipHeatBand           SkipCode = "HEAT_OUT_OF_BAND"
	SkipRegimeConfidence   SkipCode = "LOW_REGIME_CONFIDENCE"
	SkipVolatilityBand     SkipCode = "VOLATILITY_OUT_OF_BAND"
	SkipExtremeSlope       SkipCode = "EXTREME_SLOPE"
	SkipSpike              SkipCode = "SPIKE_DETECTED"
	SkipStake              SkipCode = "INVALID_STAKE"
	SkipDispatchFailed     SkipCode = "DISPATCH_FAILED"
	SkipVenueRejected      SkipCode = "VENUE_REJECTED"
)

// quietCodes repeat on almost every tick; consecutive repeats fold into
// one log entry.
var quietCodes = map[SkipCode]bool{
	SkipNotRunning:     true,
	SkipAutoPaused:     true,
	SkipSymbolDisabled: true,
	SkipMaxOpenTrades:  true,
	SkipCooldown:       true,
	SkipHourlyCap:      true,
	SkipWarmup:         true,
	SkipNoEligible:     true,
	SkipNoSignal:       true,
}

// IsQuiet reports whether c aggregates into a repeat count.
func (c SkipCode) IsQuiet() bool { return quietCodes[c] }

// SkipReason is one recorded skip.
type SkipReason struct {
	Time    time.Time `json:"ts"`
	Symbol  string    `json:"symbol"`
	Code    SkipCode  `json:"code"`
	Message string    `json:"message"`
	Repeat  int       `json:"repeat"`
}

// DefaultSkipLogSize bounds the skip log.
const DefaultSkipLogSize = 256

// skipLog is a bounded log of skip reasons, oldest first.
type skipLog struct {
	entries []SkipReason
	max     int
}

func newSkipLog(size int) *skipLog {
	if size <= 0 {
		size = DefaultSkipLogSize
	}
	return &skipLog{entries: make([]SkipReason, 0, size), max: size}
}

// add records r and reports whether it started a new entry.
func (l *skipLog) add(r SkipReason) bool {
	if r.Repeat == 0 {
		r.Repeat = 1
	}
	if n := len(l.entries); n > 0 && r.Code.IsQuiet() {
		last := &l.entries[n-1]
		if last.Code == r.Code && last.Symbol == r.Symbol {
			last.Repeat++
			last.Time = r.Time
			last.Message = r.Message
			return false
		}
	}
	if len(l.entries) >= l.max {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, r)
	return true
}

// last returns up to n of the newest entries, oldest first.
func (l *skipLog) last(n int) []SkipReason {
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]SkipReason, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}
