// Package tradelog records settled trades together with the feature
// snapshot captured when the trade was opened. The rows feed offline
// training of the regime and edge models.
package tradelog

import (
	"context"
	"errors"
	"time"

	"github.com/nexus-trading/pulse/internal/bus"
	"github.com/nexus-trading/pulse/internal/features"
)

// DayLayout is the key format for the per-day partition.
const DayLayout = "2006-01-02"

// Entry is one settled trade. Features is the entry-time snapshot and is
// copied on construction so later changes by the caller are not seen.
type Entry struct {
	Time       time.Time       `json:"ts"`
	Day        string          `json:"day"`
	Symbol     string          `json:"symbol"`
	Strategy   string          `json:"strategy"`
	Direction  bus.Direction   `json:"direction"`
	Stake      float64         `json:"stake"`
	Profit     float64         `json:"profit"`
	Regime     string          `json:"regime"`
	Confidence float64         `json:"confidence"`
	Edge       *float64        `json:"edge,omitempty"`
	Features   features.Vector `json:"features"`
}

// NewEntry builds an Entry keyed by the UTC day of at.
func NewEntry(at time.Time, symbol, strategyName string, dir bus.Direction, stake, profit float64, snapshot features.Vector) Entry {
	return Entry{
		Time:      at,
		Day:       at.UTC().Format(DayLayout),
		Symbol:    symbol,
		Strategy:  strategyName,
		Direction: dir,
		Stake:     stake,
		Profit:    profit,
		Features:  snapshot.Clone(),
	}
}

// Won reports whether the trade made money.
func (e Entry) Won() bool { return e.Profit > 0 }

// Logger is an append-only sink for settled trades.
type Logger interface {
	Log(ctx context.Context, e Entry) error
}

// Multi fans an entry out to several loggers. Every logger is called; the
// errors are joined.
type Multi []Logger

func (m Multi) Log(ctx context.Context, e Entry) error {
	var errs []error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.Log(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
