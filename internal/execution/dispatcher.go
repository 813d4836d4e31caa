// Package execution places contracts with a venue and reports how they
// settle.
package execution

import (
	"context"

	"github.com/nexus-trading/pulse/internal/bus"
)

// Dispatcher places an order. Dispatch returns once the request is handed
// to the venue; outcomes and rejections arrive later through an
// OutcomeSink, never from inside Dispatch.
type Dispatcher interface {
	Dispatch(ctx context.Context, req bus.OrderRequest) error
}

// OutcomeSink receives venue events for dispatched orders.
type OutcomeSink interface {
	HandleTradeOutcome(o bus.TradeOutcome)
	HandleOrderRejected(r bus.OrderRejected)
}
