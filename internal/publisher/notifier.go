// Package publisher fans car changes out to the event topic and the catalog cache.
package publisher

import (
	"context"

	"go.uber.org/zap"

	"github.com/neorise/storefront/internal/car"
)

// Invalidator drops cached catalog entries for a car.
type Invalidator interface {
	Invalidate(ctx context.Context, carID string) error
}

// Notifier announces car changes. Every step is best effort and only logged on failure.
type Notifier struct {
	pub    car.Publisher
	topic  string
	cache  Invalidator
	clock  car.Clock
	logger *zap.Logger
}

// NewNotifier builds a Notifier. pub and cache may be nil.
func NewNotifier(pub car.Publisher, topic string, cache Invalidator, clock car.Clock, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{pub: pub, topic: topic, cache: cache, clock: clock, logger: logger}
}

// CarChanged invalidates the cache for carID and publishes a ChangeEvent.
func (n *Notifier) CarChanged(ctx context.Context, kind car.ChangeKind, carID, stockNo string) {
	if n == nil {
		return
	}
	if n.cache != nil {
		if err := n.cache.Invalidate(ctx, carID); err != nil {
			n.logger.Warn("catalog cache invalidation failed", zap.String("car_id", carID), zap.Error(err))
		}
	}
	if n.pub == nil || n.topic == "" {
		return
	}
	ev := car.ChangeEvent{Kind: kind, CarID: carID, StockNo: stockNo, At: n.clock.Now()}
	id, err := n.pub.Publish(ctx, n.topic, ev)
	if err != nil {
		n.logger.Warn("change event publish failed",
			zap.String("kind", string(kind)),
			zap.String("car_id", carID),
			zap.Error(err))
		return
	}
	n.logger.Debug("change event published", zap.String("kind", string(kind)), zap.String("message_id", id))
}
