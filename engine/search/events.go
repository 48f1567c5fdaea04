package search

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/pricepulse/pkg/natsutil"
)

// NATSEvents publishes search events on natsutil.SubjectSearchCompleted.
type NATSEvents struct {
	nc *nats.Conn
}

func NewNATSEvents(nc *nats.Conn) *NATSEvents {
	return &NATSEvents{nc: nc}
}

func (e *NATSEvents) SearchCompleted(ctx context.Context, ev SearchCompleted) error {
	return natsutil.Publish(ctx, e.nc, natsutil.SubjectSearchCompleted, ev)
}
