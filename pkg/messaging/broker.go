// Package messaging abstracts the pub-sub fan-out used to push queue
// announcements to display and notification consumers.
package messaging

import (
	"context"
)

// Broker is the pub-sub transport. Delivery is fire-and-forget; the
// queue state machine never depends on a publish succeeding.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}
