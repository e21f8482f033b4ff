// Package topic implements the durable, shared-subscription pub/sub layer:
// per-run topic isolation, competing consumers within a named
// group, per-message acknowledgement, a stuck-message watchdog, and replay
// for newly-created consumer groups. Broker is the seam a non-embedded
// implementation (an external message broker) would satisfy; Memory is the
// one concrete implementation carried here.
package topic

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/evochora/evochora-sub010/wire"
)

// ErrQueueMissing is returned by Subscribe when the broker cannot confirm
// whether a consumer group's durable queue already exists, which requires
// refusing to start rather than guessing, since guessing wrong silently
// loses or duplicates historical messages.
var ErrQueueMissing = errors.New("topic: cannot confirm consumer group queue existence")

// AckToken identifies one received, not-yet-acknowledged message. It is
// opaque to callers; only the Reader that produced it can redeem it.
type AckToken struct {
	runID         string
	consumerGroup string
	messageID     string
}

// MessageID returns the identifier of the message this token acknowledges,
// useful for logging without exposing the token's other fields.
func (t AckToken) MessageID() string { return t.messageID }

// Broker creates per-run, per-consumer-group subscriptions over a single
// named topic. Every method is safe for concurrent use by multiple
// publishers and readers.
type Broker interface {
	// Publish announces a written batch on runID's topic. Every current and
	// future consumer group subscribed to runID receives its own copy.
	Publish(ctx context.Context, runID string, info wire.BatchInfo) error

	// Subscribe returns a Reader bound to consumerGroup within runID's
	// topic, creating the group's durable queue on first use. A brand new
	// group is seeded with every message retained so far (replay); an
	// existing group only sees messages it has not yet received.
	Subscribe(ctx context.Context, runID, consumerGroup string) (Reader, error)

	// Close stops the background watchdog and releases broker resources.
	Close() error
}

// Reader is one consumer's handle into a shared-subscription queue. Two
// Readers created with the same (runID, consumerGroup) compete for the same
// messages; a message delivered to one is not delivered to the other unless
// it times out unacknowledged and the watchdog redelivers it.
type Reader interface {
	// Receive blocks for up to timeout waiting for the next message. The
	// bool return is false on timeout or context cancellation, not an error.
	Receive(ctx context.Context, timeout time.Duration) (wire.BatchInfo, AckToken, bool, error)

	// Ack acknowledges a message returned by Receive. Acking a token that
	// has already been acknowledged or redelivered elsewhere is a no-op.
	Ack(ctx context.Context, token AckToken) error

	// Close releases this reader's resources without affecting the
	// consumer group's queue or other readers subscribed to it.
	Close() error
}
