package messaging

import (
	"context"
	"sync"

	"github.com/glimte/mqmate-go/contracts"
)

// Receipt tracks the outcome of one publish request. Every accepted publish
// resolves exactly once: successful delivery resolves with a nil error,
// permanent failure with the terminal error. A publish that succeeds directly
// returns an already-resolved Receipt.
type Receipt struct {
	messageID string
	topic     string

	mu       sync.Mutex
	resolved bool
	err      error
	done     chan struct{}
}

func newReceipt(msg contracts.Message) *Receipt {
	return &Receipt{
		messageID: msg.ID,
		topic:     msg.Topic,
		done:      make(chan struct{}),
	}
}

func newResolvedReceipt(msg contracts.Message) *Receipt {
	r := newReceipt(msg)
	r.resolve(nil)
	return r
}

// MessageID returns the identifier of the tracked message
func (r *Receipt) MessageID() string {
	return r.messageID
}

// Topic returns the destination topic of the tracked message
func (r *Receipt) Topic() string {
	return r.topic
}

// Done returns a channel that is closed once the outcome is known
func (r *Receipt) Done() <-chan struct{} {
	return r.done
}

// Resolved reports whether the outcome is already known
func (r *Receipt) Resolved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved
}

// Err returns the delivery outcome: nil for success, the terminal error for
// permanent failure, nil while the delivery is still pending. Call after
// Done is closed for an authoritative answer.
func (r *Receipt) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Wait blocks until the outcome is known or the context expires. It returns
// the delivery outcome, or the context error if that fires first; the
// delivery itself keeps running regardless.
func (r *Receipt) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolve records the outcome. Only the first call takes effect.
func (r *Receipt) resolve(err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved {
		return false
	}

	r.resolved = true
	r.err = err
	close(r.done)
	return true
}
