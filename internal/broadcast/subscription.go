package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pscheid92/htmxchat/internal/domain"
)

// Subscription is one receiver of the hub's fan-out. Messages published
// before Subscribe returned are never delivered to it.
type Subscription struct {
	id          uint64
	hub         *Hub
	sendChannel chan domain.ChatMessage
	dropped     atomic.Uint64
	closeOnce   sync.Once
}

// C returns the delivery channel. It is closed when the subscription is
// closed or the hub stops.
func (s *Subscription) C() <-chan domain.ChatMessage {
	return s.sendChannel
}

// Recv waits for the next message.
func (s *Subscription) Recv(ctx context.Context) (domain.ChatMessage, error) {
	select {
	case msg, ok := <-s.sendChannel:
		if !ok {
			return domain.ChatMessage{}, domain.ErrSubscriptionClosed
		}
		return msg, nil
	case <-ctx.Done():
		return domain.ChatMessage{}, ctx.Err()
	}
}

// Dropped returns how many messages this subscriber lost to lag-drop.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription from the hub. Safe to call more than once
// and after the hub has stopped.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.unsubscribe(s)
	})
}

// deliver is only called from the hub goroutine, which is the single sender
// on sendChannel. When the buffer is full the oldest message is discarded.
func (s *Subscription) deliver(msg domain.ChatMessage) (dropped bool) {
	select {
	case s.sendChannel <- msg:
		return false
	default:
	}

	select {
	case <-s.sendChannel:
		dropped = true
		s.dropped.Add(1)
	default:
		// the reader drained the buffer in the meantime
	}

	select {
	case s.sendChannel <- msg:
	default:
	}
	return dropped
}
