package broadcast

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/htmxchat/internal/adapter/metrics"
	"github.com/pscheid92/htmxchat/internal/domain"
)

const (
	// DefaultBufferSize is the per-subscriber buffer before lag-drop kicks in.
	DefaultBufferSize = 128

	commandBufferSize = 256
	stopTimeout       = 10 * time.Second
)

// hubCmd is the command interface for the Hub actor.
type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type publishCmd struct {
	baseHubCmd
	message domain.ChatMessage
	ack     chan struct{}
}

type subscribeCmd struct {
	baseHubCmd
	replyChannel chan *Subscription
}

type unsubscribeCmd struct {
	baseHubCmd
	subscription *Subscription
}

type subscriberCountCmd struct {
	baseHubCmd
	replyChannel chan int
}

type stopCmd struct {
	baseHubCmd
}

// Hub fans every published chat message out to all live subscriptions.
type Hub struct {
	cmdCh       chan hubCmd
	done        chan struct{}
	stopOnce    sync.Once
	clock       clockwork.Clock
	metrics     *metrics.ChatMetrics
	bufferSize  int
	stopTimeout time.Duration

	// owned by the run goroutine
	subscribers map[uint64]*Subscription
	nextID      uint64
}

// NewHub creates and starts a hub. bufferSize bounds each subscriber's
// backlog; values below 1 fall back to DefaultBufferSize.
func NewHub(bufferSize int, m *metrics.ChatMetrics, clock clockwork.Clock) *Hub {
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}
	h := &Hub{
		cmdCh:       make(chan hubCmd, commandBufferSize),
		done:        make(chan struct{}),
		clock:       clock,
		metrics:     m,
		bufferSize:  bufferSize,
		stopTimeout: stopTimeout,
		subscribers: make(map[uint64]*Subscription),
	}
	go h.run()
	return h
}

// Publish hands a message to the hub and returns once it sits in every
// subscriber's buffer. Delivery never blocks on a slow subscriber, so the
// caller only waits for the hub loop itself.
func (h *Hub) Publish(msg domain.ChatMessage) error {
	if !h.Running() {
		return domain.ErrHubStopped
	}

	ack := make(chan struct{})
	select {
	case h.cmdCh <- publishCmd{message: msg, ack: ack}:
	case <-h.done:
		return domain.ErrHubStopped
	}

	select {
	case <-ack:
		return nil
	case <-h.done:
		return domain.ErrHubStopped
	}
}

// Subscribe registers a new receiver. Only messages published after this
// call returns are delivered to it.
func (h *Hub) Subscribe() (*Subscription, error) {
	replyCh := make(chan *Subscription, 1)
	select {
	case h.cmdCh <- subscribeCmd{replyChannel: replyCh}:
	case <-h.done:
		return nil, domain.ErrHubStopped
	}

	select {
	case sub := <-replyCh:
		return sub, nil
	case <-h.done:
		return nil, domain.ErrHubStopped
	}
}

// SubscriberCount returns the number of live subscriptions, or -1 once the
// hub has stopped.
func (h *Hub) SubscriberCount() int {
	replyCh := make(chan int, 1)
	select {
	case h.cmdCh <- subscriberCountCmd{replyChannel: replyCh}:
	case <-h.done:
		return -1
	}

	select {
	case count := <-replyCh:
		return count
	case <-h.done:
		return -1
	}
}

// Running reports whether the actor loop is still alive.
func (h *Hub) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Stop shuts the hub down and closes every subscription channel.
// Blocks until the hub goroutine has exited or the stop timeout is reached.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		select {
		case h.cmdCh <- stopCmd{}:
		case <-h.done:
			return
		}

		timeout := h.clock.NewTimer(h.stopTimeout)
		defer timeout.Stop()

		select {
		case <-h.done:
			slog.Info("Chat hub stopped gracefully")
		case <-timeout.Chan():
			slog.Warn("Chat hub stop timeout exceeded", "timeout", h.stopTimeout)
		}
	})
}

func (h *Hub) unsubscribe(sub *Subscription) {
	select {
	case h.cmdCh <- unsubscribeCmd{subscription: sub}:
	case <-h.done:
	}
}

func (h *Hub) run() {
	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Chat hub panic recovered", "panic", r)
			h.metrics.ActorPanics.WithLabelValues("hub").Inc()
			h.closeAll()
		}
	}()

	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case publishCmd:
			h.handlePublish(c)
			close(c.ack)
		case subscribeCmd:
			c.replyChannel <- h.handleSubscribe()
		case unsubscribeCmd:
			h.handleUnsubscribe(c.subscription)
		case subscriberCountCmd:
			c.replyChannel <- len(h.subscribers)
		case stopCmd:
			h.handleStop()
			return
		default:
			slog.Warn("Chat hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (h *Hub) handlePublish(c publishCmd) {
	h.metrics.MessagesPublished.Inc()

	for id, sub := range h.subscribers {
		if sub.deliver(c.message) {
			h.metrics.MessagesDropped.Inc()
			slog.Debug("Dropped message for lagging subscriber", "subscriber", id, "dropped_total", sub.Dropped())
		}
	}
}

func (h *Hub) handleSubscribe() *Subscription {
	h.nextID++
	sub := &Subscription{
		id:          h.nextID,
		hub:         h,
		sendChannel: make(chan domain.ChatMessage, h.bufferSize),
	}
	h.subscribers[sub.id] = sub
	h.metrics.Subscribers.Set(float64(len(h.subscribers)))

	slog.Debug("Hub subscriber added", "subscriber", sub.id, "total_subscribers", len(h.subscribers))
	return sub
}

func (h *Hub) handleUnsubscribe(sub *Subscription) {
	if _, exists := h.subscribers[sub.id]; !exists {
		return
	}
	delete(h.subscribers, sub.id)
	close(sub.sendChannel)
	h.metrics.Subscribers.Set(float64(len(h.subscribers)))

	slog.Debug("Hub subscriber removed", "subscriber", sub.id, "remaining_subscribers", len(h.subscribers), "dropped", sub.Dropped())
}

func (h *Hub) handleStop() {
	slog.Info("Chat hub shutting down", "subscribers", len(h.subscribers))
	h.closeAll()
}

// closeAll closes every subscription. Used by graceful shutdown and panic recovery.
func (h *Hub) closeAll() {
	for id, sub := range h.subscribers {
		close(sub.sendChannel)
		delete(h.subscribers, id)
	}
	h.metrics.Subscribers.Set(0)
}
