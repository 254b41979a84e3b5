package history

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/pscheid92/htmxchat/internal/adapter/metrics"
	"github.com/pscheid92/htmxchat/internal/domain"
	"github.com/samber/lo"
)

const (
	DefaultSnapshotSize = 10
	DefaultQueueSize    = 32
	DefaultRetention    = 1000
)

// Feed is the actor's source of appended messages, normally a hub subscription.
type Feed interface {
	C() <-chan domain.ChatMessage
	Close()
}

// Config tunes the actor. Zero values select the defaults, except Retention
// where 0 keeps the whole log.
type Config struct {
	SnapshotSize int
	QueueSize    int
	Retention    int
}

// historyCmd is the command interface for the history actor.
type historyCmd interface{ isHistoryCmd() }

type baseHistoryCmd struct{}

func (baseHistoryCmd) isHistoryCmd() {}

type snapshotCmd struct {
	baseHistoryCmd
	replyChannel chan []domain.ChatMessage
}

type lenCmd struct {
	baseHistoryCmd
	replyChannel chan int
}

// Actor owns the append-only chat log.
type Actor struct {
	cmdCh        chan historyCmd
	stopCh       chan struct{}
	done         chan struct{}
	stopOnce     sync.Once
	feed         Feed
	metrics      *metrics.ChatMetrics
	snapshotSize int
	retention    int

	// owned by the run goroutine
	messages []domain.ChatMessage
}

// Start launches the actor on the given feed. The actor takes ownership of
// the feed and closes it when it terminates.
func Start(feed Feed, cfg Config, m *metrics.ChatMetrics) *Actor {
	if cfg.SnapshotSize < 1 {
		cfg.SnapshotSize = DefaultSnapshotSize
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Retention < 0 {
		cfg.Retention = 0
	}
	if cfg.Retention > 0 && cfg.Retention < cfg.SnapshotSize {
		cfg.Retention = cfg.SnapshotSize
	}

	a := &Actor{
		cmdCh:        make(chan historyCmd, cfg.QueueSize),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
		feed:         feed,
		metrics:      m,
		snapshotSize: cfg.SnapshotSize,
		retention:    cfg.Retention,
	}
	go a.run()
	return a
}

// Snapshot returns the most recent messages, oldest first. A full request
// queue blocks the caller until space frees up or ctx is done.
func (a *Actor) Snapshot(ctx context.Context) ([]domain.ChatMessage, error) {
	replyCh := make(chan []domain.ChatMessage, 1)
	if err := a.send(ctx, snapshotCmd{replyChannel: replyCh}); err != nil {
		return nil, err
	}

	select {
	case messages := <-replyCh:
		return messages, nil
	case <-a.done:
		return nil, domain.ErrHistoryUnavailable
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for history snapshot: %w", ctx.Err())
	}
}

// Len returns the number of retained messages.
func (a *Actor) Len(ctx context.Context) (int, error) {
	replyCh := make(chan int, 1)
	if err := a.send(ctx, lenCmd{replyChannel: replyCh}); err != nil {
		return 0, err
	}

	select {
	case n := <-replyCh:
		return n, nil
	case <-a.done:
		return 0, domain.ErrHistoryUnavailable
	case <-ctx.Done():
		return 0, fmt.Errorf("waiting for history length: %w", ctx.Err())
	}
}

// Stop terminates the actor and waits for its goroutine to exit.
func (a *Actor) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	<-a.done
}

// Done is closed once the actor has terminated.
func (a *Actor) Done() <-chan struct{} {
	return a.done
}

func (a *Actor) send(ctx context.Context, cmd historyCmd) error {
	select {
	case <-a.done:
		return domain.ErrHistoryUnavailable
	default:
	}

	select {
	case a.cmdCh <- cmd:
		return nil
	case <-a.done:
		return domain.ErrHistoryUnavailable
	case <-ctx.Done():
		return fmt.Errorf("queueing history request: %w", ctx.Err())
	}
}

func (a *Actor) run() {
	defer close(a.done)
	defer a.feed.Close()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("History actor panic recovered", "panic", r)
			a.metrics.ActorPanics.WithLabelValues("history").Inc()
		}
	}()

	slog.Info("Starting chat history actor", "snapshot_size", a.snapshotSize, "retention", a.retention)

	feed := a.feed.C()
	for {
		// select picks uniformly among ready cases, so a busy feed cannot
		// starve snapshot requests and vice versa
		select {
		case msg, ok := <-feed:
			if !ok {
				slog.Info("History feed closed, stopping history actor", "messages", len(a.messages))
				return
			}
			a.append(msg)
		case cmd := <-a.cmdCh:
			if !a.drain(feed) {
				slog.Info("History feed closed, stopping history actor", "messages", len(a.messages))
				return
			}
			switch c := cmd.(type) {
			case snapshotCmd:
				c.replyChannel <- a.snapshot()
				a.metrics.SnapshotsServed.Inc()
			case lenCmd:
				c.replyChannel <- len(a.messages)
			default:
				slog.Warn("History actor received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		case <-a.stopCh:
			slog.Info("History actor stopped", "messages", len(a.messages))
			return
		}
	}
}

// drain appends whatever the feed already buffered, so a request never
// observes a log that lags behind a completed Publish. It reports false once
// the feed is closed.
func (a *Actor) drain(feed <-chan domain.ChatMessage) bool {
	for n := len(feed); n > 0; n-- {
		msg, ok := <-feed
		if !ok {
			return false
		}
		a.append(msg)
	}
	return true
}

func (a *Actor) append(msg domain.ChatMessage) {
	a.messages = append(a.messages, msg)

	// compact lazily so trimming stays amortised O(1) per append
	if a.retention > 0 && len(a.messages) >= 2*a.retention {
		a.messages = slices.Clone(a.messages[len(a.messages)-a.retention:])
	}
	a.metrics.HistoryMessages.Set(float64(len(a.messages)))
}

func (a *Actor) snapshot() []domain.ChatMessage {
	tail := lo.Subset(a.messages, -a.snapshotSize, uint(a.snapshotSize))
	return slices.Clone(tail)
}
