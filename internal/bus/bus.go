// Package bus is the in-process event spine: typed publish/subscribe channels
// connecting the terminal host, hook bridge, git watcher, poller, and the
// derived views. Subscribers are long-lived closures registered once at
// construction; there is no unsubscribe.
package bus

import (
	"log/slog"
	"sync"

	"github.com/workdeck/workdeck/internal/logging"
)

var busLog = logging.ForComponent(logging.CompBus)

// subscriberQueueSize bounds each subscriber's pending events. Delivery within
// one subscriber stays in publish order; a full queue drops the event rather
// than blocking the producer.
const subscriberQueueSize = 256

type subscriber struct {
	topic string
	ch    chan any
	fn    func(any)
	done  chan struct{}
}

func (s *subscriber) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case ev := <-s.ch:
			s.fn(ev)
		case <-s.done:
			// Drain what is already queued, then stop.
			for {
				select {
				case ev := <-s.ch:
					s.fn(ev)
				default:
					return
				}
			}
		}
	}
}

// Bus fans events out to per-subscriber ordered queues.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscriber
	closed bool
	wg     sync.WaitGroup
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]*subscriber)}
}

// Close stops all subscriber goroutines after draining queued events.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, list := range b.subs {
		for _, s := range list {
			close(s.done)
		}
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bus) subscribe(topic string, fn func(any)) {
	s := &subscriber{
		topic: topic,
		ch:    make(chan any, subscriberQueueSize),
		fn:    fn,
		done:  make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.subs[topic] = append(b.subs[topic], s)
	b.wg.Add(1)
	b.mu.Unlock()
	go s.run(&b.wg)
}

func (b *Bus) publish(topic string, ev any) {
	b.mu.RLock()
	list := b.subs[topic]
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}
	for _, s := range list {
		select {
		case s.ch <- ev:
		default:
			busLog.Warn("subscriber_queue_full", slog.String("topic", topic))
		}
	}
}

// Topic names; also the wire-level event names used by the web stream.
const (
	TopicTerminalData     = "terminal:data"
	TopicTerminalExit     = "terminal:exit"
	TopicClaudeHook       = "claude:hook"
	TopicCodexNotify      = "codex:notify"
	TopicGitChanged       = "git:changed"
	TopicStatusUpdated    = "status:updated"
	TopicCheckTransition  = "status:check-transition"
	TopicPRMerged         = "status:pr-merged"
	TopicAttentionChanged = "attention:changed"
	TopicWorkspaces       = "workspaces:changed"
)

func (b *Bus) PublishTerminalData(ev TerminalData) { b.publish(TopicTerminalData, ev) }
func (b *Bus) SubscribeTerminalData(fn func(TerminalData)) {
	b.subscribe(TopicTerminalData, func(v any) { fn(v.(TerminalData)) })
}

func (b *Bus) PublishTerminalExit(ev TerminalExit) { b.publish(TopicTerminalExit, ev) }
func (b *Bus) SubscribeTerminalExit(fn func(TerminalExit)) {
	b.subscribe(TopicTerminalExit, func(v any) { fn(v.(TerminalExit)) })
}

func (b *Bus) PublishClaudeHook(ev ClaudeHook) { b.publish(TopicClaudeHook, ev) }
func (b *Bus) SubscribeClaudeHook(fn func(ClaudeHook)) {
	b.subscribe(TopicClaudeHook, func(v any) { fn(v.(ClaudeHook)) })
}

func (b *Bus) PublishCodexNotify(ev CodexNotify) { b.publish(TopicCodexNotify, ev) }
func (b *Bus) SubscribeCodexNotify(fn func(CodexNotify)) {
	b.subscribe(TopicCodexNotify, func(v any) { fn(v.(CodexNotify)) })
}

func (b *Bus) PublishGitChanged(ev GitChanged) { b.publish(TopicGitChanged, ev) }
func (b *Bus) SubscribeGitChanged(fn func(GitChanged)) {
	b.subscribe(TopicGitChanged, func(v any) { fn(v.(GitChanged)) })
}

func (b *Bus) PublishStatusUpdated(ev StatusUpdated) { b.publish(TopicStatusUpdated, ev) }
func (b *Bus) SubscribeStatusUpdated(fn func(StatusUpdated)) {
	b.subscribe(TopicStatusUpdated, func(v any) { fn(v.(StatusUpdated)) })
}

func (b *Bus) PublishCheckTransition(ev CheckTransition) { b.publish(TopicCheckTransition, ev) }
func (b *Bus) SubscribeCheckTransition(fn func(CheckTransition)) {
	b.subscribe(TopicCheckTransition, func(v any) { fn(v.(CheckTransition)) })
}

func (b *Bus) PublishPRMerged(ev PRMerged) { b.publish(TopicPRMerged, ev) }
func (b *Bus) SubscribePRMerged(fn func(PRMerged)) {
	b.subscribe(TopicPRMerged, func(v any) { fn(v.(PRMerged)) })
}

func (b *Bus) PublishAttentionChanged(ev AttentionChanged) { b.publish(TopicAttentionChanged, ev) }
func (b *Bus) SubscribeAttentionChanged(fn func(AttentionChanged)) {
	b.subscribe(TopicAttentionChanged, func(v any) { fn(v.(AttentionChanged)) })
}

func (b *Bus) PublishWorkspacesChanged(ev WorkspacesChanged) { b.publish(TopicWorkspaces, ev) }
func (b *Bus) SubscribeWorkspacesChanged(fn func(WorkspacesChanged)) {
	b.subscribe(TopicWorkspaces, func(v any) { fn(v.(WorkspacesChanged)) })
}
