package broadcast

import (
	"context"
	"sync"

	model "github.com/Yria/cocktime-scheduler-sub000/internal/domain/model"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/logger"
	"github.com/Yria/cocktime-scheduler-sub000/pkg/metrics"
)

// MemoryBus fans events out inside one process. Payloads go through the wire
// codec so subscribers never share memory with the publisher.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string]map[chan *model.Event]struct{}
	closed bool
	cfg    settings
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus(opts ...Option) *MemoryBus {
	return &MemoryBus{
		subs: make(map[string]map[chan *model.Event]struct{}),
		cfg:  newSettings("bus.memory", opts),
	}
}

// Publish implements Bus. A subscriber whose buffer is full misses the event.
func (b *MemoryBus) Publish(ctx context.Context, ev *model.Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for ch := range b.subs[ev.SessionID] {
		copied, err := Decode(payload)
		if err != nil {
			return err
		}
		select {
		case ch <- copied:
		default:
			metrics.RecordBroadcastDropped()
			b.cfg.log.Warn(ctx, "subscriber buffer full, event dropped",
				logger.String("event", ev.ID),
				logger.String("type", string(ev.Type)),
			)
		}
	}
	return nil
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(ctx context.Context, sessionID string) (<-chan *model.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	ch := make(chan *model.Event, b.cfg.buffer)
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan *model.Event]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sessionID][ch]; ok {
			delete(b.subs[sessionID], ch)
			close(ch)
		}
	}()
	return ch, nil
}

// Close implements Bus. Every subscription channel is closed.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for sid, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, sid)
	}
	return nil
}
