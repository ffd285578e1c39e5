package bus

import (
	"context"
	"sync"
)

// Bus fans bot replies out across backend instances. A single-node
// deploy uses the in-process bus; multi-node deploys use Redis.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a receive channel and a cancel func. The
	// channel closes after cancel.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// LocalBus is the in-process Bus. Slow subscribers drop messages
// rather than block publishers; reconnect flush covers the gap.
type LocalBus struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan []byte
	next int
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: map[string]map[int]chan []byte{}}
}

func (b *LocalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(_ context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 64)

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = map[int]chan []byte{}
	}
	id := b.next
	b.next++
	b.subs[channel][id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if subs, ok := b.subs[channel]; ok {
			if _, live := subs[id]; live {
				delete(subs, id)
				close(ch)
			}
			if len(subs) == 0 {
				delete(b.subs, channel)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel, nil
}
