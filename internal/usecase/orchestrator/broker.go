package orchestrator

import (
	"sync"

	"github.com/kailas-cloud/repodex/internal/domain/job"
)

const subscriberBuffer = 16

// Broker fans job progress out to subscribers. Delivery is best-effort: a
// slow subscriber misses intermediate events, never blocks the publisher.
// New subscribers receive the last-known snapshot first.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan job.Progress]struct{}
	last map[string]job.Progress
}

// NewBroker creates an empty progress broker.
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan job.Progress]struct{}),
		last: make(map[string]job.Progress),
	}
}

// Publish records p as the latest snapshot and offers it to every subscriber.
func (b *Broker) Publish(p job.Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last[p.JobID] = p
	for ch := range b.subs[p.JobID] {
		select {
		case ch <- p:
		default:
		}
	}
}

// Subscribe registers for progress events of one job. The returned channel
// carries the last-known snapshot immediately when one exists. The cancel
// function unregisters and closes the channel.
func (b *Broker) Subscribe(jobID string) (<-chan job.Progress, func()) {
	ch := make(chan job.Progress, subscriberBuffer)

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan job.Progress]struct{})
	}
	b.subs[jobID][ch] = struct{}{}
	if snapshot, ok := b.last[jobID]; ok {
		ch <- snapshot
	}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[jobID]; ok {
			if _, subscribed := set[ch]; subscribed {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(b.subs, jobID)
			}
		}
	}
	return ch, cancel
}
