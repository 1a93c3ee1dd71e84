package orchestrator

import "sync"

// Broadcaster fans out each step result from a running pipeline to every
// currently-subscribed observer - the read-only feed a dashboard's
// websocket connection streams from. A nil *Broadcaster is valid and
// simply drops every publish, so Pipeline.Run never needs to check
// whether anyone is listening.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan StepResult]struct{}
}

// NewBroadcaster builds an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan StepResult]struct{})}
}

// Subscribe registers a new observer channel. Callers must call the
// returned unsubscribe function when done to avoid leaking the channel.
func (b *Broadcaster) Subscribe() (<-chan StepResult, func()) {
	ch := make(chan StepResult, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}
}

// publish fans result out to every subscriber, dropping it for any
// subscriber whose channel is full rather than blocking the pipeline on a
// slow or stalled observer.
func (b *Broadcaster) publish(result StepResult) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- result:
		default:
		}
	}
}
