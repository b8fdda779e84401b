// Package notifier fans out wake-up signals to subscribers of the
// live event stream. A notification names the pipeline whose state
// changed; subscribers re-query the store from their cursor, so a
// dropped signal is covered by the one already pending.
package notifier

import (
	"sync"
)

type Notifier struct {
	subscribers map[chan string]struct{}
	mu          sync.Mutex
}

func New() Notifier {
	return Notifier{
		subscribers: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel of pipeline ids. Unsubscribe it when
// the stream ends or notifications pile up against a dead reader.
func (n *Notifier) Subscribe() chan string {
	ch := make(chan string, 1)
	n.mu.Lock()
	n.subscribers[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

func (n *Notifier) Unsubscribe(ch chan string) {
	n.mu.Lock()
	delete(n.subscribers, ch)
	close(ch)
	n.mu.Unlock()
}

// NotifyAll tells every subscriber that the named pipeline changed.
func (n *Notifier) NotifyAll(pipeline string) {
	n.mu.Lock()
	for ch := range n.subscribers {
		select {
		case ch <- pipeline:
		default:
			// a wake-up is already pending for this subscriber
		}
	}
	n.mu.Unlock()
}
