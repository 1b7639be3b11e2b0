package pipeline

import (
	"sync"

	"github.com/lukaszKielar/lokai-web/internal/model"
)

// delivery tracks the content of the latest replace frame written to the
// client for each message of a session. The sender records writes; the
// inference worker settles on the delivered content before persisting.
type delivery struct {
	mu      sync.Mutex
	written map[string]string
	changed chan struct{}
	stopped bool
}

func newDelivery() *delivery {
	return &delivery{
		written: make(map[string]string),
		changed: make(chan struct{}),
	}
}

// record notes a successfully written delta.
func (d *delivery) record(delta model.Delta) {
	if delta.Kind != model.DeltaReplace || delta.Message == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.written[delta.Message.ID] = delta.Message.Content
	d.notify()
}

// stop marks the sender as finished. No writes are recorded afterwards.
func (d *delivery) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.stopped {
		d.stopped = true
		d.notify()
	}
}

func (d *delivery) notify() {
	close(d.changed)
	d.changed = make(chan struct{})
}

// settle blocks until queued has been written for message id or the sender
// has stopped, then returns the content the client last received for it.
// The sender always stops when the session ends, so settle cannot outlive
// the session.
func (d *delivery) settle(id, queued string) string {
	for {
		d.mu.Lock()
		got, ok := d.written[id]
		if (ok && got == queued) || d.stopped {
			delete(d.written, id)
			d.mu.Unlock()
			return got
		}
		changed := d.changed
		d.mu.Unlock()

		<-changed
	}
}
