package transfer

import "sync"

// watermark turns out-of-order completions into an in-order progress
// signal. Slots are opened in dispatch order; emit only sees the highest
// sent id whose predecessors have all completed, and never a lower one
// than it saw before. Only slots from the first incomplete one on are kept.
type watermark struct {
	mu       sync.Mutex
	pending  []slot
	base     int // sequence number of pending[0]
	best     int // highest sent id in the completed prefix
	reported int
	emit     func(id int) error
}

type slot struct {
	id   int
	done bool
	sent bool
}

func newWatermark(emit func(id int) error) *watermark {
	return &watermark{emit: emit}
}

// open registers the next dispatched message and returns its sequence.
func (w *watermark) open(id int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, slot{id: id})
	return w.base + len(w.pending) - 1
}

// complete marks a slot finished; sent tells whether it should move
// the reported id. An emit error is returned as is.
func (w *watermark) complete(seq int, sent bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	i := seq - w.base
	w.pending[i].done = true
	w.pending[i].sent = sent

	n := 0
	for n < len(w.pending) && w.pending[n].done {
		if s := w.pending[n]; s.sent && s.id > w.best {
			w.best = s.id
		}
		n++
	}
	w.pending = w.pending[n:]
	w.base += n

	if w.best > w.reported {
		w.reported = w.best
		if w.emit != nil {
			return w.emit(w.best)
		}
	}
	return nil
}

// value returns the last reported id.
func (w *watermark) value() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reported
}

// inFlight returns the number of slots still held.
func (w *watermark) inFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
