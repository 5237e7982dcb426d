package transfer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/teleclone/internal/media"
)

// State is the phase a run is in.
type State int

// Run states. STREAMING and BACKOFF alternate while a flood wait is served.
const (
	StateInit State = iota
	StateResolvingTopics
	StateCounting
	StateStreaming
	StateBackoff
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateResolvingTopics:
		return "RESOLVING_TOPICS"
	case StateCounting:
		return "COUNTING"
	case StateStreaming:
		return "STREAMING"
	case StateBackoff:
		return "BACKOFF"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Summary aggregates per-message outcomes of a run.
type Summary struct {
	Sent         int
	SkippedEmpty int
	SkippedTTL   int
	Failed       int
	Bytes        int64
}

// Total is the number of messages that reached a final outcome.
func (s Summary) Total() int {
	return s.Sent + s.SkippedEmpty + s.SkippedTTL + s.Failed
}

func (s *Summary) add(res media.Result) {
	switch res.Outcome {
	case media.OutcomeSent:
		s.Sent++
		s.Bytes += res.Bytes
	case media.OutcomeSkippedEmpty:
		s.SkippedEmpty++
	case media.OutcomeSkippedTTL:
		s.SkippedTTL++
	case media.OutcomeFailed:
		s.Failed++
	}
}

// Snapshot is a consistent copy of a Progress.
type Snapshot struct {
	RunID        uuid.UUID
	State        State
	Total        int // 0 when counting was not requested
	LastID       int // last message that reached an outcome
	Summary      Summary
	BackoffUntil time.Time
}

// Progress tracks one run. It is safe for concurrent use and is meant to
// be polled by whoever started the run.
type Progress struct {
	mu       sync.Mutex
	snap     Snapshot
	onChange func(Snapshot)

	// concurrent flood waits; the state before the first one is restored
	// when the last one ends
	waits  int
	before State
}

// NewProgress creates a progress in the INIT state. onChange, if set, is
// called after every transition or recorded outcome.
func NewProgress(onChange func(Snapshot)) *Progress {
	return &Progress{
		snap:     Snapshot{RunID: uuid.New(), State: StateInit},
		onChange: onChange,
	}
}

// Snapshot returns the current state.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

// State returns the current phase.
func (p *Progress) State() State {
	return p.Snapshot().State
}

// Summary returns the outcomes recorded so far.
func (p *Progress) Summary() Summary {
	return p.Snapshot().Summary
}

// RunID identifies the run in logs and events.
func (p *Progress) RunID() uuid.UUID {
	return p.Snapshot().RunID
}

func (p *Progress) update(fn func(s *Snapshot)) {
	p.mu.Lock()
	fn(&p.snap)
	snap := p.snap
	p.mu.Unlock()

	if p.onChange != nil {
		p.onChange(snap)
	}
}

func (p *Progress) setState(st State) {
	p.update(func(s *Snapshot) {
		s.State = st
		if st != StateBackoff {
			s.BackoffUntil = time.Time{}
		}
	})
}

func (p *Progress) setTotal(n int) {
	p.update(func(s *Snapshot) { s.Total = n })
}

func (p *Progress) backoff(wait time.Duration) {
	p.update(func(s *Snapshot) {
		if wait > 0 {
			if p.waits == 0 {
				p.before = s.State
			}
			p.waits++
			s.State = StateBackoff
			if until := time.Now().Add(wait); until.After(s.BackoffUntil) {
				s.BackoffUntil = until
			}
			return
		}
		if p.waits == 0 {
			return
		}
		p.waits--
		if p.waits == 0 {
			s.State = p.before
			s.BackoffUntil = time.Time{}
		}
	})
}

func (p *Progress) record(res media.Result) {
	p.update(func(s *Snapshot) {
		s.Summary.add(res)
		if res.MessageID > s.LastID {
			s.LastID = res.MessageID
		}
	})
}
