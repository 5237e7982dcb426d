package transfer

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/blockedby/teleclone/internal/media"
)

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateInit:            "INIT",
		StateResolvingTopics: "RESOLVING_TOPICS",
		StateCounting:        "COUNTING",
		StateStreaming:       "STREAMING",
		StateBackoff:         "BACKOFF",
		StateDone:            "DONE",
		State(99):            "UNKNOWN",
	}
	for st, want := range tests {
		assert.Equal(t, want, st.String())
	}
}

func TestProgress_OverlappingBackoffs(t *testing.T) {
	p := NewProgress(nil)
	p.setState(StateStreaming)

	p.backoff(2 * time.Second)
	p.backoff(time.Second)
	assert.Equal(t, StateBackoff, p.State())
	assert.False(t, p.Snapshot().BackoffUntil.IsZero())

	p.backoff(0)
	assert.Equal(t, StateBackoff, p.State(), "one wait is still pending")

	p.backoff(0)
	assert.Equal(t, StateStreaming, p.State())
	assert.True(t, p.Snapshot().BackoffUntil.IsZero())
}

func TestProgress_BackoffRestoresPriorState(t *testing.T) {
	p := NewProgress(nil)
	p.setState(StateCounting)

	p.backoff(time.Second)
	p.backoff(0)
	assert.Equal(t, StateCounting, p.State())
}

func TestProgress_Record(t *testing.T) {
	p := NewProgress(nil)
	p.record(media.Result{MessageID: 3, Outcome: media.OutcomeSent, Bytes: 10})
	p.record(media.Result{MessageID: 2, Outcome: media.OutcomeFailed})
	p.record(media.Result{MessageID: 4, Outcome: media.OutcomeSkippedEmpty})

	snap := p.Snapshot()
	assert.Equal(t, 4, snap.LastID)
	assert.Equal(t, Summary{Sent: 1, Failed: 1, SkippedEmpty: 1, Bytes: 10}, snap.Summary)
	assert.NotEqual(t, uuid.Nil, snap.RunID)
}
