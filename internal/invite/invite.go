// Package invite copies the members of one group into another.
package invite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blockedby/teleclone/internal/logger"
	"github.com/blockedby/teleclone/internal/telegram"
)

// ErrFatalInvite wraps errors that stop the whole invitation run.
var ErrFatalInvite = errors.New("invitation aborted")

var errLimitReached = errors.New("limit reached")

// Remote lists and invites participants.
type Remote interface {
	Participants(ctx context.Context, peer telegram.Peer, fn func(telegram.Participant) error) error
	Invite(ctx context.Context, dst telegram.Peer, p telegram.Participant) error
}

// Status is the per-participant result class.
type Status int

// Participant results.
const (
	StatusInvited Status = iota
	StatusUnreachable
	StatusAlreadyMember
	StatusPrivacy
	StatusQuota
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusInvited:
		return "invited"
	case StatusUnreachable:
		return "unreachable"
	case StatusAlreadyMember:
		return "already-member"
	case StatusPrivacy:
		return "privacy"
	case StatusQuota:
		return "quota"
	default:
		return "failed"
	}
}

// Result is the outcome for one participant.
type Result struct {
	Participant telegram.Participant
	Status      Status
	Err         error
}

// Summary counts results by status.
type Summary struct {
	Invited       int
	Unreachable   int
	AlreadyMember int
	Privacy       int
	Quota         int
	Failed        int
}

// Total is the number of participants seen.
func (s Summary) Total() int {
	return s.Invited + s.Unreachable + s.AlreadyMember + s.Privacy + s.Quota + s.Failed
}

func (s *Summary) add(st Status) {
	switch st {
	case StatusInvited:
		s.Invited++
	case StatusUnreachable:
		s.Unreachable++
	case StatusAlreadyMember:
		s.AlreadyMember++
	case StatusPrivacy:
		s.Privacy++
	case StatusQuota:
		s.Quota++
	default:
		s.Failed++
	}
}

// Options tunes a run.
type Options struct {
	// Limit caps the number of participants examined; 0 = all.
	Limit int
	// Delay between invitations.
	Delay time.Duration
	// OnResult observes every participant result.
	OnResult func(Result)
}

// Inviter copies members between groups.
type Inviter struct {
	remote Remote
	flood  *telegram.FloodPolicy
	log    *logger.Logger
	sleep  telegram.Sleeper
}

// New creates an inviter. flood may be nil for the default policy.
func New(remote Remote, flood *telegram.FloodPolicy, log *logger.Logger) *Inviter {
	if log == nil {
		log = logger.Get()
	}
	if flood == nil {
		flood = telegram.NewFloodPolicy(telegram.DefaultFloodWait, log)
	}
	return &Inviter{remote: remote, flood: flood, log: log, sleep: telegram.SleepContext}
}

// Copy invites every reachable participant of src into dst. Participants
// without a username or phone are skipped. Per-participant refusals are
// counted; PEER_FLOOD and missing rights abort the run with ErrFatalInvite.
func (i *Inviter) Copy(ctx context.Context, src, dst telegram.Peer, opts Options) (Summary, error) {
	var sum Summary
	// a listing restarted after a flood wait replays members already handled
	handled := make(map[int64]bool)

	err := i.flood.Do(ctx, "participants", func(ctx context.Context) error {
		return i.remote.Participants(ctx, src, func(p telegram.Participant) error {
			if handled[p.ID] {
				return nil
			}
			if opts.Limit > 0 && len(handled) >= opts.Limit {
				return errLimitReached
			}
			handled[p.ID] = true

			res := i.invite(ctx, dst, p)
			sum.add(res.Status)
			if opts.OnResult != nil {
				opts.OnResult(res)
			}
			if res.Err != nil && telegram.ClassifyInviteError(res.Err) == telegram.InviteFatal {
				return fmt.Errorf("%w: %w", ErrFatalInvite, res.Err)
			}

			if res.Status == StatusInvited && opts.Delay > 0 {
				return i.sleep(ctx, opts.Delay)
			}
			return nil
		})
	})
	if errors.Is(err, errLimitReached) {
		err = nil
	}

	i.log.Info().
		Int("invited", sum.Invited).
		Int("unreachable", sum.Unreachable).
		Int("already_member", sum.AlreadyMember).
		Int("privacy", sum.Privacy).
		Int("quota", sum.Quota).
		Int("failed", sum.Failed).
		Msg("invite: finished")

	return sum, err
}

func (i *Inviter) invite(ctx context.Context, dst telegram.Peer, p telegram.Participant) Result {
	res := Result{Participant: p}
	if !p.Reachable() || p.Deleted {
		res.Status = StatusUnreachable
		return res
	}

	err := i.flood.Do(ctx, "invite", func(ctx context.Context) error {
		return i.remote.Invite(ctx, dst, p)
	})
	if err == nil {
		res.Status = StatusInvited
		return res
	}

	res.Err = err
	switch telegram.ClassifyInviteError(err) {
	case telegram.InviteAlreadyMember:
		res.Status = StatusAlreadyMember
	case telegram.InvitePrivacy:
		res.Status = StatusPrivacy
	case telegram.InviteQuota:
		res.Status = StatusQuota
	default:
		res.Status = StatusFailed
	}

	i.log.Debug().Err(err).Int64("user_id", p.ID).Str("status", res.Status.String()).Msg("invite: participant not added")
	return res
}
