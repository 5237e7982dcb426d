// Package transfer drives history forwarding and live mirroring between
// two conversations.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/blockedby/teleclone/internal/logger"
	"github.com/blockedby/teleclone/internal/media"
	"github.com/blockedby/teleclone/internal/telegram"
	"github.com/blockedby/teleclone/internal/topics"
)

// DefaultPageSize is the number of history messages fetched per request.
const DefaultPageSize = 100

// mirrorQueue bounds live messages waiting for the relay.
const mirrorQueue = 64

var errSubscriptionEnded = errors.New("live subscription ended")

// Source enumerates and watches the source conversation.
type Source interface {
	History(ctx context.Context, peer telegram.Peer, q telegram.HistoryQuery) (telegram.HistoryPage, error)
	Count(ctx context.Context, peer telegram.Peer, topicID int) (int, error)
	Subscribe(ctx context.Context, peer telegram.Peer, fn func(telegram.Message)) error
}

// Relayer copies a single message.
type Relayer interface {
	Relay(ctx context.Context, src telegram.Peer, msg telegram.Message, target media.Target) media.Result
}

// TopicResolver maps topic selectors to topic ids.
type TopicResolver interface {
	Resolve(ctx context.Context, peer telegram.Peer, selector *int) (*int, error)
}

// EventPublisher publishes relay outcomes
type EventPublisher interface {
	PublishRelay(ctx context.Context, event RelayEvent) error
}

// RelayEvent describes one relayed message for external consumers.
type RelayEvent struct {
	RunID         uuid.UUID `json:"run_id"`
	Mode          string    `json:"mode"`
	SourceID      int64     `json:"source_id"`
	DestinationID int64     `json:"destination_id"`
	MessageID     int       `json:"message_id"`
	Outcome       string    `json:"outcome"`
	Kind          string    `json:"kind"`
	FileName      string    `json:"file_name,omitempty"`
	Bytes         int64     `json:"bytes"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Run modes reported on events.
const (
	ModeForward = "forward"
	ModeMirror  = "mirror"
)

// Options configures one run.
type Options struct {
	Source      telegram.Peer
	Destination telegram.Peer

	// selectors: a topic id or an index into the topic list; nil = none
	SourceTopic      *int
	DestinationTopic *int

	StripCaption bool

	// ResumeAfter skips every message with an id at or below it.
	ResumeAfter *int

	// OnForward is called with the id of every sent message, in order.
	// An error aborts the run.
	OnForward func(id int) error

	// Count fetches the total before streaming (history only).
	Count bool

	Workers  int
	Progress *Progress
}

// Engine runs transfers.
type Engine struct {
	source    Source
	relay     Relayer
	topics    TopicResolver
	flood     *telegram.FloodPolicy
	publisher EventPublisher
	log       *logger.Logger
	pageSize  int

	// backoff policy for re-subscribing a dropped live feed
	retry func() backoff.BackOff
}

// NewEngine creates an engine. flood may be nil for the default policy.
func NewEngine(source Source, relay Relayer, resolver TopicResolver, flood *telegram.FloodPolicy, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Get()
	}
	if flood == nil {
		flood = telegram.NewFloodPolicy(telegram.DefaultFloodWait, log)
	}
	return &Engine{
		source:   source,
		relay:    relay,
		topics:   resolver,
		flood:    flood,
		log:      log,
		pageSize: DefaultPageSize,
		retry:    newRetryBackoff,
	}
}

func newRetryBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	return b
}

// SetPublisher enables relay events.
func (e *Engine) SetPublisher(p EventPublisher) {
	e.publisher = p
}

// SetPageSize overrides the history page size.
func (e *Engine) SetPageSize(n int) {
	if n > 0 {
		e.pageSize = n
	}
}

type run struct {
	opts     Options
	mode     string
	progress *Progress
	target   media.Target
	srcTopic int
	log      *logger.Logger // carries run_id
}

func (e *Engine) start(ctx context.Context, opts Options, mode string) (*run, error) {
	p := opts.Progress
	if p == nil {
		p = NewProgress(nil)
	}
	r := &run{opts: opts, mode: mode, progress: p, log: e.log.With("run_id", p.RunID().String())}

	p.setState(StateResolvingTopics)
	src, err := e.topics.Resolve(ctx, opts.Source, opts.SourceTopic)
	if err != nil {
		return nil, fmt.Errorf("resolve source topic: %w", err)
	}
	dst, err := e.topics.Resolve(ctx, opts.Destination, opts.DestinationTopic)
	if err != nil {
		return nil, fmt.Errorf("resolve destination topic: %w", err)
	}

	r.srcTopic = topics.ID(src)
	r.target = media.Target{
		Peer:         opts.Destination,
		TopicID:      topics.ID(dst),
		StripCaption: opts.StripCaption,
	}

	r.log.Info().
		Str("mode", mode).
		Str("source", opts.Source.DisplayName()).
		Str("destination", opts.Destination.DisplayName()).
		Int("source_topic", r.srcTopic).
		Int("destination_topic", r.target.TopicID).
		Msg("transfer: run started")

	return r, nil
}

// Forward copies the source history, oldest first, to the destination.
// The summary is returned even when the run stops early.
func (e *Engine) Forward(ctx context.Context, opts Options) (Summary, error) {
	r, err := e.start(ctx, opts, ModeForward)
	if err != nil {
		return Summary{}, err
	}
	p := r.progress
	defer p.setState(StateDone)

	ctx = telegram.WithBackoffHook(ctx, func(_ string, wait time.Duration) { p.backoff(wait) })

	if opts.Count {
		p.setState(StateCounting)
		var total int
		err := e.flood.Do(ctx, "count", func(ctx context.Context) (err error) {
			total, err = e.source.Count(ctx, opts.Source, r.srcTopic)
			return err
		})
		if err != nil {
			r.log.Warn().Err(err).Msg("transfer: failed to count messages")
		} else {
			p.setTotal(total)
		}
	}

	p.setState(StateStreaming)

	after := 0
	if opts.ResumeAfter != nil {
		after = *opts.ResumeAfter
	}

	if opts.Workers > 1 {
		err = e.streamParallel(ctx, r, after)
	} else {
		err = e.streamSequential(ctx, r, after)
	}

	sum := p.Summary()
	ev := r.log.Info()
	if err != nil {
		ev = r.log.Warn().Err(err)
	}
	ev.Int("sent", sum.Sent).
		Int("skipped_empty", sum.SkippedEmpty).
		Int("skipped_ttl", sum.SkippedTTL).
		Int("failed", sum.Failed).
		Str("bytes", humanize.Bytes(uint64(sum.Bytes))).
		Msg("transfer: forward finished")

	return sum, err
}

func (e *Engine) streamSequential(ctx context.Context, r *run, after int) error {
	return e.each(ctx, r, after, func(msg telegram.Message) error {
		res, err := e.handle(ctx, r, msg)
		if err != nil {
			return err
		}
		if res.Outcome == media.OutcomeSent && r.opts.OnForward != nil {
			if err := r.opts.OnForward(msg.ID); err != nil {
				return fmt.Errorf("record message %d: %w", msg.ID, err)
			}
		}
		return nil
	})
}

func (e *Engine) streamParallel(ctx context.Context, r *run, after int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	wm := newWatermark(func(id int) error {
		if r.opts.OnForward == nil {
			return nil
		}
		if err := r.opts.OnForward(id); err != nil {
			return fmt.Errorf("record message %d: %w", id, err)
		}
		return nil
	})

	iterErr := e.each(gctx, r, after, func(msg telegram.Message) error {
		seq := wm.open(msg.ID)
		g.Go(func() error {
			res, err := e.handle(gctx, r, msg)
			if err != nil {
				return err
			}
			return wm.complete(seq, res.Outcome == media.OutcomeSent)
		})
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return iterErr
}

// each pages through history after the given id and calls fn per message.
// Paging follows the page cursor, so a page holding only service messages
// does not end the walk.
func (e *Engine) each(ctx context.Context, r *run, after int, fn func(telegram.Message) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var page telegram.HistoryPage
		err := e.flood.Do(ctx, "history", func(ctx context.Context) (err error) {
			page, err = e.source.History(ctx, r.opts.Source, telegram.HistoryQuery{
				TopicID: r.srcTopic,
				AfterID: after,
				Limit:   e.pageSize,
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("fetch history: %w", err)
		}

		for _, msg := range page.Messages {
			if msg.ID <= after {
				continue
			}
			if err := fn(msg); err != nil {
				return err
			}
		}
		if page.Cursor <= after {
			return nil
		}
		after = page.Cursor
	}
}

// handle relays one message and records its outcome. A run-level error is
// returned for cancellation and for fatal destination errors; everything
// else is a per-message outcome.
func (e *Engine) handle(ctx context.Context, r *run, msg telegram.Message) (media.Result, error) {
	res := e.relay.Relay(ctx, r.opts.Source, msg, r.target)

	// a send interrupted by cancellation is not an outcome
	if res.Outcome == media.OutcomeFailed && ctx.Err() != nil {
		return res, ctx.Err()
	}

	r.progress.record(res)
	e.publish(ctx, r, res)

	if res.Outcome == media.OutcomeFailed && telegram.IsFatal(res.Err) {
		return res, fmt.Errorf("relay message %d: %w", msg.ID, res.Err)
	}
	return res, nil
}

func (e *Engine) publish(ctx context.Context, r *run, res media.Result) {
	if e.publisher == nil {
		return
	}

	event := RelayEvent{
		RunID:         r.progress.RunID(),
		Mode:          r.mode,
		SourceID:      r.opts.Source.ID,
		DestinationID: r.opts.Destination.ID,
		MessageID:     res.MessageID,
		Outcome:       res.Outcome.String(),
		Kind:          res.Kind.String(),
		FileName:      res.FileName,
		Bytes:         res.Bytes,
		CreatedAt:     time.Now(),
	}
	if res.Err != nil {
		event.Error = res.Err.Error()
	}

	if err := e.publisher.PublishRelay(ctx, event); err != nil {
		r.log.Warn().Err(err).Int("msg_id", res.MessageID).Msg("transfer: failed to publish relay event")
	}
}

// Mirror relays every new source message until ctx is cancelled. A
// dropped subscription is re-established with exponential backoff. With
// more than one worker, OnForward follows the same watermark as Forward.
func (e *Engine) Mirror(ctx context.Context, opts Options) error {
	r, err := e.start(ctx, opts, ModeMirror)
	if err != nil {
		return err
	}
	p := r.progress
	defer p.setState(StateDone)

	ctx = telegram.WithBackoffHook(ctx, func(_ string, wait time.Duration) { p.backoff(wait) })
	p.setState(StateStreaming)

	type queued struct {
		msg telegram.Message
		seq int
	}
	queue := make(chan queued, mirrorQueue)
	wm := newWatermark(func(id int) error {
		if opts.OnForward == nil {
			return nil
		}
		if err := opts.OnForward(id); err != nil {
			return fmt.Errorf("record message %d: %w", id, err)
		}
		return nil
	})
	g, gctx := errgroup.WithContext(ctx)

	for range max(opts.Workers, 1) {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case q := <-queue:
					res, err := e.handle(gctx, r, q.msg)
					if err != nil {
						return err
					}
					if err := wm.complete(q.seq, res.Outcome == media.OutcomeSent); err != nil {
						return err
					}
				}
			}
		})
	}

	g.Go(func() error {
		return e.subscribe(gctx, r, func(msg telegram.Message) {
			if r.srcTopic != 0 && msg.TopicID != r.srcTopic {
				return
			}
			select {
			case queue <- queued{msg: msg, seq: wm.open(msg.ID)}:
			case <-gctx.Done():
			}
		})
	})

	err = g.Wait()
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		err = nil
	}

	sum := p.Summary()
	r.log.Info().
		Int("sent", sum.Sent).
		Int("failed", sum.Failed).
		Msg("transfer: mirror stopped")

	return err
}

func (e *Engine) subscribe(ctx context.Context, r *run, fn func(telegram.Message)) error {
	op := func() error {
		err := e.source.Subscribe(ctx, r.opts.Source, fn)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = errSubscriptionEnded
		}
		if telegram.IsFatal(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		r.log.Warn().Err(err).Dur("retry_in", wait).Msg("transfer: live subscription dropped, reconnecting")
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(e.retry(), ctx), notify); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}
