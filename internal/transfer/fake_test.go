package transfer

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/gotd/td/tg"

	"github.com/blockedby/teleclone/internal/logger"
	"github.com/blockedby/teleclone/internal/media"
	"github.com/blockedby/teleclone/internal/telegram"
)

var (
	srcPeer = telegram.Peer{ID: 100, Kind: telegram.PeerChannel, Title: "Source"}
	dstPeer = telegram.Peer{ID: 200, Kind: telegram.PeerChannel, Title: "Destination"}
)

func intPtr(v int) *int { return &v }

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return nil
}

func newTestFlood() (*telegram.FloodPolicy, *sleepRecorder) {
	rec := &sleepRecorder{}
	p := telegram.NewFloodPolicy(telegram.DefaultFloodWait, logger.Nop())
	p.Sleep = rec.Sleep
	return p, rec
}

// fakeSource serves a fixed history and a scripted live feed.
type fakeSource struct {
	mu sync.Mutex

	messages   []telegram.Message
	serviceIDs []int // joins, pins and the like: paged but never returned
	total      int
	historyErr []error // consumed one per History call

	live          []telegram.Message
	subscribeErrs []error // consumed one per Subscribe call

	queries    []telegram.HistoryQuery
	subscribes int
}

func (f *fakeSource) History(_ context.Context, _ telegram.Peer, q telegram.HistoryQuery) (telegram.HistoryPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, q)
	if len(f.historyErr) > 0 {
		err := f.historyErr[0]
		f.historyErr = f.historyErr[1:]
		if err != nil {
			return telegram.HistoryPage{}, err
		}
	}

	byID := make(map[int]telegram.Message, len(f.messages))
	ids := append([]int(nil), f.serviceIDs...)
	for _, m := range f.messages {
		if q.TopicID != 0 && m.TopicID != q.TopicID {
			continue
		}
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}
	sort.Ints(ids)

	var page telegram.HistoryPage
	n := 0
	for _, id := range ids {
		if id <= q.AfterID {
			continue
		}
		if m, ok := byID[id]; ok {
			page.Messages = append(page.Messages, m)
		}
		page.Cursor = id
		if n++; q.Limit > 0 && n == q.Limit {
			break
		}
	}
	return page, nil
}

func (f *fakeSource) Count(context.Context, telegram.Peer, int) (int, error) {
	return f.total, nil
}

func (f *fakeSource) Subscribe(ctx context.Context, _ telegram.Peer, fn func(telegram.Message)) error {
	f.mu.Lock()
	f.subscribes++
	var err error
	if len(f.subscribeErrs) > 0 {
		err = f.subscribeErrs[0]
		f.subscribeErrs = f.subscribeErrs[1:]
	}
	live := f.live
	f.mu.Unlock()

	if err != nil {
		return err
	}
	for _, m := range live {
		fn(m)
	}
	<-ctx.Done()
	return ctx.Err()
}

// identityResolver returns selectors unchanged.
type identityResolver struct{}

func (identityResolver) Resolve(_ context.Context, _ telegram.Peer, sel *int) (*int, error) {
	return sel, nil
}

// scriptedRelayer returns a preset outcome per message id.
type scriptedRelayer struct {
	mu sync.Mutex

	outcomes map[int]media.Result
	delays   map[int]time.Duration
	hook     func(msg telegram.Message)

	calls   []int
	targets []media.Target
}

func (s *scriptedRelayer) Relay(ctx context.Context, _ telegram.Peer, msg telegram.Message, target media.Target) media.Result {
	if d, ok := s.delays[msg.ID]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
	}
	if s.hook != nil {
		s.hook(msg)
	}

	s.mu.Lock()
	s.calls = append(s.calls, msg.ID)
	s.targets = append(s.targets, target)
	s.mu.Unlock()

	if res, ok := s.outcomes[msg.ID]; ok {
		res.MessageID = msg.ID
		return res
	}
	if ctx.Err() != nil {
		return media.Result{MessageID: msg.ID, Outcome: media.OutcomeFailed, Err: ctx.Err()}
	}
	return media.Result{MessageID: msg.ID, Outcome: media.OutcomeSent}
}

func (s *scriptedRelayer) called() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.calls...)
}

// fakeRemote is a minimal service for running the real relay.
type fakeRemote struct {
	mu sync.Mutex

	content map[*telegram.Attachment][]byte

	downloads int
	uploads   int
	texts     []string
	media     []telegram.Outgoing
}

func (f *fakeRemote) Upload(_ context.Context, r io.Reader, size int64, name string, _ int) (*telegram.InputFile, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	return &telegram.InputFile{File: &tg.InputFile{Name: name}, Name: name, Size: size}, nil
}

func (f *fakeRemote) GetMessage(context.Context, telegram.Peer, int) (*telegram.Message, error) {
	return nil, telegram.ErrMessageNotFound
}

func (f *fakeRemote) Download(_ context.Context, att *telegram.Attachment, w io.Writer) error {
	f.mu.Lock()
	f.downloads++
	data := f.content[att]
	f.mu.Unlock()
	_, err := w.Write(data)
	return err
}

func (f *fakeRemote) DownloadThumb(context.Context, *telegram.Attachment, io.Writer) error {
	return nil
}

func (f *fakeRemote) SendText(_ context.Context, _ telegram.Peer, text string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeRemote) SendMedia(_ context.Context, _ telegram.Peer, out telegram.Outgoing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media = append(f.media, out)
	return nil
}
