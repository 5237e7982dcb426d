package archive

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/gotd/td/tg"

	"github.com/blockedby/teleclone/internal/logger"
	"github.com/blockedby/teleclone/internal/telegram"
)

var group = telegram.Peer{ID: 1234, Kind: telegram.PeerChannel, Title: "Book Club", Username: "bookclub"}

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

type sentMedia struct {
	out  telegram.Outgoing
	data []byte
}

// fakeRemote serves history and files, and records what is sent.
type fakeRemote struct {
	mu sync.Mutex

	messages     []telegram.Message
	serviceIDs   []int // paged by the server but never parsed
	content      map[*telegram.Attachment][]byte
	downloadErrs map[*telegram.Attachment]error
	refreshed    map[int]telegram.Message // GetMessage answers, by id
	sendErr      error

	downloaded []*telegram.Attachment
	uploaded   map[string][]byte
	texts      []string
	replyTo    []int
	sent       []sentMedia
}

func (f *fakeRemote) History(_ context.Context, _ telegram.Peer, q telegram.HistoryQuery) (telegram.HistoryPage, error) {
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
		if n++; n == q.Limit {
			break
		}
	}
	return page, nil
}

func (f *fakeRemote) GetMessage(_ context.Context, _ telegram.Peer, id int) (*telegram.Message, error) {
	if m, ok := f.refreshed[id]; ok {
		return &m, nil
	}
	for _, m := range f.messages {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, telegram.ErrMessageNotFound
}

func (f *fakeRemote) Download(_ context.Context, att *telegram.Attachment, w io.Writer) error {
	f.mu.Lock()
	f.downloaded = append(f.downloaded, att)
	err := f.downloadErrs[att]
	delete(f.downloadErrs, att) // each error is returned once
	data := f.content[att]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	_, werr := w.Write(data)
	return werr
}

func (f *fakeRemote) Upload(_ context.Context, r io.Reader, size int64, name string, _ int) (*telegram.InputFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploaded == nil {
		f.uploaded = make(map[string][]byte)
	}
	f.uploaded[name] = data
	return &telegram.InputFile{File: &tg.InputFile{Name: name}, Name: name, Size: size}, nil
}

func (f *fakeRemote) SendText(_ context.Context, _ telegram.Peer, text string, replyTo int) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.texts = append(f.texts, text)
	f.replyTo = append(f.replyTo, replyTo)
	return nil
}

func (f *fakeRemote) SendMedia(_ context.Context, _ telegram.Peer, out telegram.Outgoing) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMedia{out: out, data: f.uploaded[out.FileName]})
	f.replyTo = append(f.replyTo, out.ReplyTo)
	return nil
}
