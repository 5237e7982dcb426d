package media

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gotd/td/tg"

	"github.com/blockedby/teleclone/internal/logger"
	"github.com/blockedby/teleclone/internal/telegram"
)

type uploadCall struct {
	name     string
	size     int64
	partSize int
	data     []byte
}

// fakeRemote records every call; hooks inject failures.
type fakeRemote struct {
	mu sync.Mutex

	content map[*telegram.Attachment][]byte
	thumb   []byte

	downloadErrs []error // consumed one per download call
	uploadErrs   []error // consumed one per upload call
	sendErr      error
	refreshed    *telegram.Message

	downloads   int
	thumbs      int
	uploads     []uploadCall
	media       []telegram.Outgoing
	texts       []string
	replyTo     []int
	getMessages []int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{content: make(map[*telegram.Attachment][]byte)}
}

func (f *fakeRemote) GetMessage(_ context.Context, _ telegram.Peer, id int) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getMessages = append(f.getMessages, id)
	if f.refreshed == nil {
		return nil, telegram.ErrMessageNotFound
	}
	return f.refreshed, nil
}

func (f *fakeRemote) Download(_ context.Context, att *telegram.Attachment, w io.Writer) error {
	f.mu.Lock()
	f.downloads++
	var err error
	if len(f.downloadErrs) > 0 {
		err, f.downloadErrs = f.downloadErrs[0], f.downloadErrs[1:]
	}
	data := f.content[att]
	f.mu.Unlock()

	if err != nil {
		return err
	}
	_, werr := w.Write(data)
	return werr
}

func (f *fakeRemote) DownloadThumb(_ context.Context, _ *telegram.Attachment, w io.Writer) error {
	f.mu.Lock()
	f.thumbs++
	data := f.thumb
	f.mu.Unlock()
	_, err := w.Write(data)
	return err
}

func (f *fakeRemote) Upload(_ context.Context, r io.Reader, size int64, name string, partSize int) (*telegram.InputFile, error) {
	data, rerr := io.ReadAll(r)
	if rerr != nil {
		return nil, rerr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, uploadCall{name: name, size: size, partSize: partSize, data: data})
	if len(f.uploadErrs) > 0 {
		err := f.uploadErrs[0]
		f.uploadErrs = f.uploadErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &telegram.InputFile{File: &tg.InputFile{Name: name}, Name: name, Size: size}, nil
}

func (f *fakeRemote) SendText(_ context.Context, _ telegram.Peer, text string, replyTo int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.texts = append(f.texts, text)
	f.replyTo = append(f.replyTo, replyTo)
	return nil
}

func (f *fakeRemote) SendMedia(_ context.Context, _ telegram.Peer, out telegram.Outgoing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.media = append(f.media, out)
	f.replyTo = append(f.replyTo, out.ReplyTo)
	return nil
}

func (f *fakeRemote) remoteCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads + f.thumbs + len(f.uploads) + len(f.media) + len(f.texts) + len(f.getMessages)
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return nil
}

func newTestFlood() (*telegram.FloodPolicy, *sleepRecorder) {
	rec := &sleepRecorder{}
	p := telegram.NewFloodPolicy(telegram.DefaultFloodWait, logger.Nop())
	p.Sleep = rec.sleep
	return p, rec
}
