package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"github.com/blockedby/teleclone/internal/logger"
	"github.com/blockedby/teleclone/internal/spool"
	"github.com/blockedby/teleclone/internal/telegram"
)

// Remote is the subset of the service the relay talks to.
type Remote interface {
	Uploader
	GetMessage(ctx context.Context, peer telegram.Peer, id int) (*telegram.Message, error)
	Download(ctx context.Context, att *telegram.Attachment, w io.Writer) error
	DownloadThumb(ctx context.Context, att *telegram.Attachment, w io.Writer) error
	SendText(ctx context.Context, dst telegram.Peer, text string, replyTo int) error
	SendMedia(ctx context.Context, dst telegram.Peer, out telegram.Outgoing) error
}

// Outcome is the result class of relaying one message.
type Outcome int

// Relay outcomes.
const (
	OutcomeSent Outcome = iota
	OutcomeSkippedEmpty
	OutcomeSkippedTTL
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeSkippedEmpty:
		return "skipped-empty"
	case OutcomeSkippedTTL:
		return "skipped-ttl"
	default:
		return "failed"
	}
}

// ErrEmptyDownload is reported when the media downloaded to zero bytes.
var ErrEmptyDownload = errors.New("media unavailable: empty download")

// Target is where a message is relayed to.
type Target struct {
	Peer         telegram.Peer
	TopicID      int // 0 = no thread
	StripCaption bool
}

// Result is the typed outcome of one relay.
type Result struct {
	MessageID int
	Outcome   Outcome
	Kind      Kind
	FileName  string
	Bytes     int64
	Err       error
}

// Options configures a Relayer.
type Options struct {
	Upload         UploadConfig
	SpoolFs        afero.Fs
	SpoolDir       string
	SpoolThreshold int64
}

// Relayer copies one message at a time from a source to a target.
// It is safe for concurrent use; every call gets its own spool.
type Relayer struct {
	remote Remote
	flood  *telegram.FloodPolicy
	opts   Options
	log    *logger.Logger
}

// NewRelayer creates a relayer.
func NewRelayer(remote Remote, flood *telegram.FloodPolicy, opts Options, log *logger.Logger) *Relayer {
	if log == nil {
		log = logger.Get()
	}
	if flood == nil {
		flood = telegram.NewFloodPolicy(telegram.DefaultFloodWait, log)
	}
	if opts.Upload.PartSize == 0 {
		opts.Upload = DefaultUploadConfig()
	}
	return &Relayer{remote: remote, flood: flood, opts: opts, log: log}
}

// Relay sends msg from src to target. Only a flood wait is retried; every
// other failure is returned as OutcomeFailed.
func (r *Relayer) Relay(ctx context.Context, src telegram.Peer, msg telegram.Message, target Target) Result {
	res := Result{MessageID: msg.ID, Kind: Classify(msg.Media)}

	caption := msg.Text
	if target.StripCaption && msg.HasMedia() {
		caption = ""
	}

	switch {
	case msg.IsEmpty():
		res.Outcome = OutcomeSkippedEmpty
		return res
	case msg.Media.SelfDestructing():
		r.log.Info().Int("msg_id", msg.ID).Int("ttl", msg.Media.TTL).Msg("media: self-destructing media, skipped")
		res.Outcome = OutcomeSkippedTTL
		return res
	case !msg.HasMedia():
		err := r.flood.Do(ctx, "send_text", func(ctx context.Context) error {
			return r.remote.SendText(ctx, target.Peer, caption, target.TopicID)
		})
		return r.finish(res, err)
	}

	buf := spool.New(r.opts.SpoolFs, r.opts.SpoolDir, r.opts.SpoolThreshold)
	defer func() {
		if err := buf.Close(); err != nil {
			r.log.Warn().Err(err).Msg("media: failed to release spool")
		}
	}()

	att, err := r.download(ctx, src, msg, buf)
	if err != nil {
		return r.finish(res, err)
	}
	res.Bytes = buf.Size()
	res.Kind = Classify(att)

	sniffed := ""
	if att.Ext == "" && res.Kind != KindVideo {
		sniffed = r.sniff(buf)
	}
	res.FileName = FileName(msg.ID, att, res.Kind, sniffed)

	file, err := Upload(ctx, r.remote, r.flood, buf, res.FileName, r.opts.Upload, r.log)
	if err != nil {
		return r.finish(res, err)
	}

	out := telegram.Outgoing{
		File:     file,
		Photo:    res.Kind == KindPhoto,
		MIME:     att.MIME,
		FileName: res.FileName,
		Caption:  caption,
		Audio:    att.Audio,
		ReplyTo:  target.TopicID,
	}
	if res.Kind == KindVideo {
		out.Streaming = true
		out.Video = att.Video
		if out.Video == nil {
			out.Video = &telegram.VideoMeta{}
		}
		if out.MIME == "" || out.MIME == "application/octet-stream" {
			out.MIME = "video/mp4"
		}
		out.Thumb = r.thumbnail(ctx, att)
	}

	err = r.flood.Do(ctx, "send_media", func(ctx context.Context) error {
		return r.remote.SendMedia(ctx, target.Peer, out)
	})
	return r.finish(res, err)
}

func (r *Relayer) finish(res Result, err error) Result {
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		r.log.Error().Err(err).Int("msg_id", res.MessageID).Str("kind", res.Kind.String()).Msg("media: relay failed, skipping message")
		return res
	}

	res.Outcome = OutcomeSent
	ev := r.log.Debug().Int("msg_id", res.MessageID).Str("kind", res.Kind.String())
	if res.Bytes > 0 {
		ev = ev.Str("size", humanize.Bytes(uint64(res.Bytes))).Str("file", res.FileName)
	}
	ev.Msg("media: relayed")
	return res
}

// download fills buf, refreshing the media reference once when the
// service reports it as expired. It returns the attachment actually used.
func (r *Relayer) download(ctx context.Context, src telegram.Peer, msg telegram.Message, buf *spool.Buffer) (*telegram.Attachment, error) {
	att := msg.Media

	fetch := func(att *telegram.Attachment) error {
		return r.flood.Do(ctx, "download", func(ctx context.Context) error {
			if err := buf.Reset(); err != nil {
				return err
			}
			return r.remote.Download(ctx, att, buf)
		})
	}

	err := fetch(att)
	if err != nil && telegram.IsFileReferenceExpired(err) {
		r.log.Info().Int("msg_id", msg.ID).Msg("media: file reference expired, refetching message")

		var fresh *telegram.Message
		ferr := r.flood.Do(ctx, "get_message", func(ctx context.Context) (err error) {
			fresh, err = r.remote.GetMessage(ctx, src, msg.ID)
			return err
		})
		if ferr != nil {
			return nil, fmt.Errorf("refresh reference: %w", ferr)
		}
		if !fresh.HasMedia() {
			return nil, fmt.Errorf("refresh reference: %w", telegram.ErrMessageNotFound)
		}
		att = fresh.Media
		err = fetch(att)
	}
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if buf.Size() == 0 {
		return nil, ErrEmptyDownload
	}
	return att, nil
}

// sniff detects an extension from the spooled content.
func (r *Relayer) sniff(buf *spool.Buffer) string {
	rd, err := buf.Reader()
	if err != nil {
		return ""
	}
	m, err := mimetype.DetectReader(rd)
	if err != nil || m == nil {
		return ""
	}
	return m.Extension()
}

// thumbnail uploads the video preview. Failure only costs the preview.
func (r *Relayer) thumbnail(ctx context.Context, att *telegram.Attachment) *telegram.InputFile {
	if !att.HasThumb {
		return nil
	}

	var thumb bytes.Buffer
	err := r.flood.Do(ctx, "download_thumb", func(ctx context.Context) error {
		thumb.Reset()
		return r.remote.DownloadThumb(ctx, att, &thumb)
	})
	if err != nil || thumb.Len() == 0 {
		r.log.Debug().Err(err).Msg("media: no thumbnail, sending video without preview")
		return nil
	}

	data := thumb.Bytes()
	var file *telegram.InputFile
	err = r.flood.Do(ctx, "upload_thumb", func(ctx context.Context) (err error) {
		file, err = r.remote.Upload(ctx, bytes.NewReader(data), int64(len(data)), "thumb.jpg", r.opts.Upload.PartSize)
		return err
	})
	if err != nil {
		r.log.Debug().Err(err).Msg("media: thumbnail upload failed, sending video without preview")
		return nil
	}
	return file
}
