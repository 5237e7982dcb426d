package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/blockedby/teleclone/internal/checkpoint"
	"github.com/blockedby/teleclone/internal/logger"
	"github.com/blockedby/teleclone/internal/media"
	"github.com/blockedby/teleclone/internal/telegram"
)

// DefaultWorkers is the number of parallel downloads.
const DefaultWorkers = 5

// maxNameLen caps sanitized directory and file names.
const maxNameLen = 150

const partSuffix = ".part"

// ErrInvalidStart is returned when the chosen start is outside 1..total.
var ErrInvalidStart = errors.New("start sequence out of range")

// Remote is what an export reads from the service.
type Remote interface {
	History(ctx context.Context, peer telegram.Peer, q telegram.HistoryQuery) (telegram.HistoryPage, error)
	GetMessage(ctx context.Context, peer telegram.Peer, id int) (*telegram.Message, error)
	Download(ctx context.Context, att *telegram.Attachment, w io.Writer) error
}

// Resume tells a start chooser where the previous export stopped.
type Resume struct {
	Seq      int    // last sequence with its file on disk
	FileName string // that file, as named under media/
	Total    int
}

// ExportOptions tunes one export.
type ExportOptions struct {
	// Budget caps the bytes written across all runs of this directory;
	// 0 = unlimited.
	Budget int64
	// MaxFileSize skips larger attachments; 0 = no cap.
	MaxFileSize int64
	Workers     int
	// ChooseStart returns the first sequence to download when a previous
	// run exists. nil continues right after it.
	ChooseStart func(Resume) (int, error)
	// HTMLOnly rebuilds the manifest without downloading.
	HTMLOnly bool
	// Progress, if set, observes every selected file.
	Progress DownloadProgress
}

// DownloadProgress observes export downloads. Calls for different files
// may run concurrently.
type DownloadProgress interface {
	OnAdd(name string, size int64)
	// OnDownload reports the bytes written so far; a retried download
	// starts again from 0.
	OnDownload(name string, written int64)
	OnDone(name string, err error)
}

// ExportResult summarizes one export.
type ExportResult struct {
	Dir        string
	Total      int // messages in the manifest
	Start      int
	Selected   int // files queued for download
	Downloaded int
	Failed     int
	Skipped    int // over the per-file cap or the budget
	Bytes      int64
}

// Exporter writes conversations to archive directories under root.
type Exporter struct {
	remote Remote
	flood  *telegram.FloodPolicy
	fs     afero.Fs
	root   string
	log    *logger.Logger
}

// NewExporter creates an exporter. fs may be nil for the OS filesystem.
func NewExporter(remote Remote, flood *telegram.FloodPolicy, fs afero.Fs, root string, log *logger.Logger) *Exporter {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = logger.Get()
	}
	if flood == nil {
		flood = telegram.NewFloodPolicy(telegram.DefaultFloodWait, log)
	}
	return &Exporter{remote: remote, flood: flood, fs: fs, root: root, log: log}
}

// Dir returns the archive directory of a conversation topic.
func (e *Exporter) Dir(conv telegram.Peer, topic telegram.Topic) string {
	return filepath.Join(e.root, media.Sanitize(conv.DisplayName(), maxNameLen), media.Sanitize(topic.Title, maxNameLen))
}

type entry struct {
	seq  int
	msg  telegram.Message
	file string // media/ name; empty without attachment
}

// Export downloads the topic's attachments and rebuilds chat.html.
func (e *Exporter) Export(ctx context.Context, conv telegram.Peer, topic telegram.Topic, opts ExportOptions) (ExportResult, error) {
	dir := e.Dir(conv, topic)
	res := ExportResult{Dir: dir, Start: 1}

	if err := e.fs.MkdirAll(filepath.Join(dir, MediaDir), 0o755); err != nil {
		return res, fmt.Errorf("create archive dir: %w", err)
	}

	msgs, err := e.collect(ctx, conv, topic.ID)
	if err != nil {
		return res, err
	}
	entries := numbered(msgs)
	res.Total = len(entries)

	e.log.Info().
		Str("dir", dir).
		Int("messages", res.Total).
		Bool("html_only", opts.HTMLOnly).
		Msg("archive: export started")

	var derr error
	if !opts.HTMLOnly {
		derr = e.download(ctx, conv, entries, opts, &res)
		if errors.Is(derr, ErrInvalidStart) {
			return res, derr
		}
	}

	// an interrupted download still leaves a manifest of what is on disk
	if err := e.writeManifest(dir, conv, topic.Title, entries); err != nil {
		return res, err
	}
	if derr != nil {
		return res, derr
	}

	e.log.Info().
		Str("dir", dir).
		Int("downloaded", res.Downloaded).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Str("bytes", humanize.Bytes(uint64(res.Bytes))).
		Msg("archive: export finished")
	return res, nil
}

func (e *Exporter) collect(ctx context.Context, conv telegram.Peer, topicID int) ([]telegram.Message, error) {
	var out []telegram.Message
	after := 0
	for {
		var page telegram.HistoryPage
		err := e.flood.Do(ctx, "history", func(ctx context.Context) (err error) {
			page, err = e.remote.History(ctx, conv, telegram.HistoryQuery{TopicID: topicID, AfterID: after, Limit: 100})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("collect messages: %w", err)
		}

		for _, m := range page.Messages {
			if m.ID > after {
				out = append(out, m)
			}
		}
		if page.Cursor <= after {
			return out, nil
		}
		after = page.Cursor
	}
}

// numbered assigns sequences 1..N and media file names padded to the
// width of N.
func numbered(msgs []telegram.Message) []entry {
	pad := len(strconv.Itoa(len(msgs)))
	out := make([]entry, len(msgs))
	for i, m := range msgs {
		out[i] = entry{seq: i + 1, msg: m}
		if m.HasMedia() {
			out[i].file = MediaName(i+1, pad, m.Media)
		}
	}
	return out
}

// MediaName is the archive file name of an attachment: the zero-padded
// sequence, "_", and the sanitized original name or "media<ext>".
func MediaName(seq, pad int, att *telegram.Attachment) string {
	name := att.FileName
	if name == "" {
		name = att.Name
	}
	if name != "" {
		name = media.Sanitize(name, maxNameLen)
	} else {
		ext := att.Ext
		if ext == "" {
			ext = ".bin"
			if media.Classify(att) == media.KindVideo {
				ext = ".mp4"
			}
		}
		name = "media" + ext
	}
	return fmt.Sprintf("%0*d_%s", pad, seq, name)
}

func (e *Exporter) download(ctx context.Context, conv telegram.Peer, entries []entry, opts ExportOptions, res *ExportResult) error {
	dir := res.Dir
	ck := checkpoint.LoadArchive(e.fs, dir, e.log)

	last := 0
	for _, en := range entries {
		if ck.Done(en.msg.ID) {
			last = en.seq
		}
	}
	if last > 0 {
		start := last + 1
		if opts.ChooseStart != nil {
			s, err := opts.ChooseStart(Resume{Seq: last, FileName: entries[last-1].file, Total: len(entries)})
			if err != nil {
				return err
			}
			if s < 1 || s > len(entries)+1 {
				return fmt.Errorf("%w: %d not in 1..%d", ErrInvalidStart, s, len(entries))
			}
			start = s
		}
		res.Start = start
	}

	var pending []entry
	for _, en := range entries {
		switch {
		case en.seq < res.Start || en.file == "" || ck.Done(en.msg.ID):
			continue
		case en.msg.Media.SelfDestructing():
			res.Skipped++
			continue
		case opts.MaxFileSize > 0 && en.msg.Media.Size > opts.MaxFileSize:
			res.Skipped++
			continue
		}
		pending = append(pending, en)
	}

	if opts.Budget > 0 {
		remain := opts.Budget - ck.Bytes()
		var acc int64
		for i, en := range pending {
			if acc+en.msg.Media.Size > remain {
				res.Skipped += len(pending) - i
				pending = pending[:i]
				break
			}
			acc += en.msg.Media.Size
		}
	}
	res.Selected = len(pending)
	if len(pending) == 0 {
		e.log.Info().Str("dir", dir).Msg("archive: nothing to download")
		return nil
	}

	var total int64
	for _, en := range pending {
		total += en.msg.Media.Size
	}
	e.log.Info().
		Int("files", len(pending)).
		Str("size", humanize.Bytes(uint64(total))).
		Msg("archive: downloading")

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	type done struct {
		size int64
		err  error
	}
	results := make([]done, len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, en := range pending {
		g.Go(func() error {
			var report func(int64)
			if opts.Progress != nil {
				opts.Progress.OnAdd(en.file, en.msg.Media.Size)
				report = func(n int64) { opts.Progress.OnDownload(en.file, n) }
			}

			path := filepath.Join(dir, MediaDir, en.file)
			size, err := e.fetch(gctx, conv, en.msg, path, report)
			results[i] = done{size: size, err: err}
			if opts.Progress != nil {
				opts.Progress.OnDone(en.file, err)
			}
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.log.Error().Err(err).Str("file", en.file).Msg("archive: download failed")
				return nil
			}
			ck.MarkDone(en.msg.ID, size)
			e.log.Debug().Str("file", en.file).Str("size", humanize.Bytes(uint64(size))).Msg("archive: file saved")
			return nil
		})
	}
	werr := g.Wait()

	for _, d := range results {
		switch {
		case d.err != nil:
			res.Failed++
		case d.size > 0:
			res.Downloaded++
			res.Bytes += d.size
		}
	}
	return werr
}

// fetch downloads one attachment to path through a temp file, refreshing
// an expired reference once. report, if set, sees the bytes written.
func (e *Exporter) fetch(ctx context.Context, conv telegram.Peer, msg telegram.Message, path string, report func(int64)) (int64, error) {
	tmp := path + partSuffix
	defer func() { _ = e.fs.Remove(tmp) }()

	get := func(att *telegram.Attachment) error {
		return e.flood.Do(ctx, "download", func(ctx context.Context) error {
			f, err := e.fs.Create(tmp)
			if err != nil {
				return err
			}
			var w io.Writer = f
			if report != nil {
				report(0)
				w = &countingWriter{w: f, report: report}
			}
			derr := e.remote.Download(ctx, att, w)
			if cerr := f.Close(); derr == nil {
				derr = cerr
			}
			return derr
		})
	}

	err := get(msg.Media)
	if err != nil && telegram.IsFileReferenceExpired(err) {
		var fresh *telegram.Message
		ferr := e.flood.Do(ctx, "get_message", func(ctx context.Context) (err error) {
			fresh, err = e.remote.GetMessage(ctx, conv, msg.ID)
			return err
		})
		if ferr != nil {
			return 0, fmt.Errorf("refresh reference: %w", ferr)
		}
		if !fresh.HasMedia() {
			return 0, fmt.Errorf("refresh reference: %w", telegram.ErrMessageNotFound)
		}
		err = get(fresh.Media)
	}
	if err != nil {
		return 0, err
	}

	fi, err := e.fs.Stat(tmp)
	if err != nil {
		return 0, err
	}
	if fi.Size() == 0 {
		return 0, media.ErrEmptyDownload
	}
	if err := e.fs.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}
	return fi.Size(), nil
}

// writeManifest rebuilds chat.html from every message, linking the files
// present under media/.
func (e *Exporter) writeManifest(dir string, conv telegram.Peer, title string, entries []entry) error {
	blocks := make([]Block, len(entries))
	for i, en := range entries {
		m := en.msg
		b := Block{
			Sender:    m.SenderName,
			Text:      m.Text,
			Out:       m.Out,
			HasMedia:  en.file != "",
			Permalink: conv.Permalink(m.ID),
			Date:      m.Date,
		}
		if en.file != "" && e.exists(filepath.Join(dir, MediaDir, en.file)) {
			b.File = en.file
			b.Image = media.IsImageExt(filepath.Ext(en.file))
		}
		blocks[i] = b
	}

	var buf bytes.Buffer
	if err := WriteManifest(&buf, title, blocks); err != nil {
		return err
	}
	if err := checkpoint.WriteAtomic(e.fs, filepath.Join(dir, ManifestFile), buf.Bytes()); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func (e *Exporter) exists(path string) bool {
	fi, err := e.fs.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			e.log.Warn().Err(err).Str("path", path).Msg("archive: cannot stat media file")
		}
		return false
	}
	return !fi.IsDir()
}

type countingWriter struct {
	w      io.Writer
	n      int64
	report func(int64)
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.report(c.n)
	return n, err
}
